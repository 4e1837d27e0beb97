package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"image-search-platform/internal/config"
	"image-search-platform/internal/retry"
	"image-search-platform/internal/telemetry"
)

// ErrEmptyImage is returned for a zero-length payload before any network
// call is made.
var ErrEmptyImage = errors.New("empty image payload")

// FallbackExplanation is returned by Explain whenever the remote comparison
// fails. Explanation is best-effort and never blocks a search response.
const FallbackExplanation = "Both images share similar visual characteristics and composition."

const describePrompt = "Generate a detailed description of this image that captures its visual elements, objects, colors, composition, and style."

const comparePrompt = "Compare these two images and explain why they are visually similar in 1 short sentence. Focus on the most obvious visual similarity like objects, colors, or composition."

// VisionClient derives embedding vectors for images via two chained Gemini
// calls: a multimodal description, then a text embedding. The only available
// embedding primitive here accepts text, not images, hence the indirection.
// Every remote call is individually retried and goes through a shared rate
// limiter and circuit breaker.
type VisionClient struct {
	client      *genai.Client
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
	retrier     *retry.Caller
	visionModel string
	embedModel  string
	dimensions  int
	callTimeout time.Duration
	metrics     *telemetry.Metrics
}

type RateLimits struct {
	RPM int // Requests per minute
	TPM int // Tokens per minute
	RPD int // Requests per day
}

func NewVisionClient(ctx context.Context, cfg *config.Config) (*VisionClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}

	limits := getRateLimits(cfg.GeminiTier)

	// RPM limit with some buffer
	rateLimiter := rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), limits.RPM/10)

	vc := &VisionClient{
		client:      client,
		rateLimiter: rateLimiter,
		retrier:     retry.New(cfg.RetryMaxAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		visionModel: cfg.VisionModel,
		embedModel:  cfg.EmbeddingsModel,
		dimensions:  cfg.VectorDimensions,
		callTimeout: cfg.EmbedTimeout,
	}

	vc.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s: %s -> %s", name, from, to)
			if vc.metrics != nil {
				vc.metrics.CircuitBreakerState.Add(context.Background(), 1,
					metric.WithAttributes(attribute.String("breaker.state", to.String())))
			}
		},
	})

	return vc, nil
}

// SetMetrics attaches application metrics. Safe to skip; all recording is
// nil-guarded.
func (vc *VisionClient) SetMetrics(m *telemetry.Metrics) {
	vc.metrics = m
}

func getRateLimits(tier string) RateLimits {
	switch tier {
	case "free":
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	case "tier1":
		return RateLimits{RPM: 1000, TPM: 1000000, RPD: 10000}
	case "tier2":
		return RateLimits{RPM: 2000, TPM: 4000000, RPD: 50000}
	default:
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	}
}

// Describe asks the multimodal model for a detailed textual description of
// the image.
func (vc *VisionClient) Describe(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", retry.Permanent(ErrEmptyImage)
	}

	tracer := otel.Tracer("vision-client")
	ctx, span := tracer.Start(ctx, "gemini.describe")
	defer span.End()
	span.SetAttributes(
		attribute.Int("gemini.image_bytes", len(image)),
		attribute.String("gemini.model", vc.visionModel),
	)

	var description string
	err := vc.retrier.Do(ctx, func(ctx context.Context) error {
		return vc.execute(ctx, func(ctx context.Context) error {
			model := vc.client.GenerativeModel(vc.visionModel)
			model.SetTemperature(0.1)
			model.SetMaxOutputTokens(300)

			resp, err := model.GenerateContent(ctx,
				genai.Text(describePrompt),
				genai.ImageData("jpeg", image),
			)
			if err != nil {
				return err
			}

			text := responseText(resp)
			if text == "" {
				return errors.New("no description returned")
			}
			description = text
			return nil
		})
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return "", err
	}

	return description, nil
}

// Embed returns the embedding vector for the given text.
func (vc *VisionClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, retry.Permanent(errors.New("empty embedding input"))
	}

	tracer := otel.Tracer("vision-client")
	ctx, span := tracer.Start(ctx, "gemini.embed")
	defer span.End()
	span.SetAttributes(attribute.String("gemini.model", vc.embedModel))

	var vector []float32
	err := vc.retrier.Do(ctx, func(ctx context.Context) error {
		return vc.execute(ctx, func(ctx context.Context) error {
			model := vc.client.EmbeddingModel(vc.embedModel)
			resp, err := model.EmbedContent(ctx, genai.Text(text))
			if err != nil {
				return err
			}
			if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
				return errors.New("no embedding returned")
			}
			vector = resp.Embedding.Values
			return nil
		})
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return nil, err
	}

	if len(vector) != vc.dimensions {
		return nil, retry.Permanent(fmt.Errorf(
			"embedding dimension %d does not match configured %d", len(vector), vc.dimensions))
	}

	span.SetAttributes(attribute.Int("gemini.vector_dim", len(vector)))
	return vector, nil
}

// DeriveVector produces the semantic vector for an image: describe the image,
// then embed the description.
func (vc *VisionClient) DeriveVector(ctx context.Context, image []byte) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, vc.callTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if vc.metrics != nil {
			vc.metrics.EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	description, err := vc.Describe(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("describe: %w", err)
	}

	vector, err := vc.Embed(ctx, description)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	return vector, nil
}

// Explain asks the multimodal model why two images are similar. On any remote
// failure it degrades to a fixed generic sentence instead of returning an
// error.
func (vc *VisionClient) Explain(ctx context.Context, query, match []byte) string {
	if len(query) == 0 || len(match) == 0 {
		return FallbackExplanation
	}

	tracer := otel.Tracer("vision-client")
	ctx, span := tracer.Start(ctx, "gemini.compare")
	defer span.End()

	var explanation string
	err := vc.retrier.Do(ctx, func(ctx context.Context) error {
		return vc.execute(ctx, func(ctx context.Context) error {
			model := vc.client.GenerativeModel(vc.visionModel)
			model.SetTemperature(0.3)
			model.SetMaxOutputTokens(50)

			resp, err := model.GenerateContent(ctx,
				genai.Text(comparePrompt),
				genai.ImageData("jpeg", query),
				genai.ImageData("jpeg", match),
			)
			if err != nil {
				return err
			}
			explanation = strings.TrimSpace(responseText(resp))
			return nil
		})
	})
	if err != nil || explanation == "" {
		span.SetAttributes(attribute.Bool("gemini.fallback", true))
		return FallbackExplanation
	}

	return explanation
}

// Dimensions reports the fixed output dimension of the embedding model.
func (vc *VisionClient) Dimensions() int {
	return vc.dimensions
}

// execute runs one attempt through the rate limiter and circuit breaker.
func (vc *VisionClient) execute(ctx context.Context, call func(ctx context.Context) error) error {
	if err := vc.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	_, err := vc.breaker.Execute(func() (interface{}, error) {
		return nil, call(ctx)
	})
	return err
}

// responseText concatenates all text parts of a generation response.
func responseText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
	}
	return b.String()
}

// Close releases the underlying API client.
func (vc *VisionClient) Close() error {
	if vc.client != nil {
		return vc.client.Close()
	}
	return nil
}
