package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestCounter      metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	ImagesIndexed       metric.Int64Counter
	ImagesFailed        metric.Int64Counter
	BatchDuration       metric.Float64Histogram
	EmbeddingDuration   metric.Float64Histogram
	SearchesPerformed   metric.Int64Counter
	CircuitBreakerState metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("image-search-platform")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	imagesIndexed, err := meter.Int64Counter(
		"index.images.total",
		metric.WithDescription("Total images published to the vector index"),
	)
	if err != nil {
		return nil, err
	}

	imagesFailed, err := meter.Int64Counter(
		"index.images.failed",
		metric.WithDescription("Total images that failed ingestion"),
	)
	if err != nil {
		return nil, err
	}

	batchDuration, err := meter.Float64Histogram(
		"index.batch.duration",
		metric.WithDescription("Batch processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	embeddingDuration, err := meter.Float64Histogram(
		"gemini.embedding.duration",
		metric.WithDescription("Vector derivation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	searchesPerformed, err := meter.Int64Counter(
		"search.queries.total",
		metric.WithDescription("Total similarity searches performed"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerState, err := meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:      requestCounter,
		RequestDuration:     requestDuration,
		ImagesIndexed:       imagesIndexed,
		ImagesFailed:        imagesFailed,
		BatchDuration:       batchDuration,
		EmbeddingDuration:   embeddingDuration,
		SearchesPerformed:   searchesPerformed,
		CircuitBreakerState: circuitBreakerState,
	}, nil
}

// RecordRequest records an HTTP request metric with standard attributes
func (m *Metrics) RecordRequest(ctx context.Context, method, route string, status int, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)
	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, seconds, attrs)
}
