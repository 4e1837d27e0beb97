package ai

import (
	"context"
	"errors"
	"os"
	"testing"

	"image-search-platform/internal/config"
	"image-search-platform/internal/retry"
)

func liveClient(t *testing.T) *VisionClient {
	t.Helper()
	if os.Getenv("GEMINI_API_KEY") == "" {
		t.Skip("GEMINI_API_KEY not set")
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Skipf("config load failed: %v", err)
	}
	vc, err := NewVisionClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("client init failed: %v", err)
	}
	t.Cleanup(func() { vc.Close() })
	return vc
}

func TestEmbedLive(t *testing.T) {
	vc := liveClient(t)
	vec, err := vc.Embed(context.Background(), "a red bicycle leaning against a brick wall")
	if err != nil {
		t.Fatalf("embedding error: %v", err)
	}
	if len(vec) != vc.Dimensions() {
		t.Fatalf("expected %d dimensions, got %d", vc.Dimensions(), len(vec))
	}
}

func TestDescribeEmptyImageFailsFast(t *testing.T) {
	vc := &VisionClient{retrier: retry.New(3, 0, 0)}
	_, err := vc.Describe(context.Background(), nil)
	if !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
	if !retry.IsPermanent(err) {
		t.Fatalf("empty payload must not be retried")
	}
}

func TestExplainDegradesToFallback(t *testing.T) {
	// No data at all: Explain must produce the generic sentence, never an error.
	vc := &VisionClient{retrier: retry.New(1, 0, 0)}
	got := vc.Explain(context.Background(), nil, nil)
	if got != FallbackExplanation {
		t.Fatalf("expected fallback sentence, got %q", got)
	}
}
