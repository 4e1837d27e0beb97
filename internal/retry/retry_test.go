package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSucceedsAfterTwoFailures(t *testing.T) {
	c := New(3, time.Millisecond, 4*time.Millisecond)

	attempts := 0
	err := c.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExhaustsAttemptCap(t *testing.T) {
	c := New(3, 10*time.Millisecond, 25*time.Millisecond)

	attempts := 0
	boom := errors.New("boom")
	start := time.Now()
	err := c.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return boom
	})
	elapsed := time.Since(start)

	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	var ae *AttemptsError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AttemptsError, got %v", err)
	}
	if ae.Attempts != 3 {
		t.Fatalf("expected attempt count 3, got %d", ae.Attempts)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
	// Two sleeps: 10ms + 20ms
	if elapsed < 30*time.Millisecond {
		t.Fatalf("expected cumulative backoff >= 30ms, got %v", elapsed)
	}
}

func TestPermanentErrorFailsImmediately(t *testing.T) {
	c := New(3, time.Second, 10*time.Second)

	attempts := 0
	start := time.Now()
	err := c.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return Permanent(errors.New("empty payload"))
	})
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("permanent error should not back off")
	}
}

func TestDelayDoublingCappedAtMax(t *testing.T) {
	c := New(5, 4*time.Second, 10*time.Second)

	want := []time.Duration{4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := c.delay(i + 1); got != w {
			t.Fatalf("delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestContextCancellationStopsRetry(t *testing.T) {
	c := New(3, 50*time.Millisecond, 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := c.Do(ctx, func(ctx context.Context) error {
		attempts++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected retry loop to stop after first attempt, got %d", attempts)
	}
}

func TestInvalidMaxAttempts(t *testing.T) {
	c := New(0, time.Millisecond, time.Millisecond)
	err := c.Do(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrInvalidMaxAttempts) {
		t.Fatalf("expected ErrInvalidMaxAttempts, got %v", err)
	}
}
