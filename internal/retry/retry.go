package retry

import (
	"context"
	"log/slog"
	"time"
)

// Caller wraps a single outbound remote call with bounded
// exponential-backoff retry. The zero value is not usable; construct with
// New. Delays double from BaseDelay on each failed attempt and are capped
// at MaxDelay.
type Caller struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// New returns a Caller with the given attempt cap and backoff window.
func New(maxAttempts int, baseDelay, maxDelay time.Duration) *Caller {
	return &Caller{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
	}
}

// Do runs op until it succeeds, returns a permanent error, or the attempt
// cap is reached. The wrapped operation must be idempotent or otherwise
// safe to re-issue. On exhaustion the last observed error is returned
// wrapped in an AttemptsError carrying the attempt count.
func (c *Caller) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if c.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		// Check context before attempting
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}

		// Malformed input and other non-retriable failures bypass backoff
		if IsPermanent(lastErr) {
			return lastErr
		}

		slog.Debug("operation failed, will retry",
			"attempt", attempt, "maxAttempts", c.MaxAttempts, "error", lastErr)

		if attempt == c.MaxAttempts {
			break
		}

		if err := c.sleep(ctx, c.delay(attempt)); err != nil {
			return err
		}
	}

	return &AttemptsError{Attempts: c.MaxAttempts, Err: lastErr}
}

// delay computes the backoff before the attempt following attempt n:
// BaseDelay * 2^(n-1), capped at MaxDelay.
func (c *Caller) delay(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if c.MaxDelay > 0 && d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

func (c *Caller) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
