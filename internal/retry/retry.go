// Package retry provides bounded exponential backoff for object-store
// uploads. Intentionally minimal: a doubling delay
// with a cap covers every retryable call this pipeline makes.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Policy controls retry attempts and backoff timing.
type Policy struct {
	MaxAttempts int           // total attempts including the first; 1 = no retry
	BaseDelay   time.Duration // delay before the first retry, doubled each attempt
	MaxDelay    time.Duration // cap on a single delay; 0 = uncapped
	Logger      *slog.Logger  // optional; nil disables retry logging
}

// DefaultPolicy is a sane default for network calls: 4 attempts, starting
// at 200ms and doubling up to a 5s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Retryable is implemented by errors that explicitly opt in or out of retry.
// Errors that do not implement it are treated as retryable.
type Retryable interface {
	Retryable() bool
}

// Do runs fn, retrying on error per the policy. It returns the last error
// if all attempts fail, or earlier if ctx is cancelled or fn returns a
// non-retryable error.
func Do(ctx context.Context, policy Policy, op string, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	delay := policy.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry: %s: context cancelled: %w", op, err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if r, ok := lastErr.(Retryable); ok && !r.Retryable() {
			return lastErr
		}

		if attempt == policy.MaxAttempts {
			break
		}

		wait := delay
		if policy.MaxDelay > 0 && wait > policy.MaxDelay {
			wait = policy.MaxDelay
		}
		if policy.Logger != nil {
			policy.Logger.WarnContext(ctx, "retrying after failure",
				"op", op, "attempt", attempt, "max_attempts", policy.MaxAttempts,
				"wait_ms", wait.Milliseconds(), "error", lastErr)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry: %s: context cancelled during backoff: %w", op, ctx.Err())
		case <-timer.C:
		}
		delay *= 2
	}
	return fmt.Errorf("retry: %s: exhausted %d attempts: %w", op, policy.MaxAttempts, lastErr)
}
