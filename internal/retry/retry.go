// Package retry provides bounded retry with exponential backoff for
// transient failures. Only errors the policy classifies as retryable
// trigger another attempt; everything else fails fast.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy controls attempt count, backoff shape, and error classification.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration
	// Multiplier scales the delay after each failed attempt.
	Multiplier float64
	// Retryable decides whether an error is worth another attempt.
	// A nil Retryable retries everything.
	Retryable func(error) bool
}

// DefaultPolicy matches the sync queue's bounded-retry contract:
// three attempts with exponential backoff.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
		Retryable:   retryable,
	}
}

// Do runs fn until it succeeds, exhausts the policy's attempts, fails
// with a non-retryable error, or the context is cancelled. The last
// error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay = time.Duration(float64(delay) * p.Multiplier)
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}
