// Package retry implements the exponential backoff loop the Executor wraps
// around the target Connect step: delay = min(base * factor^attempt, cap),
// monotonic-clock sleep as the only suspension point.
package retry

import (
	"context"
	"time"
)

// Policy describes one backoff schedule.
type Policy struct {
	Base       time.Duration
	Factor     float64
	Cap        time.Duration
	MaxAttempts int
}

// Delay returns the backoff delay before attempt (0-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.Base)
	for i := 0; i < attempt; i++ {
		d *= p.Factor
	}
	if d > float64(p.Cap) {
		d = float64(p.Cap)
	}
	return time.Duration(d)
}

// Do runs fn up to p.MaxAttempts times, sleeping Delay(attempt) between
// attempts after a failure. It returns the last error if every attempt
// fails, or nil as soon as one succeeds. onRetry, if non-nil, is called
// before each sleep so the caller can log the attempt.
func Do(ctx context.Context, p Policy, onRetry func(attempt int, err error), fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		if onRetry != nil {
			onRetry(attempt, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	return lastErr
}
