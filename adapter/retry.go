package adapter

import (
	"context"
	"fmt"
	"time"
)

// DefaultBaseDelay is the first retry delay; each retry doubles it.
const DefaultBaseDelay = 500 * time.Millisecond

// Retry calls attempt up to 1+retries times with exponential backoff
// (base, 2*base, 4*base, ...) between attempts. permanent reports errors
// that must not be retried; it may be nil.
func Retry(ctx context.Context, retries int, base time.Duration, attempt func(context.Context) error, permanent func(error) bool) error {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	attempts := 1 + max(retries, 0)

	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * base
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("non-retriable error: %w", lastErr)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
