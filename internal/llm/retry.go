package llm

import (
	"context"
	"errors"
	"time"
)

// DefaultAttempts is the total number of tries for one retried request.
const DefaultAttempts = 3

const baseBackoff = 500 * time.Millisecond

// WithRetry runs fn up to attempts times, backing off between tries, and
// returns the first success or the last error. Context cancellation aborts
// immediately; a missing integration is not retried.
func WithRetry[T any](ctx context.Context, attempts int, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if errors.Is(err, ErrUnavailable) {
			break
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(baseBackoff * time.Duration(attempt)):
			}
		}
	}
	return zero, lastErr
}
