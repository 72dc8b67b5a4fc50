package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/tuta-cli/tuta-export/internal/logging"
)

// RetryConfig bounds the backoff loop withRetry runs around a single
// service call. Defaults: five attempts and a backoff cap that starts at
// 250ms and triples after each attempt up to 30s; each sleep is drawn
// uniformly from [0, cap] (full jitter).
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig is used by Client when the caller does not supply
// its own policy.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 5,
	BaseDelay:   250 * time.Millisecond,
	MaxDelay:    30 * time.Second,
}

// withRetry runs fn until it succeeds, returns a non-retryable error, or
// the attempt budget is exhausted. A *retryableError's RetryAfter, when
// set, overrides the jittered backoff for that one sleep — this is how a
// 429's Retry-After header is honored.
func withRetry(ctx context.Context, cfg RetryConfig, op string, fn func() error) error {
	delay := cfg.BaseDelay
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var re *retryableError
		if !errors.As(err, &re) {
			return err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		logging.Debug("%s failed (attempt %d/%d): %v", op, attempt+1, cfg.MaxAttempts, err)

		sleepFor := re.retryAfter
		if sleepFor <= 0 {
			sleepFor = time.Duration(rand.Int63n(int64(delay) + 1))
			delay *= 3
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
	}

	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}
