// Package retry runs an operation with exponential backoff until it
// succeeds, fails with a non-retryable error or the attempts run out.
//
//	err := retry.Do(ctx, retry.Config{MaxRetries: 5, InitialBackoff: 10 * time.Millisecond},
//	    func() error { return insert(ctx) },
//	    isTransactionConflict,
//	)
//
// The wait before attempt n is InitialBackoff * 2^(n-1), capped at
// MaxBackoff, plus a jitter share that grows with n.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config defines the retry behavior. MaxRetries and InitialBackoff must be
// set.
type Config struct {
	// MaxRetries is the maximum number of calls to the operation.
	MaxRetries int
	// InitialBackoff is the wait before the second call.
	InitialBackoff time.Duration
	// MaxBackoff caps the wait. Zero means no cap.
	MaxBackoff time.Duration
	// Jitter in [0,1] adds backoff * Jitter * attempt / MaxRetries to each
	// wait.
	Jitter float64
}

// ShouldRetryFunc reports whether err is transient. A nil ShouldRetryFunc
// retries every error.
type ShouldRetryFunc func(error) bool

// Do calls fn until it returns nil or a non-retryable error, or until
// cfg.MaxRetries calls were made. Exhausting the attempts wraps the last
// error. Cancelling ctx during a wait returns ctx.Err().
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(calculateBackoff(cfg, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

func calculateBackoff(cfg Config, attempt int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt-1)) * float64(cfg.InitialBackoff))
	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}
	if cfg.Jitter > 0 {
		backoff += time.Duration(float64(backoff) * cfg.Jitter * float64(attempt) / float64(cfg.MaxRetries))
	}
	return backoff
}
