package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// APIError is a non-200 answer from an embedding endpoint
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request can succeed:
// throttling and server-side failures. Bad input, auth and unknown models
// fail the same way every time.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// RetryConfig configures exponential backoff for remote providers
type RetryConfig struct {
	MaxRetries int           // total attempts, at least 1
	BaseDelay  time.Duration // wait before the second attempt
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig returns the defaults used for remote providers
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
	}
}

// delay returns the wait after the given failed attempt (0-based)
func (c RetryConfig) delay(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * c.Multiplier)
		if c.MaxDelay > 0 && d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return d
}

// permanent reports errors that a retry cannot fix
func permanent(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Temporary()
	}
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrEmptyText) || errors.Is(err, ErrBatchTooLarge)
}

// retryWithBackoff calls fn until it succeeds, fails permanently, runs out
// of attempts, or ctx ends. The returned error is the last one from fn,
// or ctx.Err() when the context stopped the loop.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(config.MaxRetries, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if permanent(err) || attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(config.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}
