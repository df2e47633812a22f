package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stock-tracker/models"
	"stock-tracker/observability"
)

// RetryConfig bounds how often and how patiently a failed sync is repeated
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Retryable decides whether a failed attempt is worth repeating.
	// A nil Retryable retries every error.
	Retryable func(error) bool
}

var DefaultRetryConfig = RetryConfig{
	MaxRetries:     3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	Retryable:      IsTransient,
}

// IsTransient reports whether err is a feed or storage outage that may
// clear up on its own.
func IsTransient(err error) bool {
	return errors.Is(err, models.ErrFeedUnavailable) || errors.Is(err, models.ErrStorageUnavailable)
}

// delay is the wait before the given retry (1-based), doubling from
// InitialBackoff and capped at MaxBackoff.
func (c RetryConfig) delay(retry int) time.Duration {
	d := c.InitialBackoff
	for i := 1; i < retry; i++ {
		d *= 2
		if c.MaxBackoff > 0 && d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

func (c RetryConfig) retryable(err error) bool {
	return c.Retryable == nil || c.Retryable(err)
}

// WithRetry calls fn until it succeeds, returns a non-retryable error, or
// MaxRetries repeats are used up. The last error stays wrapped so callers
// can still classify it.
func WithRetry(ctx context.Context, config RetryConfig, fn func() error) error {
	err := fn()
	for retry := 1; err != nil && config.retryable(err); retry++ {
		if retry > config.MaxRetries {
			return fmt.Errorf("giving up after %d attempts: %w", retry, err)
		}

		wait := config.delay(retry)
		observability.Warn("attempt failed, retrying",
			"retry", retry,
			"max_retries", config.MaxRetries,
			"backoff", wait,
			"error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted: %w", errors.Join(ctx.Err(), err))
		case <-timer.C:
		}

		err = fn()
	}
	return err
}
