package resilience

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/itsneelabh/betpilot/core"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool

	// RetryIf reports whether err is worth another attempt. Nil retries
	// every error.
	RetryIf func(error) bool
}

// DefaultRetryConfig provides sensible defaults
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
		RetryIf:       core.IsRetryable,
	}
}

// RetryConfigFrom converts the configuration section into a RetryConfig
// that only retries transient errors.
func RetryConfigFrom(cfg core.RetryConfig) *RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		rc.InitialDelay = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		rc.MaxDelay = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		rc.BackoffFactor = cfg.Multiplier
	}
	return rc
}

// Retry executes fn until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. A non-retryable error is returned unwrapped.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	maxAttempts := config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if config.RetryIf != nil && !config.RetryIf(err) {
			return err
		}

		// Don't sleep after the last attempt
		if attempt == maxAttempts {
			break
		}

		if attempt > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if config.MaxDelay > 0 && delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		wait := delay
		if config.JitterEnabled {
			wait += time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
		}

		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w: %w", maxAttempts, core.ErrMaxRetriesExceeded, lastErr)
}

// RetryWithCircuitBreaker runs fn through cb on every attempt. An open
// circuit stops the retry loop immediately.
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func() error) error {
	if cb == nil {
		return Retry(ctx, config, fn)
	}
	if config == nil {
		config = DefaultRetryConfig()
	}
	inner := *config
	retryIf := config.RetryIf
	inner.RetryIf = func(err error) bool {
		if core.IsCircuitOpen(err) {
			return false
		}
		return retryIf == nil || retryIf(err)
	}
	return Retry(ctx, &inner, func() error {
		return cb.Execute(ctx, fn)
	})
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
