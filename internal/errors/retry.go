package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"cycleforge/internal/logging"
)

// RetryConfig configures exponential backoff retry behaviour.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultRetryConfig is the general-purpose policy: up to 3 retries after
// the first attempt, 1s base backoff doubling to a 30s cap, 25% jitter. The
// store's record locks do not use it; internal/store/lock.go has its own
// shorter schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
	}
}

// RetryableFunc is retried by Retry/RetryWithLog until it succeeds, a
// non-transient error is returned, or attempts are exhausted.
type RetryableFunc func(ctx context.Context) error

// Retry executes fn with exponential backoff using the default logger.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc) error {
	return RetryWithLog(ctx, config, fn, nil)
}

// RetryWithLog executes fn with exponential backoff, logging each attempt.
func RetryWithLog(ctx context.Context, config RetryConfig, fn RetryableFunc, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.NewComponentLogger("retry")
	}

	var lastErr error

	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("retry succeeded after %d attempts", attempt+1)
			}
			return nil
		}

		lastErr = err
		logger.Debug("attempt %d failed: %v", attempt+1, err)

		if !IsTransient(err) {
			return err
		}

		if attempt == config.MaxAttempts {
			logger.Warn("max retries (%d) exhausted", config.MaxAttempts+1)
			break
		}

		delay := calculateBackoff(attempt, config)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// RetryWithResult is the generic counterpart of Retry for functions that
// return a value, used by the Durable Store's locked read-modify-write path.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !IsTransient(err) {
			return zero, err
		}
		if attempt == config.MaxAttempts {
			break
		}

		delay := calculateBackoff(attempt, config)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	multiplier := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(config.BaseDelay) * multiplier)
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if config.JitterFactor > 0 {
		jitter := float64(delay) * config.JitterFactor
		jitterAmount := (rand.Float64()*2 - 1) * jitter
		delay = time.Duration(float64(delay) + jitterAmount)
		if delay < 0 {
			delay = config.BaseDelay
		}
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return delay
}

// RetryStats summarizes a RetryWithStats run for diagnostics and tests.
type RetryStats struct {
	TotalAttempts     int
	SuccessfulRetries int
	FailedRetries     int
}

// RetryWithStats behaves like Retry but returns a count of attempts and
// whether the eventual outcome was a success-after-retry or a failure.
func RetryWithStats(ctx context.Context, config RetryConfig, fn RetryableFunc) (RetryStats, error) {
	stats := RetryStats{}
	var lastErr error

	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			stats.TotalAttempts++
			return stats, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		stats.TotalAttempts++
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				stats.SuccessfulRetries++
			}
			return stats, nil
		}

		lastErr = err
		if !IsTransient(err) {
			return stats, err
		}

		if attempt == config.MaxAttempts {
			stats.FailedRetries++
			break
		}

		delay := calculateBackoff(attempt, config)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return stats, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return stats, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// ShouldRetry reports whether an operation at attemptNumber (0-based) should
// be retried given err and maxAttempts.
func ShouldRetry(err error, attemptNumber int, maxAttempts int) bool {
	if err == nil {
		return false
	}
	if attemptNumber >= maxAttempts {
		return false
	}
	return IsTransient(err)
}
