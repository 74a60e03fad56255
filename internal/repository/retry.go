package repository

import (
	"context"
	"math"
	"math/rand"
	"time"

	appErrors "mnemo-backend/internal/errors"
)

// RetryConfig defines retry behavior for transient backend faults.
type RetryConfig struct {
	MaxAttempts   int           // Maximum number of attempts, including the first
	BaseDelay     time.Duration // Base delay between retries
	MaxDelay      time.Duration // Cap on the delay between retries
	BackoffFactor float64       // Exponential backoff multiplier
	JitterFactor  float64       // Jitter factor to prevent thundering herd
}

// DefaultRetryConfig returns the default retry configuration: 3 attempts with
// exponential backoff starting at 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// RetryableOperation is an operation eligible for retry.
type RetryableOperation func() error

// RetryWithBackoff executes an operation, retrying transient failures with
// exponential backoff and jitter. Non-retryable errors are returned
// immediately; context cancellation aborts between attempts. The final error
// keeps its original classification so callers can still inspect its type.
func RetryWithBackoff(ctx context.Context, config RetryConfig, operation RetryableOperation) error {
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err

		if !appErrors.IsRetryable(err) {
			return err
		}

		if attempt == config.MaxAttempts-1 {
			break
		}

		delay := config.calculateDelay(attempt)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return appErrors.Wrap(lastErr, "operation failed after retries")
}

// calculateDelay calculates the delay for the given attempt number.
func (c RetryConfig) calculateDelay(attempt int) time.Duration {
	backoff := float64(c.BaseDelay) * math.Pow(c.BackoffFactor, float64(attempt))

	jitter := backoff * c.JitterFactor * (rand.Float64() - 0.5) * 2
	delay := time.Duration(backoff + jitter)

	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}

	return delay
}
