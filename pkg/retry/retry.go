package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Config holds retry configuration
type Config struct {
	Enabled      bool          // Enable/disable retry logic
	MaxAttempts  int           // Retries after the first attempt
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Upper bound for any single delay
	Multiplier   float64       // Exponential backoff multiplier
	Jitter       bool          // Randomize each delay by up to ±25%

	// RetryableErrors restricts retries to errors matching one of these
	// (errors.Is). Empty means every error is retryable.
	RetryableErrors []error
	// NonRetryableErrors stop the loop immediately.
	NonRetryableErrors []error
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retry executes fn with exponential backoff.
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult executes fn with exponential backoff and returns its
// first successful result.
func RetryWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T

	if !cfg.Enabled {
		return fn()
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry cancelled: %w", err)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if matchesAny(err, cfg.NonRetryableErrors) {
			return zero, fmt.Errorf("non-retryable error: %w", err)
		}
		if len(cfg.RetryableErrors) > 0 && !matchesAny(err, cfg.RetryableErrors) {
			return zero, fmt.Errorf("error not in retryable list: %w", err)
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(calculateDelay(cfg, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry cancelled during wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}

// calculateDelay returns InitialDelay * Multiplier^attempt, capped at
// MaxDelay, optionally jittered.
func calculateDelay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.Jitter {
		delay *= 0.75 + rand.Float64()*0.5
	}
	return time.Duration(delay)
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
