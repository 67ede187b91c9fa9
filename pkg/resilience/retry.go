package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/JawadKotaichh/AUBus-sub000/pkg/logger"
)

// RetryConfig defines retry behavior for idempotent upstream calls.
type RetryConfig struct {
	// MaxAttempts includes the initial attempt.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration
	// BackoffMultiplier is the exponential growth factor (typically 2.0).
	BackoffMultiplier float64
	// EnableJitter randomizes delays to avoid synchronized retries.
	EnableJitter bool
	// RetryableChecker decides whether an error is worth another attempt.
	RetryableChecker func(error) bool
}

// DefaultRetryConfig returns the configuration used for map provider calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
	}
}

// Retry runs operation with exponential backoff under an anonymous
// metric series. Use RetryWithName when the series should be queryable.
func Retry(ctx context.Context, config RetryConfig, operation Operation) (interface{}, error) {
	return RetryWithName(ctx, config, operation, "unknown")
}

// RetryWithName runs operation up to MaxAttempts times, sleeping an
// exponentially growing backoff between attempts. The context is
// checked before each attempt and during each sleep, so cancellation
// never waits out a backoff.
func RetryWithName(ctx context.Context, config RetryConfig, operation Operation, name string) (interface{}, error) {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			recordRetryOperation(name, time.Since(start).Seconds(), attempt, false)
			return nil, err
		}

		result, err := operation(ctx)
		if err == nil {
			recordRetryAttempt(name, true)
			recordRetryOperation(name, time.Since(start).Seconds(), attempt, true)
			if attempt > 1 {
				logger.Get().Info("call recovered on retry",
					zap.String("operation", name),
					zap.Int("attempt", attempt),
				)
			}
			return result, nil
		}

		recordRetryAttempt(name, false)
		lastErr = err

		if !shouldRetry(err, config) {
			recordRetryOperation(name, time.Since(start).Seconds(), attempt, false)
			return nil, err
		}
		if attempt == config.MaxAttempts {
			logger.Get().Warn("call exhausted retry budget",
				zap.String("operation", name),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			break
		}

		backoff := nextBackoff(attempt, config)
		recordRetryBackoff(name, backoff.Seconds())

		select {
		case <-ctx.Done():
			recordRetryOperation(name, time.Since(start).Seconds(), attempt+1, false)
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	recordRetryOperation(name, time.Since(start).Seconds(), config.MaxAttempts, false)
	return nil, lastErr
}

func nextBackoff(attempt int, config RetryConfig) time.Duration {
	d := float64(config.InitialBackoff) * math.Pow(config.BackoffMultiplier, float64(attempt-1))
	if limit := float64(config.MaxBackoff); d > limit {
		d = limit
	}
	if config.EnableJitter {
		return fullJitter(time.Duration(d))
	}
	return time.Duration(d)
}

// fullJitter picks a random delay in (0, d], spreading out retry
// storms from callers that failed at the same instant.
func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return time.Duration(rand.Int63n(int64(d)) + 1)
}

func shouldRetry(err error, config RetryConfig) bool {
	if err == nil {
		return false
	}
	if config.RetryableChecker != nil {
		return config.RetryableChecker(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return true
}

// IsRetryableHTTPStatus reports whether an HTTP status warrants a retry.
func IsRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
