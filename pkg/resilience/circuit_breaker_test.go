package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	breaker := NewCircuitBreaker(Settings{
		Name:             "trip-breaker",
		Timeout:          50 * time.Millisecond,
		Interval:         50 * time.Millisecond,
		FailureThreshold: 2,
		SuccessThreshold: 1,
	}, nil)

	ctx := context.Background()
	failingOp := func(context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	}

	for i := 0; i < 2; i++ {
		if _, err := breaker.Execute(ctx, failingOp); err == nil {
			t.Fatalf("expected failure on iteration %d", i)
		}
	}

	if breaker.Allow() {
		t.Fatalf("breaker should be open after consecutive failures")
	}

	if _, err := breaker.Execute(ctx, func(context.Context) (interface{}, error) {
		return "ok", nil
	}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreakerPassesThroughOnSuccess(t *testing.T) {
	breaker := NewCircuitBreaker(Settings{
		Name:             "pass-breaker",
		Timeout:          time.Second,
		Interval:         time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
	}, nil)

	result, err := breaker.Execute(context.Background(), func(context.Context) (interface{}, error) {
		return "response", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.(string) != "response" {
		t.Fatalf("expected response, got %v", result)
	}
}

func TestCircuitBreakerFallbackWhenOpen(t *testing.T) {
	fallback := func(ctx context.Context, err error) (interface{}, error) {
		return "fallback-value", nil
	}

	breaker := NewCircuitBreaker(Settings{
		Name:             "fallback-breaker",
		Timeout:          time.Second,
		Interval:         time.Second,
		FailureThreshold: 1,
		SuccessThreshold: 1,
	}, fallback)

	ctx := context.Background()
	if _, err := breaker.Execute(ctx, func(context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	}); err == nil {
		t.Fatal("expected failure to trip the breaker")
	}

	result, err := breaker.Execute(ctx, func(context.Context) (interface{}, error) {
		return "should not run", nil
	})
	if err != nil {
		t.Fatalf("expected fallback result, got error %v", err)
	}
	if result.(string) != "fallback-value" {
		t.Fatalf("expected fallback-value, got %v", result)
	}
}

func TestNilBreakerExecutesDirectly(t *testing.T) {
	var breaker *CircuitBreaker

	result, err := breaker.Execute(context.Background(), func(context.Context) (interface{}, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.(int) != 42 {
		t.Fatalf("expected 42, got %v", result)
	}
	if !breaker.Allow() {
		t.Fatal("nil breaker must always allow")
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 3
	config.InitialBackoff = time.Millisecond
	config.MaxBackoff = 2 * time.Millisecond
	config.EnableJitter = false

	attempts := 0
	result, err := Retry(context.Background(), config, func(context.Context) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.(string) != "done" {
		t.Fatalf("expected done, got %v", result)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 5
	config.InitialBackoff = time.Millisecond
	config.EnableJitter = false
	config.RetryableChecker = func(err error) bool { return false }

	attempts := 0
	_, err := Retry(context.Background(), config, func(context.Context) (interface{}, error) {
		attempts++
		return nil, errors.New("fatal")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsRetryableHTTPStatus(code) {
			t.Fatalf("expected %d to be retryable", code)
		}
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 409} {
		if IsRetryableHTTPStatus(code) {
			t.Fatalf("expected %d to not be retryable", code)
		}
	}
}
