package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/JawadKotaichh/AUBus-sub000/pkg/logger"
)

// ErrCircuitOpen reports that the breaker refused the call and no
// fallback was configured.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Operation is a call eligible for breaking and retrying.
type Operation func(ctx context.Context) (interface{}, error)

// FallbackFunc handles a call the open breaker refused.
type FallbackFunc func(ctx context.Context, err error) (interface{}, error)

// NoopFallback surfaces ErrCircuitOpen instead of a substitute result.
func NoopFallback(ctx context.Context, err error) (interface{}, error) {
	return nil, ErrCircuitOpen
}

// Settings tunes one breaker instance.
type Settings struct {
	Name             string
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// CircuitBreaker guards one upstream (a map provider, in practice)
// with consecutive-failure tripping. A nil *CircuitBreaker is valid
// and passes every call straight through, so breaking can be switched
// off in config without branching at call sites.
type CircuitBreaker struct {
	name     string
	breaker  *gobreaker.CircuitBreaker
	fallback FallbackFunc
}

// NewCircuitBreaker builds a breaker around gobreaker. The zero
// FailureThreshold defaults to 5 consecutive failures.
func NewCircuitBreaker(settings Settings, fallback FallbackFunc) *CircuitBreaker {
	name := nextBreakerName(settings.Name)
	failAfter := settings.FailureThreshold
	if failAfter == 0 {
		failAfter = 5
	}

	opts := gobreaker.Settings{
		Name:     name,
		Timeout:  settings.Timeout,
		Interval: settings.Interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			recordBreakerStateChange(name, from, to)
			logger.Get().Info("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	if settings.SuccessThreshold > 0 {
		opts.MaxRequests = settings.SuccessThreshold
	}

	cb := &CircuitBreaker{
		name:     name,
		breaker:  gobreaker.NewCircuitBreaker(opts),
		fallback: fallback,
	}
	recordBreakerState(name, cb.breaker.State())
	return cb
}

// Execute runs operation through the breaker. An open breaker routes
// the call to the fallback when one is set.
func (c *CircuitBreaker) Execute(ctx context.Context, operation Operation) (interface{}, error) {
	if operation == nil {
		return nil, errors.New("operation cannot be nil")
	}
	if c == nil || c.breaker == nil {
		return operation(ctx)
	}

	breakerRequestsTotal.WithLabelValues(c.name).Inc()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return operation(ctx)
	})
	if err == nil {
		return result, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		breakerFallbacksTotal.WithLabelValues(c.name).Inc()
		if c.fallback != nil {
			return c.fallback(ctx, err)
		}
		return nil, ErrCircuitOpen
	}

	breakerFailuresTotal.WithLabelValues(c.name).Inc()
	return nil, err
}

// Allow reports whether the breaker would admit a call right now.
func (c *CircuitBreaker) Allow() bool {
	if c == nil || c.breaker == nil {
		return true
	}
	return c.breaker.State() != gobreaker.StateOpen
}
