package resilience

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

var (
	breakerStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Breaker state per provider: 0 closed, 0.5 half-open, 1 open",
	}, []string{"breaker"})

	breakerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_requests_total",
		Help: "Calls admitted through each breaker",
	}, []string{"breaker"})

	breakerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_failures_total",
		Help: "Admitted calls that returned an error",
	}, []string{"breaker"})

	breakerFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_fallbacks_total",
		Help: "Calls refused by an open breaker and routed to the fallback",
	}, []string{"breaker"})

	breakerStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_state_changes_total",
		Help: "Breaker transitions, labeled by endpoint states",
	}, []string{"breaker", "from", "to"})

	retryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_attempts_total",
		Help: "Individual attempt outcomes across retried operations",
	}, []string{"operation", "result"})

	retryOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retry_operation_duration_seconds",
		Help:    "End-to-end duration of a retried operation, all attempts included",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"operation", "result"})

	retryAttemptsPerCall = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retry_attempts_per_call",
		Help:    "Attempts spent before an operation settled",
		Buckets: []float64{1, 2, 3, 4, 5, 10},
	}, []string{"operation", "result"})

	retryBackoffDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retry_backoff_duration_seconds",
		Help:    "Backoff sleeps between attempts",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"operation"})

	breakerIDCounter uint64
)

// nextBreakerName assigns a unique fallback name so unnamed breakers
// do not share one metric series.
func nextBreakerName(base string) string {
	if base != "" {
		return base
	}
	id := atomic.AddUint64(&breakerIDCounter, 1)
	return "breaker-" + strconv.FormatUint(id, 10)
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 0.5
	case gobreaker.StateOpen:
		return 1
	default:
		return -1
	}
}

func recordBreakerState(name string, state gobreaker.State) {
	breakerStateGauge.WithLabelValues(name).Set(breakerStateValue(state))
}

func recordBreakerStateChange(name string, from, to gobreaker.State) {
	breakerStateTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
	recordBreakerState(name, to)
}

func recordRetryAttempt(operation string, success bool) {
	retryAttemptsTotal.WithLabelValues(operation, retryResult(success)).Inc()
}

func recordRetryOperation(operation string, durationSeconds float64, attempts int, success bool) {
	result := retryResult(success)
	retryOperationDuration.WithLabelValues(operation, result).Observe(durationSeconds)
	retryAttemptsPerCall.WithLabelValues(operation, result).Observe(float64(attempts))
}

func recordRetryBackoff(operation string, durationSeconds float64) {
	retryBackoffDuration.WithLabelValues(operation).Observe(durationSeconds)
}

func retryResult(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
