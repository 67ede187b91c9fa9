package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gatewayActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_connections",
		Help: "Number of TCP connections currently served by the gateway",
	})

	gatewayFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_frames_total",
		Help: "Total number of request frames processed, by opcode and reply status",
	}, []string{"opcode", "status"})

	gatewayFrameDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_frame_duration_seconds",
		Help:    "Time spent handling a single request frame",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"opcode"})

	dispatchTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_transitions_total",
		Help: "Total number of request lifecycle transitions, by event",
	}, []string{"event"})

	sweeperRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_sweeper_runs_total",
		Help: "Total number of sweep passes over pending offers",
	})

	sweeperExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_sweeper_expired_offers_total",
		Help: "Total number of offers expired for exceeding the response window",
	})

	sweeperPromotionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_sweeper_promotions_total",
		Help: "Total number of waiting candidates promoted to an active offer",
	})

	selectorCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "selector_candidates_count",
		Help:    "Number of candidate drivers produced per selection",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})

	routeLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maps_route_lookups_total",
		Help: "Total number of route lookups, by provider and outcome",
	}, []string{"provider", "outcome"})

	routeCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maps_route_cache_total",
		Help: "Route memo lookups, by outcome (hit, miss, bypass)",
	}, []string{"outcome"})
)

// ConnectionOpened increments the live connection gauge.
func ConnectionOpened() {
	gatewayActiveConnections.Inc()
}

// ConnectionClosed decrements the live connection gauge.
func ConnectionClosed() {
	gatewayActiveConnections.Dec()
}

// RecordFrame records one handled frame with its reply status and latency.
func RecordFrame(opcode, status int, duration time.Duration) {
	op := strconv.Itoa(opcode)
	gatewayFramesTotal.WithLabelValues(op, strconv.Itoa(status)).Inc()
	gatewayFrameDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordTransition records a request lifecycle event such as "created",
// "accepted" or "exhausted".
func RecordTransition(event string) {
	dispatchTransitionsTotal.WithLabelValues(event).Inc()
}

// RecordSweep records the outcome of one sweep pass.
func RecordSweep(expired, promoted int) {
	sweeperRunsTotal.Inc()
	sweeperExpiredTotal.Add(float64(expired))
	sweeperPromotionsTotal.Add(float64(promoted))
}

// RecordSelectorCandidates records how many drivers a selection produced.
func RecordSelectorCandidates(n int) {
	selectorCandidates.Observe(float64(n))
}

// RecordRouteLookup records a provider route call outcome ("ok" or "error").
func RecordRouteLookup(provider, outcome string) {
	routeLookupsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordRouteCache records a route memo outcome ("hit", "miss" or "bypass").
func RecordRouteCache(outcome string) {
	routeCacheTotal.WithLabelValues(outcome).Inc()
}
