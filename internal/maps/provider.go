package maps

import (
	"context"
)

// Provider defines the interface for routing backends
type Provider interface {
	// GetRoute calculates driving distance and duration between two points.
	// Returns ErrNoRoute when the upstream found no drivable connection.
	GetRoute(ctx context.Context, req *RouteRequest) (*RouteResponse, error)

	// Geocode resolves free text to coordinates.
	Geocode(ctx context.Context, req *GeocodeRequest) (*GeocodeResponse, error)

	// RouteURL builds the provider's shareable directions link.
	RouteURL(origin, destination Coordinate) string

	// Health
	HealthCheck(ctx context.Context) error
	Name() ProviderName
}

// ProviderConfig holds configuration for a single routing backend.
// BaseURL overrides every upstream host of the provider; it is both the
// --map-endpoint seam and how tests point a provider at a stub server.
type ProviderConfig struct {
	Provider ProviderName `json:"provider"`
	APIKey   string       `json:"api_key"`
	BaseURL  string       `json:"base_url,omitempty"`
	Timeout  int          `json:"timeout_seconds,omitempty"`
}

// BreakerConfig tunes the per-provider circuit breakers. Disabled
// breakers mean every call goes straight to the provider.
type BreakerConfig struct {
	Enabled          bool `json:"enabled"`
	FailureThreshold int  `json:"failure_threshold"`
	SuccessThreshold int  `json:"success_threshold"`
	TimeoutSeconds   int  `json:"timeout_seconds"`
	IntervalSeconds  int  `json:"interval_seconds"`
}

// Config holds the overall map adapter configuration
type Config struct {
	// Primary provider for routing
	Primary ProviderConfig `json:"primary"`

	// Fallback providers (in order of preference)
	Fallbacks []ProviderConfig `json:"fallbacks,omitempty"`

	// Route memo settings (advisory cache)
	CacheEnabled    bool   `json:"cache_enabled"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds"`
	CachePrefix     string `json:"cache_prefix"`

	// Hard per-call deadline applied inside the adapter
	CallTimeoutSeconds int `json:"call_timeout_seconds"`

	// Per-provider breaker tuning
	Breaker BreakerConfig `json:"breaker"`
}

// DefaultConfig returns sensible defaults for the map adapter
func DefaultConfig() Config {
	return Config{
		CacheEnabled:       false,
		CacheTTLSeconds:    60,
		CachePrefix:        "maps:",
		CallTimeoutSeconds: 5,
		Breaker: BreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			TimeoutSeconds:   30,
			IntervalSeconds:  60,
		},
	}
}
