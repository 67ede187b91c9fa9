package maps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JawadKotaichh/AUBus-sub000/pkg/common"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/logger"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/metrics"
	redisclient "github.com/JawadKotaichh/AUBus-sub000/pkg/redis"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/resilience"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/tracing"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/validation"
)

const tracerName = "aubus.maps"

// Service provides routing with caching, provider fallbacks, and resilience.
// It is the single map entry point for the selector, the orchestrator, and
// the area lookup.
type Service struct {
	primary   Provider
	fallbacks []Provider
	redis     redisclient.ClientInterface
	config    Config
	breakers  map[ProviderName]*resilience.CircuitBreaker
}

// NewService creates a new map adapter service
func NewService(config Config, redis redisclient.ClientInterface) (*Service, error) {
	s := &Service{
		redis:    redis,
		config:   config,
		breakers: make(map[ProviderName]*resilience.CircuitBreaker),
	}

	primary, err := s.createProvider(config.Primary)
	if err != nil {
		return nil, fmt.Errorf("failed to create primary provider: %w", err)
	}
	s.primary = primary

	for _, fc := range config.Fallbacks {
		fallback, err := s.createProvider(fc)
		if err != nil {
			logger.Warn("Failed to create fallback provider", zap.Error(err), zap.String("provider", string(fc.Provider)))
			continue
		}
		s.fallbacks = append(s.fallbacks, fallback)
	}

	s.initCircuitBreakers()

	return s, nil
}

// NewServiceWithProviders wires pre-built providers, used by tests.
func NewServiceWithProviders(config Config, redis redisclient.ClientInterface, primary Provider, fallbacks ...Provider) *Service {
	s := &Service{
		primary:   primary,
		fallbacks: fallbacks,
		redis:     redis,
		config:    config,
		breakers:  make(map[ProviderName]*resilience.CircuitBreaker),
	}
	s.initCircuitBreakers()
	return s
}

func (s *Service) createProvider(config ProviderConfig) (Provider, error) {
	switch config.Provider {
	case ProviderGoogle:
		return NewGoogleMapsProvider(config), nil
	case ProviderHERE:
		return NewHEREMapsProvider(config), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", config.Provider)
	}
}

func (s *Service) initCircuitBreakers() {
	bc := s.config.Breaker
	if !bc.Enabled {
		return
	}
	defaults := DefaultConfig().Breaker
	if bc.FailureThreshold <= 0 {
		bc.FailureThreshold = defaults.FailureThreshold
	}
	if bc.SuccessThreshold <= 0 {
		bc.SuccessThreshold = defaults.SuccessThreshold
	}
	if bc.TimeoutSeconds <= 0 {
		bc.TimeoutSeconds = defaults.TimeoutSeconds
	}
	if bc.IntervalSeconds <= 0 {
		bc.IntervalSeconds = defaults.IntervalSeconds
	}

	for _, p := range append([]Provider{s.primary}, s.fallbacks...) {
		s.breakers[p.Name()] = resilience.NewCircuitBreaker(
			resilience.Settings{
				Name:             fmt.Sprintf("maps-%s", p.Name()),
				Interval:         time.Duration(bc.IntervalSeconds) * time.Second,
				Timeout:          time.Duration(bc.TimeoutSeconds) * time.Second,
				FailureThreshold: uint32(bc.FailureThreshold),
				SuccessThreshold: uint32(bc.SuccessThreshold),
			},
			nil,
		)
	}
}

// Route calculates the driving route between two points. It consults the
// advisory memo first, then the provider chain. ErrNoRoute passes through
// for callers to drop the pairing; any other total failure is MapUnavailable.
func (s *Service) Route(ctx context.Context, origin, destination Coordinate) (*Route, error) {
	if err := validation.ValidateCoordinates(origin.Latitude, origin.Longitude); err != nil {
		return nil, common.NewInvalidPayloadError(err.Error(), nil)
	}
	if err := validation.ValidateCoordinates(destination.Latitude, destination.Longitude); err != nil {
		return nil, common.NewInvalidPayloadError(err.Error(), nil)
	}

	timeout := s.config.CallTimeoutSeconds
	if timeout <= 0 {
		timeout = 5
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cacheKey := ""
	if s.config.CacheEnabled && s.redis != nil {
		cacheKey = s.routeCacheKey(origin, destination)
		cached, err := s.getFromCache(ctx, cacheKey)
		if err == nil {
			var route Route
			if err := json.Unmarshal(cached, &route); err == nil {
				route.CacheHit = true
				metrics.RecordRouteCache("hit")
				return &route, nil
			}
		} else if !redisclient.IsNil(err) {
			logger.Warn("route memo read failed", zap.Error(err))
		}
		metrics.RecordRouteCache("miss")
	} else {
		metrics.RecordRouteCache("bypass")
	}

	req := &RouteRequest{Origin: origin, Destination: destination}
	resp, err := s.executeWithFallback(ctx, "route", func(ctx context.Context, provider Provider) (interface{}, error) {
		return provider.GetRoute(ctx, req)
	})
	if err != nil {
		if errors.Is(err, ErrNoRoute) {
			return nil, ErrNoRoute
		}
		return nil, common.NewMapUnavailableError("all map providers failed", err)
	}

	route := resp.(*RouteResponse).Route

	if cacheKey != "" {
		ttl := time.Duration(s.config.CacheTTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = time.Minute
		}
		if data, err := json.Marshal(route); err == nil {
			_ = s.setCache(ctx, cacheKey, data, ttl)
		}
	}

	return &route, nil
}

// Geocode resolves free text to candidate places for the area lookup.
func (s *Service) Geocode(ctx context.Context, query string) ([]Place, error) {
	timeout := s.config.CallTimeoutSeconds
	if timeout <= 0 {
		timeout = 5
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cacheKey := ""
	if s.config.CacheEnabled && s.redis != nil {
		cacheKey = s.geocodeCacheKey(query)
		if cached, err := s.getFromCache(ctx, cacheKey); err == nil {
			var places []Place
			if err := json.Unmarshal(cached, &places); err == nil {
				return places, nil
			}
		}
	}

	req := &GeocodeRequest{Query: query}
	resp, err := s.executeWithFallback(ctx, "geocode", func(ctx context.Context, provider Provider) (interface{}, error) {
		return provider.Geocode(ctx, req)
	})
	if err != nil {
		return nil, common.NewMapUnavailableError("all map providers failed", err)
	}

	places := resp.(*GeocodeResponse).Places

	// Geocoding results are stable; cache them for longer
	if cacheKey != "" && len(places) > 0 {
		if data, err := json.Marshal(places); err == nil {
			_ = s.setCache(ctx, cacheKey, data, 24*time.Hour)
		}
	}

	return places, nil
}

// RouteURL builds the primary provider's shareable directions link without
// a network call.
func (s *Service) RouteURL(origin, destination Coordinate) string {
	return s.primary.RouteURL(origin, destination)
}

// HealthCheck checks the health of all providers
func (s *Service) HealthCheck(ctx context.Context) map[ProviderName]error {
	results := make(map[ProviderName]error)

	results[s.primary.Name()] = s.primary.HealthCheck(ctx)

	for _, fb := range s.fallbacks {
		results[fb.Name()] = fb.HealthCheck(ctx)
	}

	return results
}

// PrimaryProvider returns the name of the primary provider
func (s *Service) PrimaryProvider() ProviderName {
	return s.primary.Name()
}

// executeWithFallback executes a function with the primary provider and falls
// back to the others on failure.
func (s *Service) executeWithFallback(ctx context.Context, operation string, fn func(context.Context, Provider) (interface{}, error)) (interface{}, error) {
	providers := append([]Provider{s.primary}, s.fallbacks...)

	var lastErr error
	for _, provider := range providers {
		name := provider.Name()
		breaker := s.breakers[name]

		var result interface{}
		err := tracing.TraceExternalAPI(ctx, tracerName, string(name), operation, func(ctx context.Context) error {
			var callErr error
			if breaker == nil {
				result, callErr = fn(ctx, provider)
			} else {
				result, callErr = breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
					return fn(ctx, provider)
				})
			}
			return callErr
		})

		if err == nil {
			metrics.RecordRouteLookup(string(name), "ok")
			return result, nil
		}

		lastErr = err
		metrics.RecordRouteLookup(string(name), "error")
		logger.Warn("Map provider failed",
			zap.Error(err),
			zap.String("provider", string(name)),
			zap.String("operation", operation),
		)
	}

	return nil, fmt.Errorf("all map providers failed: %w", lastErr)
}

// Cache key generation. Coordinates are rounded to 4 decimals (~11m) so
// nearby lookups share memo entries; the memo is advisory only.

func (s *Service) routeCacheKey(origin, destination Coordinate) string {
	data := fmt.Sprintf("route:%.4f,%.4f:%.4f,%.4f",
		origin.Latitude, origin.Longitude,
		destination.Latitude, destination.Longitude,
	)
	return s.config.CachePrefix + s.hashKey(data)
}

func (s *Service) geocodeCacheKey(query string) string {
	return s.config.CachePrefix + s.hashKey("geo:"+query)
}

func (s *Service) hashKey(data string) string {
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}

// Redis memo operations

func (s *Service) getFromCache(ctx context.Context, key string) ([]byte, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("redis not available")
	}

	var val string
	err := tracing.TraceRedisCommand(ctx, tracerName, "get", key, func() error {
		var cmdErr error
		val, cmdErr = s.redis.GetString(ctx, key)
		return cmdErr
	})
	if err != nil {
		return nil, err
	}

	return []byte(val), nil
}

func (s *Service) setCache(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if s.redis == nil {
		return nil
	}

	return tracing.TraceRedisCommand(ctx, tracerName, "setex", key, func() error {
		return s.redis.SetWithExpiration(ctx, key, string(data), ttl)
	})
}
