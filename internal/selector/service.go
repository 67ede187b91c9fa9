package selector

import (
	"bytes"
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JawadKotaichh/AUBus-sub000/internal/maps"
	"github.com/JawadKotaichh/AUBus-sub000/internal/users"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/common"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/logger"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/metrics"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/tracing"
)

const tracerName = "aubus.selector"

// DriverSource provides the online-driver pool query
type DriverSource interface {
	OnlineDrivers(ctx context.Context, filter users.OnlineDriverFilter) ([]users.OnlineDriver, error)
}

// RoutePlanner provides driving routes between two coordinates
type RoutePlanner interface {
	Route(ctx context.Context, origin, destination maps.Coordinate) (*maps.Route, error)
}

// Service ranks online drivers for a ride request: pool query, direction
// and schedule filters, one route call per surviving driver, then a
// deterministic sort
type Service struct {
	source  DriverSource
	planner RoutePlanner
	config  Config
}

// NewService creates a new selector service
func NewService(source DriverSource, planner RoutePlanner, config Config) *Service {
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 10
	}
	if config.StalenessMinutes <= 0 {
		config.StalenessMinutes = 5
	}
	if config.ScheduleGraceMinutes <= 0 {
		config.ScheduleGraceMinutes = 5
	}
	return &Service{source: source, planner: planner, config: config}
}

// Select returns up to input.Limit drivers ordered by ETA to the rider.
// An empty result is a valid outcome; only store failures are errors.
func (s *Service) Select(ctx context.Context, input Input) ([]Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "selector.rank")
	defer span.End()

	limit := input.Limit
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}

	drivers, err := s.source.OnlineDrivers(ctx, users.OnlineDriverFilter{
		MinRating:        input.MinRating,
		PreferredGender:  input.PreferredGender,
		ZoneFilter:       input.ZoneFilter,
		StalenessMinutes: s.config.StalenessMinutes,
		Weekday:          int(input.RequestedTime.Weekday()),
	})
	if err != nil {
		return nil, common.NewSelectorFailedError("driver pool query failed", err)
	}

	pool := make([]users.OnlineDriver, 0, len(drivers))
	for _, d := range drivers {
		if keepDirection(input.Direction, d.LocationState) {
			pool = append(pool, d)
		}
	}

	riderCoord := maps.Coordinate{Latitude: input.RiderLat, Longitude: input.RiderLng}

	// One up-front rider-to-destination leg feeds the schedule filter.
	// If it cannot be resolved the filter is skipped rather than
	// guessing at arrival times.
	var riderToDest *maps.Route
	if input.Direction == DirectionToCampus && input.DestinationLat != nil && input.DestinationLng != nil {
		destCoord := maps.Coordinate{Latitude: *input.DestinationLat, Longitude: *input.DestinationLng}
		route, err := s.planner.Route(ctx, riderCoord, destCoord)
		if err != nil {
			logger.Warn("rider to destination route failed, schedule filter skipped",
				zap.Error(err))
		} else {
			riderToDest = route
		}
	}

	grace := time.Duration(s.config.ScheduleGraceMinutes) * time.Minute

	candidates := make([]Candidate, 0, len(pool))
	for _, d := range pool {
		route, err := s.planner.Route(ctx,
			maps.Coordinate{Latitude: d.Latitude, Longitude: d.Longitude},
			riderCoord,
		)
		if err != nil {
			// Provider chain down or no drivable path; either way this
			// driver is out of the current attempt
			logger.Debug("driver dropped, route unavailable",
				zap.String("driver_id", d.DriverID.String()),
				zap.Error(err))
			continue
		}

		if riderToDest != nil && d.WindowStartMinutes != nil {
			arrival := input.RequestedTime.
				Add(time.Duration(route.DurationSeconds) * time.Second).
				Add(time.Duration(riderToDest.DurationSeconds) * time.Second)
			windowStart := dayStart(input.RequestedTime).
				Add(time.Duration(*d.WindowStartMinutes) * time.Minute)
			if arrival.After(windowStart.Add(grace)) {
				continue
			}
		}

		candidates = append(candidates, Candidate{
			DriverID:        d.DriverID,
			SessionToken:    d.SessionToken,
			Username:        d.Username,
			Name:            d.Name,
			Gender:          d.Gender,
			Area:            d.Area,
			AvgRatingDriver: d.AvgRatingDriver,
			RidesCount:      d.RidesCount,
			DistanceKm:      route.DistanceKm,
			DurationMin:     route.DurationMin,
			DurationSeconds: route.DurationSeconds,
			MapsURL:         route.URL,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.DurationMin != b.DurationMin {
			return a.DurationMin < b.DurationMin
		}
		if a.AvgRatingDriver != b.AvgRatingDriver {
			return a.AvgRatingDriver > b.AvgRatingDriver
		}
		return bytes.Compare(a.DriverID[:], b.DriverID[:]) < 0
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	attrs := []attribute.KeyValue{
		attribute.Int("selector.pool", len(pool)),
		attribute.Int("selector.candidates", len(candidates)),
	}
	if len(candidates) > 0 {
		attrs = append(attrs, tracing.RouteSecondsKey.Int(candidates[0].DurationSeconds))
	}
	tracing.AddSpanAttributes(ctx, attrs...)

	metrics.RecordSelectorCandidates(len(candidates))
	return candidates, nil
}

// keepDirection applies the commute-leg filter: riders heading to
// campus want drivers still at home, riders leaving want drivers on
// campus. Drivers that never told us where they are pass both.
func keepDirection(direction Direction, state users.LocationState) bool {
	switch direction {
	case DirectionToCampus:
		return state == users.LocationStateHome || state == users.LocationStateUnset
	case DirectionFromCampus:
		return state == users.LocationStateCampus || state == users.LocationStateUnset
	default:
		return true
	}
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
