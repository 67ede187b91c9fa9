package rides

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JawadKotaichh/AUBus-sub000/pkg/common"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/eventbus"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/logger"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/metrics"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/validation"
)

// Store is the ride persistence surface the service needs
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Ride, error)
	Complete(ctx context.Context, rideID, driverID uuid.UUID, completedAt time.Time) (bool, error)
	MarkRiderRated(ctx context.Context, rideID uuid.UUID, rating float64) (bool, error)
	MarkDriverRated(ctx context.Context, rideID uuid.UUID, rating float64) (bool, error)
}

// UserRatings folds submitted ratings into user profiles
type UserRatings interface {
	ApplyDriverRating(ctx context.Context, driverID uuid.UUID, rating float64) (float64, int, error)
	ApplyRiderRating(ctx context.Context, riderID uuid.UUID, rating float64) (float64, int, error)
	IncrementRideCounts(ctx context.Context, driverID, riderID uuid.UUID) error
}

// Publisher is the optional lifecycle event sink; a nil Publisher
// disables publishing
type Publisher interface {
	Publish(ctx context.Context, subject string, event *eventbus.Event) error
}

// Service handles the post-confirm ride lifecycle: completion and the
// once-per-ride rating exchange
type Service struct {
	store Store
	users UserRatings
	bus   Publisher
}

// NewService creates a new rides service
func NewService(store Store, users UserRatings, bus Publisher) *Service {
	return &Service{store: store, users: users, bus: bus}
}

// Complete marks a pending ride COMPLETE on behalf of its driver. An
// optional driver-to-rider rating rides along; rating bookkeeping
// failures are logged and never retried, the completion itself stands.
func (s *Service) Complete(ctx context.Context, driverID, rideID uuid.UUID, ratingForRider *float64) (*CompleteResult, error) {
	ride, err := s.store.GetByID(ctx, rideID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, common.NewNotFoundError("ride not found", nil)
		}
		return nil, fmt.Errorf("load ride: %w", err)
	}
	if ride.DriverID != driverID {
		return nil, common.NewNotFoundError("ride not found", nil)
	}
	if ride.Status != StatusPending {
		return nil, common.NewInvalidStateError(fmt.Sprintf("ride is %s, not PENDING", ride.Status))
	}

	completedAt := time.Now().UTC()
	done, err := s.store.Complete(ctx, rideID, driverID, completedAt)
	if err != nil {
		return nil, fmt.Errorf("complete ride: %w", err)
	}
	if !done {
		return nil, common.NewInvalidStateError("ride is no longer pending")
	}
	metrics.RecordTransition("ride_completed")

	if err := s.users.IncrementRideCounts(ctx, ride.DriverID, ride.RiderID); err != nil {
		logger.Warn("ride count update failed",
			zap.String("ride_id", rideID.String()),
			zap.Error(err))
	}

	riderRated := false
	if ratingForRider != nil {
		riderRated = s.rateRider(ctx, ride, *ratingForRider)
	}

	s.publish(ctx, eventbus.SubjectRideCompleted, &eventbus.RideCompletedData{
		RideID:      ride.ID,
		RiderID:     ride.RiderID,
		DriverID:    ride.DriverID,
		CompletedAt: completedAt,
	})

	return &CompleteResult{
		RideID:      ride.ID,
		Status:      StatusComplete,
		RiderRated:  riderRated,
		CompletedAt: completedAt,
	}, nil
}

// rateRider claims the driver-to-rider rating slot and folds the
// rating. Returns whether the rating was recorded.
func (s *Service) rateRider(ctx context.Context, ride *Ride, rating float64) bool {
	if err := validation.ValidateRating(rating); err != nil {
		logger.Warn("rider rating out of range, skipped",
			zap.String("ride_id", ride.ID.String()),
			zap.Float64("rating", rating))
		return false
	}

	claimed, err := s.store.MarkRiderRated(ctx, ride.ID, rating)
	if err != nil {
		logger.Warn("rider rating claim failed",
			zap.String("ride_id", ride.ID.String()),
			zap.Error(err))
		return false
	}
	if !claimed {
		logger.Warn("rider already rated for this ride",
			zap.String("ride_id", ride.ID.String()))
		return false
	}

	if _, _, err := s.users.ApplyRiderRating(ctx, ride.RiderID, rating); err != nil {
		logger.Warn("rider rating fold failed",
			zap.String("ride_id", ride.ID.String()),
			zap.String("rider_id", ride.RiderID.String()),
			zap.Error(err))
		return false
	}
	return true
}

// RateDriver folds a rider's rating into the driver's running average,
// once per ride. The ride must be COMPLETE and owned by the rider.
func (s *Service) RateDriver(ctx context.Context, riderID, rideID uuid.UUID, rating float64) (*RateDriverResult, error) {
	if err := validation.ValidateRating(rating); err != nil {
		return nil, common.NewInvalidPayloadError(err.Error(), nil)
	}

	ride, err := s.store.GetByID(ctx, rideID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, common.NewNotFoundError("ride not found", nil)
		}
		return nil, fmt.Errorf("load ride: %w", err)
	}
	if ride.RiderID != riderID {
		return nil, common.NewNotFoundError("ride not found", nil)
	}
	if ride.Status != StatusComplete {
		return nil, common.NewInvalidStateError("ride is not complete")
	}

	claimed, err := s.store.MarkDriverRated(ctx, rideID, rating)
	if err != nil {
		return nil, fmt.Errorf("claim driver rating: %w", err)
	}
	if !claimed {
		return nil, common.NewInvalidStateError("driver already rated for this ride")
	}

	result := &RateDriverResult{RideID: rideID, Rating: rating}

	avg, count, err := s.users.ApplyDriverRating(ctx, ride.DriverID, rating)
	if err != nil {
		// Slot stays claimed: a lost rating beats a double-counted one
		logger.Warn("driver rating fold failed",
			zap.String("ride_id", rideID.String()),
			zap.String("driver_id", ride.DriverID.String()),
			zap.Error(err))
		return result, nil
	}
	result.NewAverage = avg
	result.RatingCount = count
	metrics.RecordTransition("driver_rated")

	s.publish(ctx, eventbus.SubjectDriverRated, &eventbus.DriverRatedData{
		RideID:      rideID,
		DriverID:    ride.DriverID,
		Rating:      rating,
		NewAverage:  avg,
		RatingCount: count,
		RatedAt:     time.Now().UTC(),
	})

	return result, nil
}

func (s *Service) publish(ctx context.Context, subject string, data interface{}) {
	if s.bus == nil {
		return
	}
	event, err := eventbus.NewEvent(subject, "rides", data)
	if err != nil {
		logger.Warn("build event failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, subject, event); err != nil {
		logger.Warn("publish event failed", zap.String("subject", subject), zap.Error(err))
	}
}
