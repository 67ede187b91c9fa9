package rides

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles ride data access
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new rides repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetByID retrieves a ride by ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Ride, error) {
	ride := &Ride{}
	err := r.db.QueryRow(ctx, `
		SELECT id, request_id, rider_id, driver_id,
			rider_session_token, driver_session_token,
			pickup_area, destination, requested_time, status,
			rider_rated, driver_rated, rider_rating, driver_rating,
			accepted_at, completed_at, created_at
		FROM rides WHERE id = $1`, id,
	).Scan(
		&ride.ID, &ride.RequestID, &ride.RiderID, &ride.DriverID,
		&ride.RiderSessionToken, &ride.DriverSessionToken,
		&ride.PickupArea, &ride.Destination, &ride.RequestedTime, &ride.Status,
		&ride.RiderRated, &ride.DriverRated, &ride.RiderRating, &ride.DriverRating,
		&ride.AcceptedAt, &ride.CompletedAt, &ride.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return ride, nil
}

// Complete marks a pending ride COMPLETE. The guard on status makes
// the transition idempotent under races; false means another caller
// got there first or the ride was never pending.
func (r *Repository) Complete(ctx context.Context, rideID, driverID uuid.UUID, completedAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE rides
		SET status = $3, completed_at = $4
		WHERE id = $1 AND driver_id = $2 AND status = $5`,
		rideID, driverID, StatusComplete, completedAt, StatusPending,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRiderRated claims the once-per-ride driver-to-rider rating slot.
// false means the slot was already taken.
func (r *Repository) MarkRiderRated(ctx context.Context, rideID uuid.UUID, rating float64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE rides
		SET rider_rated = true, rider_rating = $2
		WHERE id = $1 AND rider_rated = false`,
		rideID, rating,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkDriverRated claims the once-per-ride rider-to-driver rating slot
func (r *Repository) MarkDriverRated(ctx context.Context, rideID uuid.UUID, rating float64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE rides
		SET driver_rated = true, driver_rating = $2
		WHERE id = $1 AND driver_rated = false`,
		rideID, rating,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
