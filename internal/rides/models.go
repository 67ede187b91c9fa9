package rides

import (
	"time"

	"github.com/google/uuid"
)

// RideStatus represents the lifecycle state of a confirmed ride
type RideStatus string

const (
	StatusPending  RideStatus = "PENDING"
	StatusCanceled RideStatus = "CANCELED"
	StatusComplete RideStatus = "COMPLETE"
)

// Ride is the row emitted when a rider confirms an accepted request.
// It is created inside the confirm transaction and only transitions
// PENDING -> COMPLETE (driver finishes) or PENDING -> CANCELED (rider
// cancels the request).
type Ride struct {
	ID                 uuid.UUID  `json:"id" db:"id"`
	RequestID          int64      `json:"request_id" db:"request_id"`
	RiderID            uuid.UUID  `json:"rider_id" db:"rider_id"`
	DriverID           uuid.UUID  `json:"driver_id" db:"driver_id"`
	RiderSessionToken  string     `json:"rider_session_token" db:"rider_session_token"`
	DriverSessionToken string     `json:"driver_session_token" db:"driver_session_token"`
	PickupArea         string     `json:"pickup_area" db:"pickup_area"`
	Destination        string     `json:"destination" db:"destination"`
	RequestedTime      time.Time  `json:"requested_time" db:"requested_time"`
	Status             RideStatus `json:"status" db:"status"`
	RiderRated         bool       `json:"rider_rated" db:"rider_rated"`
	DriverRated        bool       `json:"driver_rated" db:"driver_rated"`
	RiderRating        *float64   `json:"rider_rating,omitempty" db:"rider_rating"`
	DriverRating       *float64   `json:"driver_rating,omitempty" db:"driver_rating"`
	AcceptedAt         time.Time  `json:"accepted_at" db:"accepted_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

// CompleteResult reports what a completion did, including the optional
// driver-to-rider rating outcome
type CompleteResult struct {
	RideID      uuid.UUID  `json:"ride_id"`
	Status      RideStatus `json:"status"`
	RiderRated  bool       `json:"rider_rated"`
	CompletedAt time.Time  `json:"completed_at"`
}

// RateDriverResult reports the fold outcome after a rider rates the
// driver of a completed ride
type RateDriverResult struct {
	RideID      uuid.UUID `json:"ride_id"`
	Rating      float64   `json:"rating"`
	NewAverage  float64   `json:"new_average"`
	RatingCount int       `json:"rating_count"`
}
