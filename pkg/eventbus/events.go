package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// RequestCreatedData is emitted when a rider's request enters dispatch with
// its first wave of offers.
type RequestCreatedData struct {
	RequestID        int64     `json:"request_id"`
	RiderID          uuid.UUID `json:"rider_id"`
	Direction        string    `json:"direction"`
	OriginLatitude   float64   `json:"origin_latitude"`
	OriginLongitude  float64   `json:"origin_longitude"`
	DestLatitude     float64   `json:"dest_latitude"`
	DestLongitude    float64   `json:"dest_longitude"`
	CandidateCount   int       `json:"candidate_count"`
	OffersSent       int       `json:"offers_sent"`
	EstimatedSeconds int       `json:"estimated_seconds"`
	CreatedAt        time.Time `json:"created_at"`
}

// OfferSentData is emitted each time a candidate becomes an active offer,
// both during fan-out and on later promotions.
type OfferSentData struct {
	RequestID int64     `json:"request_id"`
	DriverID  uuid.UUID `json:"driver_id"`
	Seq       int       `json:"seq"`
	SentAt    time.Time `json:"sent_at"`
}

// OfferExpiredData is emitted when an offer runs out its response window.
type OfferExpiredData struct {
	RequestID int64     `json:"request_id"`
	DriverID  uuid.UUID `json:"driver_id"`
	Seq       int       `json:"seq"`
	ExpiredAt time.Time `json:"expired_at"`
}

// RequestAcceptedData is emitted when a driver accepts and the request moves
// to awaiting rider confirmation.
type RequestAcceptedData struct {
	RequestID  int64     `json:"request_id"`
	RiderID    uuid.UUID `json:"rider_id"`
	DriverID   uuid.UUID `json:"driver_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// RequestConfirmedData is emitted when the rider confirms and a ride is booked.
type RequestConfirmedData struct {
	RequestID   int64     `json:"request_id"`
	RideID      uuid.UUID `json:"ride_id"`
	RiderID     uuid.UUID `json:"rider_id"`
	DriverID    uuid.UUID `json:"driver_id"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// RequestCanceledData is emitted when the rider cancels an in-flight request.
// Stage records the status the request held at cancellation.
type RequestCanceledData struct {
	RequestID  int64     `json:"request_id"`
	RiderID    uuid.UUID `json:"rider_id"`
	Stage      string    `json:"stage"`
	CanceledAt time.Time `json:"canceled_at"`
}

// RequestExhaustedData is emitted when every candidate has been tried and
// none accepted.
type RequestExhaustedData struct {
	RequestID      int64     `json:"request_id"`
	RiderID        uuid.UUID `json:"rider_id"`
	CandidateCount int       `json:"candidate_count"`
	ExhaustedAt    time.Time `json:"exhausted_at"`
}

// RideCompletedData is emitted when a booked ride is marked complete.
type RideCompletedData struct {
	RideID      uuid.UUID `json:"ride_id"`
	RiderID     uuid.UUID `json:"rider_id"`
	DriverID    uuid.UUID `json:"driver_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// DriverRatedData is emitted after a rating folds into the driver's average.
type DriverRatedData struct {
	RideID      uuid.UUID `json:"ride_id"`
	DriverID    uuid.UUID `json:"driver_id"`
	Rating      float64   `json:"rating"`
	NewAverage  float64   `json:"new_average"`
	RatingCount int       `json:"rating_count"`
	RatedAt     time.Time `json:"rated_at"`
}
