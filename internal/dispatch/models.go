package dispatch

import (
	"time"

	"github.com/google/uuid"

	"github.com/JawadKotaichh/AUBus-sub000/internal/users"
)

// RequestStatus is the lifecycle state of a ride request.
type RequestStatus string

const (
	// StatusDriverPending means offers are out and the request is waiting
	// for a driver to respond.
	StatusDriverPending RequestStatus = "DRIVER_PENDING"
	// StatusAwaitingRider means a driver accepted and the rider must
	// confirm before the ride is booked.
	StatusAwaitingRider RequestStatus = "AWAITING_RIDER"
	// StatusCompleted means the rider confirmed and a ride row exists.
	StatusCompleted RequestStatus = "COMPLETED"
	// StatusExhausted means every candidate declined or timed out.
	StatusExhausted RequestStatus = "EXHAUSTED"
	// StatusCanceled means the rider withdrew the request.
	StatusCanceled RequestStatus = "CANCELED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusExhausted || s == StatusCanceled
}

// CandidateStatus is the per-driver assignment state within a request.
type CandidateStatus string

const (
	// CandidateWaiting means the driver is queued behind the active offers.
	CandidateWaiting CandidateStatus = "WAITING"
	// CandidatePending means the offer is live and awaiting the driver.
	CandidatePending CandidateStatus = "PENDING"
	// CandidateAccepted means this driver won the request.
	CandidateAccepted CandidateStatus = "ACCEPTED"
	// CandidateRejected means the driver declined or timed out.
	CandidateRejected CandidateStatus = "REJECTED"
	// CandidateSkipped means the candidate was finalized without winning,
	// either because another driver accepted or the rider canceled.
	CandidateSkipped CandidateStatus = "SKIPPED"
)

// Decision is a driver's answer to a live offer.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// Rider-facing status messages stored on the request row.
const (
	msgExhausted = "No drivers accepted your request."
	msgConfirmed = "Ride confirmed"
)

// Driver-facing notes stamped on candidates the sweeper finalizes.
const (
	msgOfferTimedOut   = "No response before timeout."
	msgConfirmTimedOut = "Rider did not confirm in time."
)

// RideRequest is the orchestrated aggregate. Rows are never deleted;
// terminal states are archival.
type RideRequest struct {
	ID                       int64               `json:"id" db:"id"`
	RiderID                  uuid.UUID           `json:"rider_id" db:"rider_id"`
	RiderSessionToken        string              `json:"-" db:"rider_session_token"`
	PickupArea               string              `json:"pickup_area" db:"pickup_area"`
	PickupLatitude           *float64            `json:"pickup_latitude,omitempty" db:"pickup_latitude"`
	PickupLongitude          *float64            `json:"pickup_longitude,omitempty" db:"pickup_longitude"`
	DestinationLabel         string              `json:"destination_label" db:"destination_label"`
	DestinationIsCampus      bool                `json:"destination_is_campus" db:"destination_is_campus"`
	DestinationLatitude      *float64            `json:"destination_latitude,omitempty" db:"destination_latitude"`
	DestinationLongitude     *float64            `json:"destination_longitude,omitempty" db:"destination_longitude"`
	Direction                string              `json:"direction" db:"direction"`
	RequestedTime            time.Time           `json:"requested_time" db:"requested_time"`
	MinRating                float64             `json:"min_rating" db:"min_rating"`
	PreferredGender          *string             `json:"preferred_gender,omitempty" db:"preferred_gender"`
	Status                   RequestStatus       `json:"status" db:"status"`
	CurrentCandidateSequence int                 `json:"current_candidate_sequence" db:"current_candidate_sequence"`
	CurrentDriverID          *uuid.UUID          `json:"current_driver_id,omitempty" db:"current_driver_id"`
	CurrentDriverSession     *string             `json:"-" db:"current_driver_session_token"`
	Rider                    users.RiderSnapshot `json:"rider" db:"-"`
	Message                  *string             `json:"message,omitempty" db:"message"`
	RideID                   *uuid.UUID          `json:"ride_id,omitempty" db:"ride_id"`
	CreatedAt                time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time           `json:"updated_at" db:"updated_at"`
	LastDriverResponseAt     *time.Time          `json:"last_driver_response_at,omitempty" db:"last_driver_response_at"`
}

// Candidate is one (request, driver) pairing in fan-out order. The driver
// profile fields are frozen at selection time so later profile edits do not
// rewrite history.
type Candidate struct {
	ID                 int64           `json:"id" db:"id"`
	RequestID          int64           `json:"request_id" db:"request_id"`
	Sequence           int             `json:"sequence" db:"sequence"`
	DriverID           uuid.UUID       `json:"driver_id" db:"driver_id"`
	DriverSessionToken string          `json:"-" db:"driver_session_token"`
	DriverName         string          `json:"driver_name" db:"driver_name"`
	DriverUsername     string          `json:"driver_username" db:"driver_username"`
	DriverRating       float64         `json:"driver_rating" db:"driver_rating"`
	DriverRides        int             `json:"driver_rides" db:"driver_rides"`
	DriverArea         string          `json:"driver_area" db:"driver_area"`
	DurationMin        float64         `json:"duration_min" db:"duration_min"`
	DistanceKm         float64         `json:"distance_km" db:"distance_km"`
	MapsURL            string          `json:"maps_url" db:"maps_url"`
	Status             CandidateStatus `json:"status" db:"status"`
	AssignedAt         *time.Time      `json:"assigned_at,omitempty" db:"assigned_at"`
	RespondedAt        *time.Time      `json:"responded_at,omitempty" db:"responded_at"`
	Message            *string         `json:"message,omitempty" db:"message"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// CurrentDriver is the rider-facing slice of the candidate the request is
// currently parked on.
type CurrentDriver struct {
	DriverID       uuid.UUID `json:"driver_id"`
	Sequence       int       `json:"sequence"`
	Name           string    `json:"name"`
	Username       string    `json:"username"`
	Rating         float64   `json:"rating"`
	CompletedRides int       `json:"completed_rides"`
	Area           string    `json:"area"`
	DurationMin    float64   `json:"duration_min"`
	DistanceKm     float64   `json:"distance_km"`
	MapsURL        string    `json:"maps_url,omitempty"`
	IP             *string   `json:"ip,omitempty"`
	Port           *int      `json:"port,omitempty"`
}

// CreateResult is returned to the rider immediately after fan-out.
type CreateResult struct {
	RequestID     int64          `json:"request_id"`
	Status        RequestStatus  `json:"status"`
	CurrentDriver *CurrentDriver `json:"current_driver"`
	DriversTotal  int            `json:"drivers_total"`
	Message       *string        `json:"message,omitempty"`
}

// DecisionResult is returned to a driver after accept/reject.
type DecisionResult struct {
	RequestID     int64          `json:"request_id"`
	Status        RequestStatus  `json:"status"`
	CurrentDriver *CurrentDriver `json:"current_driver"`
}

// ConfirmResult is returned to the rider once the ride is booked.
type ConfirmResult struct {
	RequestID int64     `json:"request_id"`
	RideID    uuid.UUID `json:"ride_id"`
	MapsURL   string    `json:"maps_url"`
}

// CancelResult acknowledges a rider cancel.
type CancelResult struct {
	RequestID int64         `json:"request_id"`
	Status    RequestStatus `json:"status"`
}

// StatusView is the rider's poll response: the most recent request,
// terminal or not, inlined with its current candidate and linked ride.
type StatusView struct {
	RequestID            int64          `json:"request_id"`
	Status               RequestStatus  `json:"status"`
	PickupArea           string         `json:"pickup_area"`
	DestinationLabel     string         `json:"destination_label"`
	DestinationIsCampus  bool           `json:"destination_is_campus"`
	Direction            string         `json:"direction"`
	RequestedTime        time.Time      `json:"requested_time"`
	MinRating            float64        `json:"min_rating"`
	PreferredGender      *string        `json:"preferred_gender,omitempty"`
	DriversTotal         int            `json:"drivers_total"`
	CurrentDriver        *CurrentDriver `json:"current_driver"`
	Message              *string        `json:"message,omitempty"`
	RideID               *uuid.UUID     `json:"ride_id,omitempty"`
	RideStatus           *string        `json:"ride_status,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	LastDriverResponseAt *time.Time     `json:"last_driver_response_at,omitempty"`
}

// QueueEntry is one row of a driver's poll response.
type QueueEntry struct {
	RequestID           int64               `json:"request_id"`
	Sequence            int                 `json:"sequence"`
	RequestStatus       RequestStatus       `json:"request_status"`
	CandidateStatus     CandidateStatus     `json:"candidate_status"`
	PickupArea          string              `json:"pickup_area"`
	DestinationLabel    string              `json:"destination_label"`
	DestinationIsCampus bool                `json:"destination_is_campus"`
	RequestedTime       time.Time           `json:"requested_time"`
	Rider               users.RiderSnapshot `json:"rider"`
	DurationMin         float64             `json:"duration_min"`
	DistanceKm          float64             `json:"distance_km"`
	MapsURL             string              `json:"maps_url,omitempty"`
	AssignedAt          *time.Time          `json:"assigned_at,omitempty"`
	RespondedAt         *time.Time          `json:"responded_at,omitempty"`
	RequestMessage      *string             `json:"request_message,omitempty"`
	RideStatus          *string             `json:"ride_status,omitempty"`
}

// QueueView groups a driver's entries into live offers and recent outcomes.
type QueueView struct {
	Pending []QueueEntry `json:"pending"`
	Active  []QueueEntry `json:"active"`
}

// Config carries the orchestrator's tunables.
type Config struct {
	// FanOutWidth is K, the maximum number of simultaneously live offers
	// per request.
	FanOutWidth int
	// PendingTimeout is how long an offer may sit unanswered before the
	// sweeper treats it as a reject.
	PendingTimeout time.Duration
	// ConfirmTimeout is how long a request may sit in AWAITING_RIDER
	// before the accepted offer is released.
	ConfirmTimeout time.Duration
	// SweepInterval is the pause between sweeper passes.
	SweepInterval time.Duration
	// SweepBatchSize caps how many due rows one pass processes.
	SweepBatchSize int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		FanOutWidth:    3,
		PendingTimeout: 60 * time.Second,
		ConfirmTimeout: 120 * time.Second,
		SweepInterval:  10 * time.Second,
		SweepBatchSize: 100,
	}
}
