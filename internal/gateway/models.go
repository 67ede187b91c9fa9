package gateway

import (
	"time"

	"github.com/google/uuid"
)

// PickupPayload is where the rider wants to be picked up. Coordinates
// are required: candidate selection orders drivers by travel time to
// this point.
type PickupPayload struct {
	Area      string   `json:"area" validate:"required"`
	Latitude  *float64 `json:"lat" validate:"required,latitude"`
	Longitude *float64 `json:"lng" validate:"required,longitude"`
}

// DestinationPayload is where the rider is going. Campus destinations
// carry no coordinates; the label is enough.
type DestinationPayload struct {
	Label     string   `json:"label" validate:"required"`
	IsCampus  bool     `json:"is_campus"`
	Latitude  *float64 `json:"lat" validate:"omitempty,latitude"`
	Longitude *float64 `json:"lng" validate:"omitempty,longitude"`
}

// CreatePayload opens an automated ride request.
type CreatePayload struct {
	SessionToken    string             `json:"rider_session_token" validate:"required"`
	Pickup          PickupPayload      `json:"pickup" validate:"required"`
	Destination     DestinationPayload `json:"destination" validate:"required"`
	Direction       string             `json:"direction" validate:"required,direction"`
	RequestedTime   time.Time          `json:"requested_time" validate:"required"`
	MinRating       float64            `json:"min_rating" validate:"gte=0,lte=5"`
	PreferredGender *string            `json:"preferred_gender" validate:"omitempty,gender"`
	ZoneFilter      *string            `json:"zone_filter"`
}

// StatusPayload asks for the rider's latest request snapshot.
type StatusPayload struct {
	SessionToken string `json:"rider_session_token" validate:"required"`
}

// ConfirmPayload books the ride with the accepted driver.
type ConfirmPayload struct {
	SessionToken string `json:"rider_session_token" validate:"required"`
	RequestID    int64  `json:"request_id" validate:"required,gt=0"`
}

// CancelPayload withdraws a live request.
type CancelPayload struct {
	SessionToken string  `json:"rider_session_token" validate:"required"`
	RequestID    int64   `json:"request_id" validate:"required,gt=0"`
	Note         *string `json:"note"`
}

// QueuePayload asks for a driver's offer queue.
type QueuePayload struct {
	SessionToken string `json:"driver_session_token" validate:"required"`
}

// DecisionPayload answers a live offer.
type DecisionPayload struct {
	SessionToken string  `json:"driver_session_token" validate:"required"`
	RequestID    int64   `json:"request_id" validate:"required,gt=0"`
	Decision     string  `json:"decision" validate:"required,decision"`
	Note         *string `json:"note"`
}

// CompletePayload closes out a booked ride, optionally rating the
// rider in the same frame.
type CompletePayload struct {
	SessionToken   string    `json:"driver_session_token" validate:"required"`
	RideID         uuid.UUID `json:"ride_id" validate:"required"`
	RatingForRider *float64  `json:"rating_for_rider" validate:"omitempty,gte=1,lte=5"`
}

// RatePayload submits the rider's rating for a completed ride.
type RatePayload struct {
	SessionToken string    `json:"rider_session_token" validate:"required"`
	RideID       uuid.UUID `json:"ride_id" validate:"required"`
	Rating       float64   `json:"rating" validate:"required,gte=1,lte=5"`
}

// LookupPayload resolves free text to candidate places.
type LookupPayload struct {
	SessionToken string `json:"session_token" validate:"required"`
	Text         string `json:"text" validate:"required,min=2"`
}

// PingOutput is the System.Ping reply body.
type PingOutput struct {
	Message    string    `json:"message"`
	ServerTime time.Time `json:"server_time"`
}
