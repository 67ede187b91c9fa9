package selector

import (
	"time"

	"github.com/google/uuid"
)

// Direction is the commute leg a ride request covers
type Direction string

const (
	DirectionToCampus   Direction = "to_campus"
	DirectionFromCampus Direction = "from_campus"
	DirectionUnknown    Direction = "unknown"
)

// Input describes one selection run
type Input struct {
	RiderLat        float64
	RiderLng        float64
	DestinationLat  *float64
	DestinationLng  *float64
	Direction       Direction
	RequestedTime   time.Time
	MinRating       float64
	PreferredGender *string
	ZoneFilter      *string
	Limit           int
}

// Candidate is one ranked driver, enriched with the route leg from the
// driver to the rider. The profile fields get frozen into candidate
// rows at request creation.
type Candidate struct {
	DriverID        uuid.UUID `json:"driver_id"`
	SessionToken    string    `json:"session_token"`
	Username        string    `json:"username"`
	Name            string    `json:"name"`
	Gender          string    `json:"gender"`
	Area            string    `json:"area"`
	AvgRatingDriver float64   `json:"avg_rating_driver"`
	RidesCount      int       `json:"rides_count"`
	DistanceKm      float64   `json:"distance_km"`
	DurationMin     float64   `json:"duration_min"`
	DurationSeconds int       `json:"duration_seconds"`
	MapsURL         string    `json:"maps_url"`
}

// Config tunes the selection run
type Config struct {
	DefaultLimit         int
	StalenessMinutes     int
	ScheduleGraceMinutes int
}

// DefaultConfig returns the stock selection tuning
func DefaultConfig() Config {
	return Config{
		DefaultLimit:         10,
		StalenessMinutes:     5,
		ScheduleGraceMinutes: 5,
	}
}
