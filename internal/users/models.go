package users

import (
	"time"

	"github.com/google/uuid"
)

// LocationState says which end of the campus commute a driver is at
type LocationState string

const (
	LocationStateHome   LocationState = "home"
	LocationStateCampus LocationState = "campus"
	LocationStateUnset  LocationState = "unset"
)

// User represents a user in the system (both riders and drivers)
type User struct {
	ID                  uuid.UUID     `json:"id" db:"id"`
	Username            string        `json:"username" db:"username"`
	Name                string        `json:"name" db:"name"`
	Gender              string        `json:"gender" db:"gender"`
	IsDriver            bool          `json:"is_driver" db:"is_driver"`
	Area                string        `json:"area" db:"area"`
	Latitude            *float64      `json:"latitude,omitempty" db:"latitude"`
	Longitude           *float64      `json:"longitude,omitempty" db:"longitude"`
	DriverLocationState LocationState `json:"driver_location_state" db:"driver_location_state"`
	AvgRatingDriver     float64       `json:"avg_rating_driver" db:"avg_rating_driver"`
	RatingCountDriver   int           `json:"rating_count_driver" db:"rating_count_driver"`
	AvgRatingRider      float64       `json:"avg_rating_rider" db:"avg_rating_rider"`
	RatingCountRider    int           `json:"rating_count_rider" db:"rating_count_rider"`
	RidesCountDriver    int           `json:"rides_count_driver" db:"rides_count_driver"`
	RidesCountRider     int           `json:"rides_count_rider" db:"rides_count_rider"`
	CreatedAt           time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at" db:"updated_at"`
}

// Session is an externally issued token bound to a user and its last
// known socket endpoint
type Session struct {
	Token     string    `json:"token" db:"token"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	IP        string    `json:"ip" db:"ip"`
	Port      int       `json:"port" db:"port"`
	LastSeen  time.Time `json:"last_seen" db:"last_seen"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AuthUser is the result of resolving a session token
type AuthUser struct {
	UserID       uuid.UUID `json:"user_id"`
	SessionToken string    `json:"session_token"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	Gender       string    `json:"gender"`
	IsDriver     bool      `json:"is_driver"`
}

// RiderSnapshot is the rider profile frozen into a ride request at
// creation, shown to drivers while the request is live
type RiderSnapshot struct {
	Name           string  `json:"name"`
	Username       string  `json:"username"`
	Gender         string  `json:"gender"`
	AvgRatingRider float64 `json:"avg_rating_rider"`
	RidesCount     int     `json:"rides_count"`
}

// OnlineDriver is one row of the candidate pool query: a driver with a
// live session, joined with today's earliest schedule window if any.
// Window bounds are minutes since midnight.
type OnlineDriver struct {
	DriverID           uuid.UUID     `json:"driver_id"`
	SessionToken       string        `json:"session_token"`
	Username           string        `json:"username"`
	Name               string        `json:"name"`
	Gender             string        `json:"gender"`
	Area               string        `json:"area"`
	AvgRatingDriver    float64       `json:"avg_rating_driver"`
	RidesCount         int           `json:"rides_count"`
	Latitude           float64       `json:"latitude"`
	Longitude          float64       `json:"longitude"`
	LocationState      LocationState `json:"driver_location_state"`
	WindowStartMinutes *int          `json:"window_start_minutes,omitempty"`
	WindowEndMinutes   *int          `json:"window_end_minutes,omitempty"`
}

// OnlineDriverFilter narrows the candidate pool query
type OnlineDriverFilter struct {
	MinRating        float64
	PreferredGender  *string
	ZoneFilter       *string
	StalenessMinutes int
	Weekday          int
}

// Zone is a named bounding box used by the optional zone filter
type Zone struct {
	Name         string  `json:"name" db:"name"`
	MinLatitude  float64 `json:"min_latitude" db:"min_latitude"`
	MinLongitude float64 `json:"min_longitude" db:"min_longitude"`
	MaxLatitude  float64 `json:"max_latitude" db:"max_latitude"`
	MaxLongitude float64 `json:"max_longitude" db:"max_longitude"`
}

// Contains reports whether the coordinate lies inside the zone's box
func (z Zone) Contains(lat, lng float64) bool {
	return lat >= z.MinLatitude && lat <= z.MaxLatitude &&
		lng >= z.MinLongitude && lng <= z.MaxLongitude
}

// DriverEndpoint is the socket endpoint a driver last spoke from,
// handed to the rider on a confirmed request for display
type DriverEndpoint struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}
