package maps

import (
	"errors"
	"time"
)

// ProviderName identifies a routing backend.
type ProviderName string

const (
	ProviderGoogle ProviderName = "google"
	ProviderHERE   ProviderName = "here"
)

// ErrNoRoute is returned when the upstream answered but found no drivable
// route between the two points. Callers drop the pairing and continue;
// transport-level failures surface as MapUnavailable instead.
var ErrNoRoute = errors.New("no route found")

// Coordinate represents a geographic point
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Route is the planner result consumed by the selector and the orchestrator.
type Route struct {
	DistanceMeters  int          `json:"distance_meters"`
	DistanceKm      float64      `json:"distance_km"`
	DurationSeconds int          `json:"duration_seconds"`
	DurationMin     float64      `json:"duration_min"`
	URL             string       `json:"url,omitempty"`
	Provider        ProviderName `json:"provider,omitempty"`
	CacheHit        bool         `json:"cache_hit,omitempty"`
}

// RouteRequest represents a request for route calculation
type RouteRequest struct {
	Origin        Coordinate `json:"origin"`
	Destination   Coordinate `json:"destination"`
	DepartureTime *time.Time `json:"departure_time,omitempty"`
}

// RouteResponse represents the response from a route calculation
type RouteResponse struct {
	Route       Route        `json:"route"`
	Provider    ProviderName `json:"provider"`
	RequestedAt time.Time    `json:"requested_at"`
}

// GeocodeRequest represents a forward geocoding request
type GeocodeRequest struct {
	Query    string `json:"query"`
	Language string `json:"language,omitempty"`
	Region   string `json:"region,omitempty"` // country code bias
	Limit    int    `json:"limit,omitempty"`
}

// Place is a single geocoding result.
type Place struct {
	Label     string  `json:"label"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// GeocodeResponse represents geocoding results
type GeocodeResponse struct {
	Places   []Place      `json:"places"`
	Provider ProviderName `json:"provider"`
}
