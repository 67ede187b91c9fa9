package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JawadKotaichh/AUBus-sub000/pkg/httpclient"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/logger"
)

const (
	googleMapsBaseURL            = "https://maps.googleapis.com/maps/api"
	googleDistanceMatrixEndpoint = "/distancematrix/json"
	googleGeocodingEndpoint      = "/geocode/json"
	googleDirectionsURLFormat    = "https://www.google.com/maps/dir/?api=1&origin=%s&destination=%s"
)

// GoogleMapsProvider routes and geocodes through the Google Maps
// web service APIs.
type GoogleMapsProvider struct {
	apiKey  string
	client  *httpclient.Client
	baseURL string
}

// NewGoogleMapsProvider builds a provider from config, falling back
// to the public endpoint and a 30s timeout.
func NewGoogleMapsProvider(config ProviderConfig) *GoogleMapsProvider {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = googleMapsBaseURL
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30
	}

	return &GoogleMapsProvider{
		apiKey:  config.APIKey,
		client:  httpclient.NewClient(baseURL, time.Duration(timeout)*time.Second, httpclient.WithDefaultRetry()),
		baseURL: baseURL,
	}
}

func (g *GoogleMapsProvider) Name() ProviderName {
	return ProviderGoogle
}

// HealthCheck geocodes a known address to prove the key still works.
func (g *GoogleMapsProvider) HealthCheck(ctx context.Context) error {
	params := url.Values{}
	params.Set("address", "American University of Beirut")
	params.Set("key", g.apiKey)

	resp, err := g.client.Get(ctx, googleGeocodingEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("google health check request failed: %w", err)
	}

	var result struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return fmt.Errorf("failed to decode google health check reply: %w", err)
	}

	if result.Status != "OK" && result.Status != "ZERO_RESULTS" {
		return fmt.Errorf("google rejected health check, status %s: %s", result.Status, result.ErrorMessage)
	}

	return nil
}

// GetRoute calculates driving distance and duration via the Distance Matrix API
func (g *GoogleMapsProvider) GetRoute(ctx context.Context, req *RouteRequest) (*RouteResponse, error) {
	params := url.Values{}
	params.Set("origins", formatCoordinate(req.Origin))
	params.Set("destinations", formatCoordinate(req.Destination))
	params.Set("key", g.apiKey)
	params.Set("mode", "driving")
	params.Set("units", "metric")

	// Traffic-aware durations require a departure time
	if req.DepartureTime != nil {
		params.Set("departure_time", strconv.FormatInt(req.DepartureTime.Unix(), 10))
	} else {
		params.Set("departure_time", "now")
	}

	logger.Debug("Google Maps distance matrix request", zap.String("params", params.Encode()))

	resp, err := g.client.Get(ctx, googleDistanceMatrixEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("google distance matrix request failed: %w", err)
	}

	var googleResp googleDistanceMatrixResponse
	if err := json.Unmarshal(resp, &googleResp); err != nil {
		return nil, fmt.Errorf("failed to decode google distance matrix reply: %w", err)
	}

	if googleResp.Status != "OK" {
		return nil, fmt.Errorf("google returned status %s: %s", googleResp.Status, googleResp.ErrorMessage)
	}

	if len(googleResp.Rows) == 0 || len(googleResp.Rows[0].Elements) == 0 {
		return nil, ErrNoRoute
	}

	elem := googleResp.Rows[0].Elements[0]
	if elem.Status != "OK" {
		return nil, ErrNoRoute
	}

	durationSeconds := elem.Duration.Value
	if elem.DurationInTraffic.Value > 0 {
		durationSeconds = elem.DurationInTraffic.Value
	}

	route := Route{
		DistanceMeters:  elem.Distance.Value,
		DistanceKm:      float64(elem.Distance.Value) / 1000,
		DurationSeconds: durationSeconds,
		DurationMin:     float64(durationSeconds) / 60,
		URL:             g.RouteURL(req.Origin, req.Destination),
		Provider:        ProviderGoogle,
	}

	return &RouteResponse{
		Route:       route,
		Provider:    ProviderGoogle,
		RequestedAt: time.Now(),
	}, nil
}

// Geocode converts free text to coordinates
func (g *GoogleMapsProvider) Geocode(ctx context.Context, req *GeocodeRequest) (*GeocodeResponse, error) {
	params := url.Values{}
	params.Set("key", g.apiKey)
	params.Set("address", req.Query)

	if req.Language != "" {
		params.Set("language", req.Language)
	}
	if req.Region != "" {
		params.Set("region", req.Region)
	}

	resp, err := g.client.Get(ctx, googleGeocodingEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("google geocoding request failed: %w", err)
	}

	var googleResp googleGeocodingResponse
	if err := json.Unmarshal(resp, &googleResp); err != nil {
		return nil, fmt.Errorf("failed to decode google geocoding reply: %w", err)
	}

	if googleResp.Status != "OK" && googleResp.Status != "ZERO_RESULTS" {
		return nil, fmt.Errorf("google returned status %s: %s", googleResp.Status, googleResp.ErrorMessage)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}

	places := make([]Place, 0, limit)
	for _, r := range googleResp.Results {
		if len(places) == limit {
			break
		}
		places = append(places, Place{
			Label:     r.FormattedAddress,
			Latitude:  r.Geometry.Location.Lat,
			Longitude: r.Geometry.Location.Lng,
		})
	}

	return &GeocodeResponse{
		Places:   places,
		Provider: ProviderGoogle,
	}, nil
}

// RouteURL builds a shareable Google Maps directions link
func (g *GoogleMapsProvider) RouteURL(origin, destination Coordinate) string {
	return fmt.Sprintf(googleDirectionsURLFormat,
		url.QueryEscape(formatCoordinate(origin)),
		url.QueryEscape(formatCoordinate(destination)),
	)
}

func formatCoordinate(c Coordinate) string {
	return fmt.Sprintf("%f,%f", c.Latitude, c.Longitude)
}

// Wire shapes for the Distance Matrix and Geocoding replies. Only the
// fields the service reads are declared.

type googleDistanceMatrixResponse struct {
	Status       string                    `json:"status"`
	ErrorMessage string                    `json:"error_message,omitempty"`
	Rows         []googleDistanceMatrixRow `json:"rows"`
}

type googleDistanceMatrixRow struct {
	Elements []googleDistanceMatrixElement `json:"elements"`
}

type googleDistanceMatrixElement struct {
	Status            string      `json:"status"`
	Distance          googleValue `json:"distance"`
	Duration          googleValue `json:"duration"`
	DurationInTraffic googleValue `json:"duration_in_traffic"`
}

type googleValue struct {
	Text  string `json:"text"`
	Value int    `json:"value"`
}

type googleGeocodingResponse struct {
	Status       string                  `json:"status"`
	ErrorMessage string                  `json:"error_message,omitempty"`
	Results      []googleGeocodingResult `json:"results"`
}

type googleGeocodingResult struct {
	FormattedAddress string         `json:"formatted_address"`
	Geometry         googleGeometry `json:"geometry"`
}

type googleGeometry struct {
	Location googleLatLng `json:"location"`
}

type googleLatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
