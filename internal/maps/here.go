package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JawadKotaichh/AUBus-sub000/pkg/httpclient"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/logger"
)

const (
	hereRoutingBaseURL   = "https://router.hereapi.com/v8"
	hereGeocodingBaseURL = "https://geocode.search.hereapi.com/v1"
	hereDirectionsURLFmt = "https://wego.here.com/directions/drive/%s/%s"
)

// HEREMapsProvider is the fallback provider, backed by the HERE
// Routing v8 and Geocoding v1 APIs. Routing and geocoding live on
// different hosts, so it carries one client per upstream.
type HEREMapsProvider struct {
	apiKey        string
	routingClient *httpclient.Client
	geocodeClient *httpclient.Client
}

// NewHEREMapsProvider creates a new HERE Maps provider. When BaseURL is set
// it replaces both upstream hosts, which is how tests stub the API.
func NewHEREMapsProvider(config ProviderConfig) *HEREMapsProvider {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30
	}

	routingURL := hereRoutingBaseURL
	geocodeURL := hereGeocodingBaseURL
	if config.BaseURL != "" {
		routingURL = config.BaseURL
		geocodeURL = config.BaseURL
	}

	return &HEREMapsProvider{
		apiKey:        config.APIKey,
		routingClient: httpclient.NewClient(routingURL, time.Duration(timeout)*time.Second, httpclient.WithDefaultRetry()),
		geocodeClient: httpclient.NewClient(geocodeURL, time.Duration(timeout)*time.Second, httpclient.WithDefaultRetry()),
	}
}

func (h *HEREMapsProvider) Name() ProviderName {
	return ProviderHERE
}

// HealthCheck geocodes a known place to prove the key still works.
func (h *HEREMapsProvider) HealthCheck(ctx context.Context) error {
	params := url.Values{}
	params.Set("apiKey", h.apiKey)
	params.Set("q", "Beirut")
	params.Set("limit", "1")

	resp, err := h.geocodeClient.Get(ctx, "/geocode?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("here health check request failed: %w", err)
	}

	var result struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(resp, &result); err == nil && result.Error != "" {
		return fmt.Errorf("here rejected health check: %s", result.Error)
	}

	return nil
}

// GetRoute calculates driving distance and duration via the Routing v8 API
func (h *HEREMapsProvider) GetRoute(ctx context.Context, req *RouteRequest) (*RouteResponse, error) {
	params := url.Values{}
	params.Set("apiKey", h.apiKey)
	params.Set("transportMode", "car")
	params.Set("return", "summary,travelSummary")
	params.Set("origin", formatCoordinate(req.Origin))
	params.Set("destination", formatCoordinate(req.Destination))

	if req.DepartureTime != nil {
		params.Set("departureTime", req.DepartureTime.Format(time.RFC3339))
	} else {
		params.Set("departureTime", time.Now().Format(time.RFC3339))
	}

	logger.Debug("HERE Maps routing request", zap.String("params", params.Encode()))

	resp, err := h.routingClient.Get(ctx, "/routes?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("here routing request failed: %w", err)
	}

	var hereResp hereRoutingResponse
	if err := json.Unmarshal(resp, &hereResp); err != nil {
		return nil, fmt.Errorf("failed to decode here routing reply: %w", err)
	}

	if len(hereResp.Routes) == 0 {
		return nil, ErrNoRoute
	}

	var distanceMeters, durationSeconds int
	for _, section := range hereResp.Routes[0].Sections {
		distanceMeters += section.Summary.Length
		durationSeconds += section.Summary.Duration
	}

	if durationSeconds == 0 {
		return nil, ErrNoRoute
	}

	route := Route{
		DistanceMeters:  distanceMeters,
		DistanceKm:      float64(distanceMeters) / 1000,
		DurationSeconds: durationSeconds,
		DurationMin:     float64(durationSeconds) / 60,
		URL:             h.RouteURL(req.Origin, req.Destination),
		Provider:        ProviderHERE,
	}

	return &RouteResponse{
		Route:       route,
		Provider:    ProviderHERE,
		RequestedAt: time.Now(),
	}, nil
}

// Geocode converts free text to coordinates
func (h *HEREMapsProvider) Geocode(ctx context.Context, req *GeocodeRequest) (*GeocodeResponse, error) {
	params := url.Values{}
	params.Set("apiKey", h.apiKey)
	params.Set("q", req.Query)

	if req.Language != "" {
		params.Set("lang", req.Language)
	}
	if req.Region != "" {
		params.Set("in", "countryCode:"+req.Region)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}
	params.Set("limit", fmt.Sprintf("%d", limit))

	resp, err := h.geocodeClient.Get(ctx, "/geocode?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("here geocoding request failed: %w", err)
	}

	var hereResp hereGeocodingResponse
	if err := json.Unmarshal(resp, &hereResp); err != nil {
		return nil, fmt.Errorf("failed to decode here geocoding reply: %w", err)
	}

	places := make([]Place, len(hereResp.Items))
	for i, item := range hereResp.Items {
		places[i] = Place{
			Label:     item.Address.Label,
			Latitude:  item.Position.Lat,
			Longitude: item.Position.Lng,
		}
	}

	return &GeocodeResponse{
		Places:   places,
		Provider: ProviderHERE,
	}, nil
}

// RouteURL builds a shareable HERE WeGo directions link
func (h *HEREMapsProvider) RouteURL(origin, destination Coordinate) string {
	return fmt.Sprintf(hereDirectionsURLFmt,
		formatCoordinate(origin),
		formatCoordinate(destination),
	)
}

// Wire shapes for the Routing v8 and Geocoding v1 replies.

type hereRoutingResponse struct {
	Routes []hereRoute `json:"routes"`
}

type hereRoute struct {
	Sections []hereSection `json:"sections"`
}

type hereSection struct {
	Summary hereSummary `json:"summary"`
}

type hereSummary struct {
	Length       int `json:"length"`
	Duration     int `json:"duration"`
	BaseDuration int `json:"baseDuration"`
}

type hereGeocodingResponse struct {
	Items []hereGeocodeItem `json:"items"`
}

type hereGeocodeItem struct {
	Title    string       `json:"title"`
	Address  hereAddress  `json:"address"`
	Position herePosition `json:"position"`
}

type hereAddress struct {
	Label string `json:"label"`
}

type herePosition struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
