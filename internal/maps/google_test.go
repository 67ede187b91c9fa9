package maps

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ========================================
// TESTS: GetRoute
// ========================================

func TestGoogleGetRoute_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, googleDistanceMatrixEndpoint, r.URL.Path)

		q := r.URL.Query()
		assert.Equal(t, "33.889200,35.480500", q.Get("origins"))
		assert.Equal(t, "33.900700,35.479400", q.Get("destinations"))
		assert.Equal(t, "test-key", q.Get("key"))
		assert.Equal(t, "driving", q.Get("mode"))
		assert.Equal(t, "now", q.Get("departure_time"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "OK",
			"rows": [{
				"elements": [{
					"status": "OK",
					"distance": {"text": "10.0 km", "value": 10000},
					"duration": {"text": "20 mins", "value": 1200},
					"duration_in_traffic": {"text": "23 mins", "value": 1380}
				}]
			}]
		}`))
	}))
	defer server.Close()

	provider := NewGoogleMapsProvider(ProviderConfig{APIKey: "test-key", BaseURL: server.URL})

	resp, err := provider.GetRoute(context.Background(), &RouteRequest{
		Origin:      Coordinate{Latitude: 33.8892, Longitude: 35.4805},
		Destination: Coordinate{Latitude: 33.9007, Longitude: 35.4794},
	})

	require.NoError(t, err)
	assert.Equal(t, 10000, resp.Route.DistanceMeters)
	assert.Equal(t, 10.0, resp.Route.DistanceKm)
	// Traffic-aware duration wins over the base estimate
	assert.Equal(t, 1380, resp.Route.DurationSeconds)
	assert.Equal(t, 23.0, resp.Route.DurationMin)
	assert.Equal(t, ProviderGoogle, resp.Provider)
	assert.Contains(t, resp.Route.URL, "google.com/maps/dir")
}

func TestGoogleGetRoute_NoRouteElement(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "OK",
			"rows": [{
				"elements": [{"status": "ZERO_RESULTS"}]
			}]
		}`))
	}))
	defer server.Close()

	provider := NewGoogleMapsProvider(ProviderConfig{APIKey: "test-key", BaseURL: server.URL})

	resp, err := provider.GetRoute(context.Background(), &RouteRequest{
		Origin:      Coordinate{Latitude: 33.8892, Longitude: 35.4805},
		Destination: Coordinate{Latitude: 0, Longitude: 0},
	})

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestGoogleGetRoute_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "REQUEST_DENIED", "error_message": "The provided API key is invalid."}`))
	}))
	defer server.Close()

	provider := NewGoogleMapsProvider(ProviderConfig{APIKey: "bad-key", BaseURL: server.URL})

	resp, err := provider.GetRoute(context.Background(), &RouteRequest{
		Origin:      Coordinate{Latitude: 33.8892, Longitude: 35.4805},
		Destination: Coordinate{Latitude: 33.9007, Longitude: 35.4794},
	})

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.NotErrorIs(t, err, ErrNoRoute)
	assert.Contains(t, err.Error(), "REQUEST_DENIED")
}

// ========================================
// TESTS: Geocode
// ========================================

func TestGoogleGeocode_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, googleGeocodingEndpoint, r.URL.Path)
		assert.Equal(t, "Hamra", r.URL.Query().Get("address"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "OK",
			"results": [
				{
					"formatted_address": "Hamra Street, Beirut, Lebanon",
					"geometry": {"location": {"lat": 33.8959, "lng": 35.4784}}
				},
				{
					"formatted_address": "Hamra, Beirut, Lebanon",
					"geometry": {"location": {"lat": 33.8954, "lng": 35.4802}}
				}
			]
		}`))
	}))
	defer server.Close()

	provider := NewGoogleMapsProvider(ProviderConfig{APIKey: "test-key", BaseURL: server.URL})

	resp, err := provider.Geocode(context.Background(), &GeocodeRequest{Query: "Hamra"})

	require.NoError(t, err)
	require.Len(t, resp.Places, 2)
	assert.Equal(t, "Hamra Street, Beirut, Lebanon", resp.Places[0].Label)
	assert.Equal(t, 33.8959, resp.Places[0].Latitude)
	assert.Equal(t, 35.4784, resp.Places[0].Longitude)
}

func TestGoogleGeocode_LimitApplied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "OK",
			"results": [
				{"formatted_address": "A", "geometry": {"location": {"lat": 1, "lng": 1}}},
				{"formatted_address": "B", "geometry": {"location": {"lat": 2, "lng": 2}}},
				{"formatted_address": "C", "geometry": {"location": {"lat": 3, "lng": 3}}}
			]
		}`))
	}))
	defer server.Close()

	provider := NewGoogleMapsProvider(ProviderConfig{APIKey: "test-key", BaseURL: server.URL})

	resp, err := provider.Geocode(context.Background(), &GeocodeRequest{Query: "abc", Limit: 2})

	require.NoError(t, err)
	require.Len(t, resp.Places, 2)
	assert.Equal(t, "B", resp.Places[1].Label)
}

func TestGoogleGeocode_ZeroResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ZERO_RESULTS", "results": []}`))
	}))
	defer server.Close()

	provider := NewGoogleMapsProvider(ProviderConfig{APIKey: "test-key", BaseURL: server.URL})

	resp, err := provider.Geocode(context.Background(), &GeocodeRequest{Query: "nowhere at all"})

	require.NoError(t, err)
	assert.Empty(t, resp.Places)
}

// ========================================
// TESTS: RouteURL
// ========================================

func TestGoogleRouteURL(t *testing.T) {
	provider := NewGoogleMapsProvider(ProviderConfig{APIKey: "test-key"})

	got := provider.RouteURL(
		Coordinate{Latitude: 33.8892, Longitude: 35.4805},
		Coordinate{Latitude: 33.9007, Longitude: 35.4794},
	)

	assert.Equal(t, "https://www.google.com/maps/dir/?api=1&origin=33.889200%2C35.480500&destination=33.900700%2C35.479400", got)
}
