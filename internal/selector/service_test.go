package selector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JawadKotaichh/AUBus-sub000/internal/maps"
	"github.com/JawadKotaichh/AUBus-sub000/internal/users"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/common"
)

// ========================================
// FAKES
// ========================================

type fakeDriverSource struct {
	drivers    []users.OnlineDriver
	err        error
	lastFilter users.OnlineDriverFilter
}

func (f *fakeDriverSource) OnlineDrivers(ctx context.Context, filter users.OnlineDriverFilter) ([]users.OnlineDriver, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	return f.drivers, nil
}

type fakePlanner struct {
	routes map[string]*maps.Route
	errs   map[string]error
	calls  []string
}

func newFakePlanner() *fakePlanner {
	return &fakePlanner{
		routes: make(map[string]*maps.Route),
		errs:   make(map[string]error),
	}
}

func legKey(origin, destination maps.Coordinate) string {
	return fmt.Sprintf("%.4f,%.4f->%.4f,%.4f",
		origin.Latitude, origin.Longitude,
		destination.Latitude, destination.Longitude)
}

func (f *fakePlanner) Route(ctx context.Context, origin, destination maps.Coordinate) (*maps.Route, error) {
	key := legKey(origin, destination)
	f.calls = append(f.calls, key)
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if r, ok := f.routes[key]; ok {
		return r, nil
	}
	return nil, maps.ErrNoRoute
}

func (f *fakePlanner) setLeg(origin, destination maps.Coordinate, durationMin float64) {
	f.routes[legKey(origin, destination)] = &maps.Route{
		DistanceKm:      durationMin / 2,
		DistanceMeters:  int(durationMin * 500),
		DurationMin:     durationMin,
		DurationSeconds: int(durationMin * 60),
		URL:             "https://maps.test/dir",
	}
}

// ========================================
// TEST HELPERS
// ========================================

var (
	riderCoord = maps.Coordinate{Latitude: 33.8900, Longitude: 35.4800}
	destCoord  = maps.Coordinate{Latitude: 33.9007, Longitude: 35.4794}
)

func testDriver(idSuffix int, lat, lng float64, state users.LocationState, rating float64) users.OnlineDriver {
	id := uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", idSuffix))
	return users.OnlineDriver{
		DriverID:        id,
		SessionToken:    fmt.Sprintf("tok-%d", idSuffix),
		Username:        fmt.Sprintf("driver%d", idSuffix),
		Name:            fmt.Sprintf("Driver %d", idSuffix),
		Gender:          "male",
		Area:            "Hamra",
		AvgRatingDriver: rating,
		RidesCount:      12,
		Latitude:        lat,
		Longitude:       lng,
		LocationState:   state,
	}
}

func driverCoord(d users.OnlineDriver) maps.Coordinate {
	return maps.Coordinate{Latitude: d.Latitude, Longitude: d.Longitude}
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func baseInput() Input {
	return Input{
		RiderLat:      riderCoord.Latitude,
		RiderLng:      riderCoord.Longitude,
		Direction:     DirectionUnknown,
		RequestedTime: time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC),
		MinRating:     3.0,
	}
}

// ========================================
// TESTS
// ========================================

func TestSelect_OrdersByDurationThenRatingThenID(t *testing.T) {
	d1 := testDriver(1, 33.8700, 35.4700, users.LocationStateUnset, 4.2)
	d2 := testDriver(2, 33.8710, 35.4710, users.LocationStateUnset, 4.9)
	d3 := testDriver(3, 33.8720, 35.4720, users.LocationStateUnset, 4.9)
	d4 := testDriver(4, 33.8730, 35.4730, users.LocationStateUnset, 4.0)

	planner := newFakePlanner()
	planner.setLeg(driverCoord(d1), riderCoord, 10) // same duration as d2, d3, lower rating
	planner.setLeg(driverCoord(d2), riderCoord, 10) // ties with d3 on rating, lower id wins
	planner.setLeg(driverCoord(d3), riderCoord, 10)
	planner.setLeg(driverCoord(d4), riderCoord, 8) // fastest, rating irrelevant

	source := &fakeDriverSource{drivers: []users.OnlineDriver{d1, d2, d3, d4}}
	svc := NewService(source, planner, DefaultConfig())

	got, err := svc.Select(context.Background(), baseInput())

	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, d4.DriverID, got[0].DriverID)
	assert.Equal(t, d2.DriverID, got[1].DriverID)
	assert.Equal(t, d3.DriverID, got[2].DriverID)
	assert.Equal(t, d1.DriverID, got[3].DriverID)
}

func TestSelect_DirectionFilter(t *testing.T) {
	home := testDriver(1, 33.8700, 35.4700, users.LocationStateHome, 4.5)
	campus := testDriver(2, 33.8710, 35.4710, users.LocationStateCampus, 4.5)
	unset := testDriver(3, 33.8720, 35.4720, users.LocationStateUnset, 4.5)

	planner := newFakePlanner()
	for _, d := range []users.OnlineDriver{home, campus, unset} {
		planner.setLeg(driverCoord(d), riderCoord, 10)
	}

	tests := []struct {
		name      string
		direction Direction
		wantIDs   []uuid.UUID
	}{
		{
			name:      "to_campus keeps home and unset",
			direction: DirectionToCampus,
			wantIDs:   []uuid.UUID{home.DriverID, unset.DriverID},
		},
		{
			name:      "from_campus keeps campus and unset",
			direction: DirectionFromCampus,
			wantIDs:   []uuid.UUID{campus.DriverID, unset.DriverID},
		},
		{
			name:      "unknown keeps everyone",
			direction: DirectionUnknown,
			wantIDs:   []uuid.UUID{home.DriverID, campus.DriverID, unset.DriverID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeDriverSource{drivers: []users.OnlineDriver{home, campus, unset}}
			svc := NewService(source, planner, DefaultConfig())

			input := baseInput()
			input.Direction = tt.direction

			got, err := svc.Select(context.Background(), input)

			require.NoError(t, err)
			var ids []uuid.UUID
			for _, c := range got {
				ids = append(ids, c.DriverID)
			}
			assert.ElementsMatch(t, tt.wantIDs, ids)
		})
	}
}

func TestSelect_DropsDriversWithoutRoute(t *testing.T) {
	reachable := testDriver(1, 33.8700, 35.4700, users.LocationStateUnset, 4.5)
	noRoute := testDriver(2, 33.8710, 35.4710, users.LocationStateUnset, 4.5)
	mapsDown := testDriver(3, 33.8720, 35.4720, users.LocationStateUnset, 4.5)

	planner := newFakePlanner()
	planner.setLeg(driverCoord(reachable), riderCoord, 12)
	planner.errs[legKey(driverCoord(noRoute), riderCoord)] = maps.ErrNoRoute
	planner.errs[legKey(driverCoord(mapsDown), riderCoord)] = common.NewMapUnavailableError("all map providers failed", errors.New("timeout"))

	source := &fakeDriverSource{drivers: []users.OnlineDriver{reachable, noRoute, mapsDown}}
	svc := NewService(source, planner, DefaultConfig())

	got, err := svc.Select(context.Background(), baseInput())

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, reachable.DriverID, got[0].DriverID)
	assert.Equal(t, 12.0, got[0].DurationMin)
}

func TestSelect_ScheduleGraceBoundary(t *testing.T) {
	// Pickup requested 07:30. Both drivers are 10 minutes from the
	// rider, the rider is 25 minutes from campus: projected arrival
	// 08:05. A window opening at 08:00 is within the 5-minute grace;
	// one opening at 07:50 is not.
	withinGrace := testDriver(1, 33.8700, 35.4700, users.LocationStateHome, 4.5)
	withinGrace.WindowStartMinutes = intPtr(8 * 60)
	withinGrace.WindowEndMinutes = intPtr(9 * 60)

	pastGrace := testDriver(2, 33.8710, 35.4710, users.LocationStateHome, 4.5)
	pastGrace.WindowStartMinutes = intPtr(7*60 + 50)
	pastGrace.WindowEndMinutes = intPtr(9 * 60)

	noWindow := testDriver(3, 33.8720, 35.4720, users.LocationStateHome, 4.5)

	planner := newFakePlanner()
	for _, d := range []users.OnlineDriver{withinGrace, pastGrace, noWindow} {
		planner.setLeg(driverCoord(d), riderCoord, 10)
	}
	planner.setLeg(riderCoord, destCoord, 25)

	source := &fakeDriverSource{drivers: []users.OnlineDriver{withinGrace, pastGrace, noWindow}}
	svc := NewService(source, planner, DefaultConfig())

	input := baseInput()
	input.Direction = DirectionToCampus
	input.DestinationLat = floatPtr(destCoord.Latitude)
	input.DestinationLng = floatPtr(destCoord.Longitude)

	got, err := svc.Select(context.Background(), input)

	require.NoError(t, err)
	var ids []uuid.UUID
	for _, c := range got {
		ids = append(ids, c.DriverID)
	}
	assert.ElementsMatch(t, []uuid.UUID{withinGrace.DriverID, noWindow.DriverID}, ids)
}

func TestSelect_NoDestinationSkipsScheduleFilter(t *testing.T) {
	tight := testDriver(1, 33.8700, 35.4700, users.LocationStateHome, 4.5)
	tight.WindowStartMinutes = intPtr(7 * 60) // would fail any arrival check

	planner := newFakePlanner()
	planner.setLeg(driverCoord(tight), riderCoord, 10)

	source := &fakeDriverSource{drivers: []users.OnlineDriver{tight}}
	svc := NewService(source, planner, DefaultConfig())

	input := baseInput()
	input.Direction = DirectionToCampus

	got, err := svc.Select(context.Background(), input)

	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestSelect_DestLegFailureSkipsScheduleFilter(t *testing.T) {
	tight := testDriver(1, 33.8700, 35.4700, users.LocationStateHome, 4.5)
	tight.WindowStartMinutes = intPtr(7 * 60)

	planner := newFakePlanner()
	planner.setLeg(driverCoord(tight), riderCoord, 10)
	planner.errs[legKey(riderCoord, destCoord)] = common.NewMapUnavailableError("all map providers failed", errors.New("timeout"))

	source := &fakeDriverSource{drivers: []users.OnlineDriver{tight}}
	svc := NewService(source, planner, DefaultConfig())

	input := baseInput()
	input.Direction = DirectionToCampus
	input.DestinationLat = floatPtr(destCoord.Latitude)
	input.DestinationLng = floatPtr(destCoord.Longitude)

	got, err := svc.Select(context.Background(), input)

	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestSelect_LimitTruncates(t *testing.T) {
	planner := newFakePlanner()
	var drivers []users.OnlineDriver
	for i := 1; i <= 5; i++ {
		d := testDriver(i, 33.8700+float64(i)*0.001, 35.4700, users.LocationStateUnset, 4.5)
		planner.setLeg(driverCoord(d), riderCoord, float64(10+i))
		drivers = append(drivers, d)
	}

	source := &fakeDriverSource{drivers: drivers}
	svc := NewService(source, planner, DefaultConfig())

	input := baseInput()
	input.Limit = 2

	got, err := svc.Select(context.Background(), input)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, drivers[0].DriverID, got[0].DriverID)
	assert.Equal(t, drivers[1].DriverID, got[1].DriverID)
}

func TestSelect_EmptyPoolIsValid(t *testing.T) {
	svc := NewService(&fakeDriverSource{}, newFakePlanner(), DefaultConfig())

	got, err := svc.Select(context.Background(), baseInput())

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSelect_StoreErrorIsSelectorFailed(t *testing.T) {
	source := &fakeDriverSource{err: errors.New("connection refused")}
	svc := NewService(source, newFakePlanner(), DefaultConfig())

	got, err := svc.Select(context.Background(), baseInput())

	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, common.IsKind(err, common.KindSelectorFailed))
}

func TestSelect_ForwardsFilterToSource(t *testing.T) {
	source := &fakeDriverSource{}
	svc := NewService(source, newFakePlanner(), DefaultConfig())

	input := baseInput()
	input.MinRating = 4.2
	input.PreferredGender = strPtr("female")
	input.ZoneFilter = strPtr("Hamra")

	_, err := svc.Select(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, 4.2, source.lastFilter.MinRating)
	require.NotNil(t, source.lastFilter.PreferredGender)
	assert.Equal(t, "female", *source.lastFilter.PreferredGender)
	require.NotNil(t, source.lastFilter.ZoneFilter)
	assert.Equal(t, "Hamra", *source.lastFilter.ZoneFilter)
	assert.Equal(t, 5, source.lastFilter.StalenessMinutes)
	assert.Equal(t, 1, source.lastFilter.Weekday) // 2026-03-02 is a Monday
}
