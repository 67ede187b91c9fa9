package rides

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JawadKotaichh/AUBus-sub000/pkg/common"
)

// ========================================
// FAKES
// ========================================

type fakeRideStore struct {
	rides map[uuid.UUID]*Ride
}

func newFakeRideStore(rides ...*Ride) *fakeRideStore {
	f := &fakeRideStore{rides: make(map[uuid.UUID]*Ride)}
	for _, r := range rides {
		f.rides[r.ID] = r
	}
	return f
}

func (f *fakeRideStore) GetByID(ctx context.Context, id uuid.UUID) (*Ride, error) {
	r, ok := f.rides[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRideStore) Complete(ctx context.Context, rideID, driverID uuid.UUID, completedAt time.Time) (bool, error) {
	r, ok := f.rides[rideID]
	if !ok || r.DriverID != driverID || r.Status != StatusPending {
		return false, nil
	}
	r.Status = StatusComplete
	r.CompletedAt = &completedAt
	return true, nil
}

func (f *fakeRideStore) MarkRiderRated(ctx context.Context, rideID uuid.UUID, rating float64) (bool, error) {
	r, ok := f.rides[rideID]
	if !ok || r.RiderRated {
		return false, nil
	}
	r.RiderRated = true
	r.RiderRating = &rating
	return true, nil
}

func (f *fakeRideStore) MarkDriverRated(ctx context.Context, rideID uuid.UUID, rating float64) (bool, error) {
	r, ok := f.rides[rideID]
	if !ok || r.DriverRated {
		return false, nil
	}
	r.DriverRated = true
	r.DriverRating = &rating
	return true, nil
}

type ratingState struct {
	avg   float64
	count int
}

// fakeUserRatings mirrors the single-statement fold the real
// repository runs in SQL
type fakeUserRatings struct {
	drivers    map[uuid.UUID]*ratingState
	riders     map[uuid.UUID]*ratingState
	rideCounts int
	foldErr    error
}

func newFakeUserRatings() *fakeUserRatings {
	return &fakeUserRatings{
		drivers: make(map[uuid.UUID]*ratingState),
		riders:  make(map[uuid.UUID]*ratingState),
	}
}

func fold(st *ratingState, rating float64) (float64, int) {
	st.avg = (st.avg*float64(st.count) + rating) / float64(st.count+1)
	st.count++
	return st.avg, st.count
}

func (f *fakeUserRatings) ApplyDriverRating(ctx context.Context, driverID uuid.UUID, rating float64) (float64, int, error) {
	if f.foldErr != nil {
		return 0, 0, f.foldErr
	}
	st, ok := f.drivers[driverID]
	if !ok {
		st = &ratingState{}
		f.drivers[driverID] = st
	}
	avg, count := fold(st, rating)
	return avg, count, nil
}

func (f *fakeUserRatings) ApplyRiderRating(ctx context.Context, riderID uuid.UUID, rating float64) (float64, int, error) {
	if f.foldErr != nil {
		return 0, 0, f.foldErr
	}
	st, ok := f.riders[riderID]
	if !ok {
		st = &ratingState{}
		f.riders[riderID] = st
	}
	avg, count := fold(st, rating)
	return avg, count, nil
}

func (f *fakeUserRatings) IncrementRideCounts(ctx context.Context, driverID, riderID uuid.UUID) error {
	f.rideCounts++
	return nil
}

func pendingRide(riderID, driverID uuid.UUID) *Ride {
	return &Ride{
		ID:            uuid.New(),
		RequestID:     101,
		RiderID:       riderID,
		DriverID:      driverID,
		PickupArea:    "Hamra",
		Destination:   "AUB Main Gate",
		RequestedTime: time.Now(),
		Status:        StatusPending,
		AcceptedAt:    time.Now(),
		CreatedAt:     time.Now(),
	}
}

func ratingPtr(v float64) *float64 { return &v }

// ========================================
// TESTS: Complete
// ========================================

func TestComplete_Success(t *testing.T) {
	riderID, driverID := uuid.New(), uuid.New()
	ride := pendingRide(riderID, driverID)
	store := newFakeRideStore(ride)
	users := newFakeUserRatings()
	svc := NewService(store, users, nil)

	result, err := svc.Complete(context.Background(), driverID, ride.ID, nil)

	require.NoError(t, err)
	assert.Equal(t, ride.ID, result.RideID)
	assert.Equal(t, StatusComplete, result.Status)
	assert.False(t, result.RiderRated)
	assert.Equal(t, StatusComplete, store.rides[ride.ID].Status)
	assert.Equal(t, 1, users.rideCounts)
}

func TestComplete_WithRiderRating(t *testing.T) {
	riderID, driverID := uuid.New(), uuid.New()
	ride := pendingRide(riderID, driverID)
	store := newFakeRideStore(ride)
	users := newFakeUserRatings()
	users.riders[riderID] = &ratingState{avg: 5.0, count: 1}
	svc := NewService(store, users, nil)

	result, err := svc.Complete(context.Background(), driverID, ride.ID, ratingPtr(4.0))

	require.NoError(t, err)
	assert.True(t, result.RiderRated)
	assert.True(t, store.rides[ride.ID].RiderRated)
	assert.InDelta(t, 4.5, users.riders[riderID].avg, 1e-9)
	assert.Equal(t, 2, users.riders[riderID].count)
}

func TestComplete_OutOfRangeRatingSkipped(t *testing.T) {
	riderID, driverID := uuid.New(), uuid.New()
	ride := pendingRide(riderID, driverID)
	store := newFakeRideStore(ride)
	users := newFakeUserRatings()
	svc := NewService(store, users, nil)

	result, err := svc.Complete(context.Background(), driverID, ride.ID, ratingPtr(9.0))

	// Completion stands, the bad rating is dropped
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, result.Status)
	assert.False(t, result.RiderRated)
	assert.Empty(t, users.riders)
}

func TestComplete_RideNotFound(t *testing.T) {
	svc := NewService(newFakeRideStore(), newFakeUserRatings(), nil)

	_, err := svc.Complete(context.Background(), uuid.New(), uuid.New(), nil)

	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindNotFound))
}

func TestComplete_WrongDriver(t *testing.T) {
	ride := pendingRide(uuid.New(), uuid.New())
	svc := NewService(newFakeRideStore(ride), newFakeUserRatings(), nil)

	_, err := svc.Complete(context.Background(), uuid.New(), ride.ID, nil)

	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindNotFound))
}

func TestComplete_AlreadyComplete(t *testing.T) {
	riderID, driverID := uuid.New(), uuid.New()
	ride := pendingRide(riderID, driverID)
	ride.Status = StatusComplete
	svc := NewService(newFakeRideStore(ride), newFakeUserRatings(), nil)

	_, err := svc.Complete(context.Background(), driverID, ride.ID, nil)

	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindInvalidState))
}

func TestComplete_CanceledRide(t *testing.T) {
	riderID, driverID := uuid.New(), uuid.New()
	ride := pendingRide(riderID, driverID)
	ride.Status = StatusCanceled
	svc := NewService(newFakeRideStore(ride), newFakeUserRatings(), nil)

	_, err := svc.Complete(context.Background(), driverID, ride.ID, nil)

	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindInvalidState))
}

// ========================================
// TESTS: RateDriver
// ========================================

func TestRateDriver_FoldSequence(t *testing.T) {
	riderID, driverID := uuid.New(), uuid.New()
	users := newFakeUserRatings()
	users.drivers[driverID] = &ratingState{avg: 4.0, count: 2}

	steps := []struct {
		rating    float64
		wantAvg   float64
		wantCount int
	}{
		{rating: 5.0, wantAvg: 13.0 / 3.0, wantCount: 3},
		{rating: 3.0, wantAvg: 4.0, wantCount: 4},
		{rating: 4.5, wantAvg: 4.1, wantCount: 5},
	}

	for _, step := range steps {
		ride := pendingRide(riderID, driverID)
		ride.Status = StatusComplete
		svc := NewService(newFakeRideStore(ride), users, nil)

		result, err := svc.RateDriver(context.Background(), riderID, ride.ID, step.rating)

		require.NoError(t, err)
		assert.InDelta(t, step.wantAvg, result.NewAverage, 1e-9)
		assert.Equal(t, step.wantCount, result.RatingCount)
	}

	assert.InDelta(t, 4.1, users.drivers[driverID].avg, 1e-9)
	assert.Equal(t, 5, users.drivers[driverID].count)
}

func TestRateDriver_OncePerRide(t *testing.T) {
	riderID, driverID := uuid.New(), uuid.New()
	ride := pendingRide(riderID, driverID)
	ride.Status = StatusComplete
	svc := NewService(newFakeRideStore(ride), newFakeUserRatings(), nil)

	_, err := svc.RateDriver(context.Background(), riderID, ride.ID, 5.0)
	require.NoError(t, err)

	_, err = svc.RateDriver(context.Background(), riderID, ride.ID, 1.0)
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindInvalidState))
}

func TestRateDriver_RideNotComplete(t *testing.T) {
	riderID, driverID := uuid.New(), uuid.New()
	ride := pendingRide(riderID, driverID)
	svc := NewService(newFakeRideStore(ride), newFakeUserRatings(), nil)

	_, err := svc.RateDriver(context.Background(), riderID, ride.ID, 5.0)

	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindInvalidState))
}

func TestRateDriver_OutOfRange(t *testing.T) {
	svc := NewService(newFakeRideStore(), newFakeUserRatings(), nil)

	for _, rating := range []float64{0, 0.5, 5.5, -1} {
		_, err := svc.RateDriver(context.Background(), uuid.New(), uuid.New(), rating)
		require.Error(t, err)
		assert.True(t, common.IsKind(err, common.KindInvalidPayload))
	}
}

func TestRateDriver_WrongRider(t *testing.T) {
	ride := pendingRide(uuid.New(), uuid.New())
	ride.Status = StatusComplete
	svc := NewService(newFakeRideStore(ride), newFakeUserRatings(), nil)

	_, err := svc.RateDriver(context.Background(), uuid.New(), ride.ID, 5.0)

	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindNotFound))
}

func TestRateDriver_FoldFailureIsNotRetried(t *testing.T) {
	riderID, driverID := uuid.New(), uuid.New()
	ride := pendingRide(riderID, driverID)
	ride.Status = StatusComplete
	store := newFakeRideStore(ride)
	users := newFakeUserRatings()
	users.foldErr = errors.New("connection reset")
	svc := NewService(store, users, nil)

	result, err := svc.RateDriver(context.Background(), riderID, ride.ID, 5.0)

	// The claim stands even though the fold failed
	require.NoError(t, err)
	assert.Equal(t, ride.ID, result.RideID)
	assert.Zero(t, result.RatingCount)
	assert.True(t, store.rides[ride.ID].DriverRated)

	users.foldErr = nil
	_, err = svc.RateDriver(context.Background(), riderID, ride.ID, 5.0)
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindInvalidState))
}
