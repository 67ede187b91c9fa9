//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JawadKotaichh/AUBus-sub000/internal/dispatch"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/common"
)

// Concurrent accepts on the same request must produce exactly one
// winner. The request row lock serializes the deciders; the losers
// find their assignment already finalized.
func TestDispatchIntegration_ConcurrentAcceptsSingleWinner(t *testing.T) {
	resetDispatchTables(t)
	rider := seedRider(t, "rana")
	drivers := seedDrivers(t, 3)
	svc, _ := newDispatchService(dispatch.Config{})
	ctx := context.Background()

	res, err := svc.Create(ctx, createInput(rider))
	require.NoError(t, err)

	errs := make([]error, len(drivers))
	var wg sync.WaitGroup
	for i := range drivers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Decide(ctx, drivers[i], res.RequestID, dispatch.DecisionAccept, nil)
		}(i)
	}
	wg.Wait()

	wins, stale := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case common.IsKind(err, common.KindStaleAssignment):
			stale++
		default:
			t.Fatalf("unexpected decide error: %v", err)
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 2, stale)

	row := readRequest(t, res.RequestID)
	require.Equal(t, "AWAITING_RIDER", row.Status)

	counts := map[string]int{}
	for _, c := range readCandidates(t, res.RequestID) {
		counts[c.Status]++
	}
	require.Equal(t, 1, counts["ACCEPTED"])
	require.Equal(t, 2, counts["SKIPPED"])
	assertStoredInvariants(t, res.RequestID, 3)
}

// A rider cancel racing a driver accept always ends CANCELED and never
// books a ride: either the accept loses the lock race and fails on the
// terminal request, or it wins first and the cancel still tears the
// acceptance down before any confirmation.
func TestDispatchIntegration_CancelAcceptRaceNeverBooksRide(t *testing.T) {
	for round := 0; round < 3; round++ {
		resetDispatchTables(t)
		rider := seedRider(t, "rana")
		drivers := seedDrivers(t, 2)
		svc, _ := newDispatchService(dispatch.Config{})
		ctx := context.Background()

		res, err := svc.Create(ctx, createInput(rider))
		require.NoError(t, err)

		var wg sync.WaitGroup
		var cancelErr, acceptErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cancelErr = svc.Cancel(ctx, rider, res.RequestID, nil)
		}()
		go func() {
			defer wg.Done()
			_, acceptErr = svc.Decide(ctx, drivers[0], res.RequestID, dispatch.DecisionAccept, nil)
		}()
		wg.Wait()

		require.NoError(t, cancelErr, "cancel lands on a non-terminal request in either order")
		if acceptErr != nil {
			require.True(t, common.IsKind(acceptErr, common.KindInvalidState), "got %v", acceptErr)
		}

		row := readRequest(t, res.RequestID)
		require.Equal(t, "CANCELED", row.Status)
		require.Zero(t, countRides(t))
		assertStoredInvariants(t, res.RequestID, 3)
	}
}

// Two concurrent creates by the same rider leave exactly one live
// request, whether the loser trips the application-level check or the
// partial unique index underneath it.
func TestDispatchIntegration_ConcurrentCreatesSingleActiveRequest(t *testing.T) {
	resetDispatchTables(t)
	rider := seedRider(t, "rana")
	seedDrivers(t, 3)
	svc, _ := newDispatchService(dispatch.Config{})
	ctx := context.Background()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Create(ctx, createInput(rider))
		}(i)
	}
	wg.Wait()

	wins, inFlight := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case common.IsKind(err, common.KindRequestInFlight):
			inFlight++
		default:
			t.Fatalf("unexpected create error: %v", err)
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 1, inFlight)

	var live int
	require.NoError(t, dbPool.QueryRow(ctx, `
		SELECT COUNT(*) FROM ride_requests
		WHERE rider_id = $1 AND status IN ('DRIVER_PENDING', 'AWAITING_RIDER')`,
		rider.UserID).Scan(&live))
	require.Equal(t, 1, live)
}
