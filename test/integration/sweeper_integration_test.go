//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JawadKotaichh/AUBus-sub000/internal/dispatch"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/common"
)

func TestSweeperIntegration_ExpiresOverdueOffersAndPromotes(t *testing.T) {
	resetDispatchTables(t)
	rider := seedRider(t, "rana")
	seedDrivers(t, 4)
	svc, _ := newDispatchService(dispatch.Config{
		PendingTimeout: 50 * time.Millisecond,
		SweepInterval:  time.Hour,
	})
	ctx := context.Background()

	res, err := svc.Create(ctx, createInput(rider))
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	expired, promoted, err := svc.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, expired)
	require.Equal(t, 1, promoted)

	require.Equal(t, map[int]string{
		1: "REJECTED", 2: "REJECTED", 3: "REJECTED", 4: "PENDING",
	}, candidateStatuses(t, res.RequestID))

	for _, c := range readCandidates(t, res.RequestID) {
		if c.Status == "REJECTED" {
			require.NotNil(t, c.Message)
			require.Equal(t, "No response before timeout.", *c.Message)
			require.NotNil(t, c.RespondedAt)
		}
	}

	row := readRequest(t, res.RequestID)
	require.Equal(t, "DRIVER_PENDING", row.Status)
	require.Equal(t, 4, row.CurrentSequence)
	assertStoredInvariants(t, res.RequestID, 3)

	// Second pass exhausts the request once the promoted offer ages out.
	time.Sleep(80 * time.Millisecond)
	expired, promoted, err = svc.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, expired)
	require.Zero(t, promoted)

	row = readRequest(t, res.RequestID)
	require.Equal(t, "EXHAUSTED", row.Status)
	require.NotNil(t, row.Message)
	require.Equal(t, "No drivers accepted your request.", *row.Message)
	assertStoredInvariants(t, res.RequestID, 3)
}

func TestSweeperIntegration_FreshOffersAreLeftAlone(t *testing.T) {
	resetDispatchTables(t)
	rider := seedRider(t, "rana")
	seedDrivers(t, 3)
	svc, _ := newDispatchService(dispatch.Config{})
	ctx := context.Background()

	res, err := svc.Create(ctx, createInput(rider))
	require.NoError(t, err)

	expired, promoted, err := svc.SweepOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, expired)
	require.Zero(t, promoted)

	require.Equal(t, map[int]string{
		1: "PENDING", 2: "PENDING", 3: "PENDING",
	}, candidateStatuses(t, res.RequestID))
}

// A request whose rider never confirms releases its accepted driver.
// Because the acceptance already finalized every other candidate, the
// release exhausts the request rather than re-offering it.
func TestSweeperIntegration_ReleasesUnconfirmedAcceptance(t *testing.T) {
	resetDispatchTables(t)
	rider := seedRider(t, "rana")
	drivers := seedDrivers(t, 2)
	svc, _ := newDispatchService(dispatch.Config{
		PendingTimeout: time.Hour,
		ConfirmTimeout: 50 * time.Millisecond,
		SweepInterval:  time.Hour,
	})
	ctx := context.Background()

	res, err := svc.Create(ctx, createInput(rider))
	require.NoError(t, err)
	_, err = svc.Decide(ctx, drivers[0], res.RequestID, dispatch.DecisionAccept, nil)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	expired, promoted, err := svc.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, expired)
	require.Zero(t, promoted)

	cands := readCandidates(t, res.RequestID)
	require.Equal(t, "SKIPPED", cands[0].Status)
	require.NotNil(t, cands[0].Message)
	require.Equal(t, "Rider did not confirm in time.", *cands[0].Message)
	require.Equal(t, "SKIPPED", cands[1].Status)

	row := readRequest(t, res.RequestID)
	require.Equal(t, "EXHAUSTED", row.Status)
	assertStoredInvariants(t, res.RequestID, 3)

	// The rider can no longer confirm the released acceptance.
	_, err = svc.Confirm(ctx, rider, res.RequestID)
	require.Error(t, err)
	require.True(t, common.IsKind(err, common.KindInvalidState), "got %v", err)
}

// The sweep loop itself: a single offer ages out and the background
// ticker exhausts the request without any explicit SweepOnce call.
func TestSweeperIntegration_LoopProcessesDueWork(t *testing.T) {
	resetDispatchTables(t)
	rider := seedRider(t, "rana")
	seedDrivers(t, 1)
	svc, _ := newDispatchService(dispatch.Config{
		PendingTimeout: 50 * time.Millisecond,
		SweepInterval:  25 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := dispatch.NewSweeper(svc, zap.NewNop())
	go sweeper.Start(ctx)
	defer sweeper.Stop()

	res, err := svc.Create(ctx, createInput(rider))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var status string
		err := dbPool.QueryRow(context.Background(),
			`SELECT status FROM ride_requests WHERE id = $1`, res.RequestID).Scan(&status)
		return err == nil && status == "EXHAUSTED"
	}, 2*time.Second, 25*time.Millisecond)
	assertStoredInvariants(t, res.RequestID, 3)
}
