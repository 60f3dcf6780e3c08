package persistence_test

import (
	"context"
	"testing"
	"time"

	"YPoolLedger/internal/persistence"
	"YPoolLedger/internal/testutil"

	"github.com/stretchr/testify/require"
)

func TestPostgres_EventLogAndSnapshots(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	statuses, err := persistence.NewMigrator(db, testutil.MigrationsDir(t)).Status(ctx)
	require.NoError(t, err)
	for _, st := range statuses {
		require.True(t, st.Applied, st.Filename)
	}

	snapMgr := persistence.NewSnapshotManager(db)
	latest, err := snapMgr.GetLatestSequence(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(-1), latest)

	ts := time.Unix(1700000000, 0).UTC()
	events := []persistence.EventRow{
		{Sequence: 0, EventType: "Deposit", IdempotencyClass: "deposit", IdempotencyKey: "0xaa", ChainID: 1,
			Payload: []byte(`{}`), StateHash: make([]byte, 32), PrevHash: make([]byte, 32), Timestamp: ts},
		{Sequence: 1, EventType: "RewardThresholdSet", ChainID: 0,
			Payload: []byte(`{}`), StateHash: make([]byte, 32), PrevHash: make([]byte, 32), Timestamp: ts},
	}
	writer := persistence.NewEventLogWriter(db)
	require.NoError(t, writer.WriteEventBatch(ctx, db, events))
	// Rewrites after a retried flush are ignored
	require.NoError(t, writer.WriteEventBatch(ctx, db, events))

	loaded, err := snapMgr.LoadEventsFrom(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "RewardThresholdSet", loaded[0].EventType)

	latest, err = snapMgr.GetLatestSequence(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), latest)

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("deposit", "0xaa")
	require.NoError(t, err)
	require.True(t, dup)
	dup, err = checker.IsDuplicate("deposit", "0xbb")
	require.NoError(t, err)
	require.False(t, dup)

	snap := persistence.NewSnapshotData(1, [32]byte{7}, sampleState(), map[string]uint64{"epoch": 1700000000}, nil)
	snap.CreatedAt = ts
	_, err = snapMgr.SaveSnapshot(ctx, snap)
	require.NoError(t, err)

	got, err := snapMgr.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.Nil(t, got, "unverified snapshots are not used for recovery")

	require.NoError(t, snapMgr.MarkVerified(ctx, 1))
	got, err = snapMgr.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, snap.TotalPCV, got.TotalPCV)
	hash, err := got.HashBytes()
	require.NoError(t, err)
	require.Equal(t, [32]byte{7}, hash)
}
