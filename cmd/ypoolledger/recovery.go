package main

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"YPoolLedger/internal/core"
	"YPoolLedger/internal/ingestion"
	"YPoolLedger/internal/observability"
	"YPoolLedger/internal/persistence"

	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

// recoverState restores the latest verified snapshot and replays the event
// log after it. Every replayed event must reproduce its stored state hash.
func recoverState(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	settlementCore *core.SettlementCore,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) error {
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	fromSequence := int64(0)
	if snap != nil {
		if err := restoreStateFromSnapshot(ctx, snapMgr, settlementCore, snap); err != nil {
			return err
		}
		fromSequence = snap.Sequence + 1
		logger.Info().Int64("seq", snap.Sequence).Msg("restored state from snapshot")
	} else {
		logger.Info().Msg("no snapshot found, replaying full event log")
	}

	start := time.Now()
	replayed, err := replayEventsFromLog(ctx, snapMgr, settlementCore, fromSequence, metrics)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	metrics.ReplayDuration.Set(time.Since(start).Seconds())

	latest, err := snapMgr.GetLatestSequence(ctx)
	if err != nil {
		return fmt.Errorf("latest sequence: %w", err)
	}
	if next := settlementCore.GetSequence(); next != latest+1 {
		return fmt.Errorf("replay stopped at seq %d, event log ends at %d", next-1, latest)
	}

	logger.Info().
		Int64("replayed", replayed).
		Int64("next_sequence", settlementCore.GetSequence()).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return nil
}

func restoreStateFromSnapshot(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	settlementCore *core.SettlementCore,
	snap *persistence.SnapshotData,
) error {
	ledgerState, err := snap.LedgerState()
	if err != nil {
		return fmt.Errorf("decode snapshot %d: %w", snap.Sequence, err)
	}
	stateHash, err := snap.HashBytes()
	if err != nil {
		return fmt.Errorf("decode snapshot %d: %w", snap.Sequence, err)
	}

	// The snapshot must match the event it was taken after
	rows, err := snapMgr.LoadEventsFrom(ctx, snap.Sequence, 1)
	if err != nil {
		return fmt.Errorf("load event %d: %w", snap.Sequence, err)
	}
	if len(rows) == 0 || rows[0].Sequence != snap.Sequence {
		return fmt.Errorf("snapshot %d has no matching event in the log", snap.Sequence)
	}
	if !bytes.Equal(rows[0].StateHash, stateHash[:]) {
		return fmt.Errorf("snapshot %d state hash %x does not match event log %x",
			snap.Sequence, stateHash, rows[0].StateHash)
	}

	settlementCore.RestoreFromSnapshot(&core.SnapshotState{
		Sequence:        snap.Sequence,
		StateHash:       stateHash,
		State:           ledgerState,
		ClockState:      snap.ClockState,
		IdempotencyKeys: snap.IdempotencyKeys,
	})
	return nil
}

// replayEventsFromLog re-applies stored events from fromSequence on. Gaps,
// undecodable payloads and hash mismatches abort recovery.
func replayEventsFromLog(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	settlementCore *core.SettlementCore,
	fromSequence int64,
	metrics *observability.Metrics,
) (int64, error) {
	var totalReplayed int64

	for {
		events, err := snapMgr.LoadEventsFrom(ctx, fromSequence, replayBatchSize)
		if err != nil {
			return totalReplayed, fmt.Errorf("load events from seq %d: %w", fromSequence, err)
		}
		if len(events) == 0 {
			return totalReplayed, nil
		}

		for _, row := range events {
			if want := settlementCore.GetSequence(); row.Sequence != want {
				return totalReplayed, fmt.Errorf("event log gap: expected seq %d, found %d", want, row.Sequence)
			}

			evt, err := ingestion.DecodeEvent(row.EventType, row.Payload)
			if err != nil {
				return totalReplayed, fmt.Errorf("decode seq %d (%s): %w", row.Sequence, row.EventType, err)
			}

			var expected [32]byte
			copy(expected[:], row.StateHash)
			if err := settlementCore.ReplayEvent(evt, expected); err != nil {
				return totalReplayed, fmt.Errorf("replay seq %d: %w", row.Sequence, err)
			}

			totalReplayed++
			metrics.ReplayEventsTotal.Inc()
		}

		fromSequence = events[len(events)-1].Sequence + 1
	}
}

// runPeriodicSnapshots takes a snapshot every interval applied events.
func runPeriodicSnapshots(
	ctx context.Context,
	settlementCore *core.SettlementCore,
	snapMgr *persistence.SnapshotManager,
	interval int64,
	metrics *observability.Metrics,
) {
	logger := observability.NewLogger("snapshot")
	if interval <= 0 {
		interval = 100_000
	}

	lastSnapshotSeq := settlementCore.GetSequence()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			currentSeq := settlementCore.GetSequence()
			if currentSeq-lastSnapshotSeq < interval {
				continue
			}
			seq, err := takeSnapshot(ctx, settlementCore, snapMgr, metrics)
			if err != nil {
				logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSnapshotSeq = currentSeq
			logger.Info().Int64("seq", seq).Msg("periodic snapshot saved")
		}
	}
}

// takeSnapshot captures the core's state and persists it. The snapshot is
// marked verified once the event log holds the event it was taken after.
// Returns -1 when nothing has been applied yet.
func takeSnapshot(
	ctx context.Context,
	settlementCore *core.SettlementCore,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) (int64, error) {
	start := time.Now()

	coreSnap := settlementCore.CreateSnapshotState()
	if coreSnap.Sequence < 0 {
		return -1, nil
	}

	snapData := persistence.NewSnapshotData(
		coreSnap.Sequence, coreSnap.StateHash, coreSnap.State, coreSnap.ClockState, coreSnap.IdempotencyKeys)
	snapData.CreatedAt = time.Now().UTC()

	size, err := snapMgr.SaveSnapshot(ctx, snapData)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}

	if err := waitPersisted(ctx, snapMgr, coreSnap.Sequence); err != nil {
		return 0, fmt.Errorf("snapshot %d left unverified: %w", coreSnap.Sequence, err)
	}
	if err := snapMgr.MarkVerified(ctx, coreSnap.Sequence); err != nil {
		return 0, fmt.Errorf("mark snapshot verified: %w", err)
	}

	metrics.SnapshotTaken.Inc()
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	metrics.SnapshotSizeBytes.Set(float64(size))
	metrics.SnapshotLastSeq.Set(float64(coreSnap.Sequence))
	return coreSnap.Sequence, nil
}

// waitPersisted blocks until the persistence worker has written seq.
func waitPersisted(ctx context.Context, snapMgr *persistence.SnapshotManager, seq int64) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		latest, err := snapMgr.GetLatestSequence(ctx)
		if err != nil {
			return err
		}
		if latest >= seq {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
