package core

import (
	"YPoolLedger/internal/state"
)

// SnapshotState holds the in-memory state needed to resume processing.
// persistence.SnapshotData is its serialized form.
type SnapshotState struct {
	Sequence        int64 // Last processed sequence, -1 before the first event
	StateHash       [32]byte
	State           *state.LedgerState
	ClockState      map[string]uint64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *SettlementCore) CreateSnapshotState() *SnapshotState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		State:           c.state.Clone(),
		ClockState:      c.clock.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.Keys(),
	}
}

// RestoreFromSnapshot replaces the core's in-memory state. Called once at
// startup, before events are replayed from snap.Sequence+1.
func (c *SettlementCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)

	if snap.State != nil {
		c.state = snap.State.Clone()
	} else {
		c.state = state.NewLedgerState()
	}

	c.clock = NewClockValidator()
	for partition, t := range snap.ClockState {
		c.clock.RestorePartition(partition, t)
	}

	c.idempotency.Warm(snap.IdempotencyKeys)
}
