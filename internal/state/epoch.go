package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrEpochUnconfigured = errors.New("epoch period not configured")
	ErrEpochNotStarted   = errors.New("epoch not started")
)

// EpochState caps total reward paid per fixed-length window.
// Invariant: CurrentEpochAmount <= LimitPerEpoch.
type EpochState struct {
	Period             uint256.Int // seconds
	LimitPerEpoch      uint256.Int
	StartTime          uint64 // unix seconds
	CurrentEpochNumber uint64
	CurrentEpochAmount uint256.Int
}

// Admit grants as much of requested as the current epoch still allows.
// It works on a copy: the caller commits next only once the whole operation
// has validated. Skipped epochs are not accounted for; their unused budget is
// discarded on rollover. A partial or zero grant is not an error.
func (e EpochState) Admit(requested *uint256.Int, now uint64) (granted uint256.Int, next EpochState, err error) {
	if e.Period.IsZero() {
		return granted, e, ErrEpochUnconfigured
	}
	if now <= e.StartTime {
		return granted, e, fmt.Errorf("%w: now=%d start=%d", ErrEpochNotStarted, now, e.StartTime)
	}

	elapsed := new(uint256.Int).SetUint64(now - e.StartTime)
	elapsed.Div(elapsed, &e.Period)
	if epoch := elapsed.Uint64(); epoch > e.CurrentEpochNumber {
		e.CurrentEpochNumber = epoch
		e.CurrentEpochAmount.Clear()
	}

	if e.CurrentEpochAmount.Lt(&e.LimitPerEpoch) {
		remaining := new(uint256.Int).Sub(&e.LimitPerEpoch, &e.CurrentEpochAmount)
		if requested.Gt(remaining) {
			granted.Set(remaining)
		} else {
			granted.Set(requested)
		}
	}

	e.CurrentEpochAmount.Add(&e.CurrentEpochAmount, &granted)
	return granted, e, nil
}

// Reconfigure applies a new period and limit at time now. A period change
// restarts epoch numbering from now; a limit-only change keeps progress but
// never lets the spent amount exceed the new limit.
func (e EpochState) Reconfigure(period, limit *uint256.Int, now uint64) EpochState {
	if !e.Period.Eq(period) {
		e.Period.Set(period)
		e.StartTime = now
		e.CurrentEpochNumber = 0
		e.CurrentEpochAmount.Clear()
	}
	e.LimitPerEpoch.Set(limit)
	if e.CurrentEpochAmount.Gt(&e.LimitPerEpoch) {
		e.CurrentEpochAmount.Set(&e.LimitPerEpoch)
	}
	return e
}

// CanonicalBytes for deterministic hashing
func (e *EpochState) CanonicalBytes() []byte {
	buf := make([]byte, 0, 32*3+16)
	period := e.Period.Bytes32()
	limit := e.LimitPerEpoch.Bytes32()
	amount := e.CurrentEpochAmount.Bytes32()
	buf = append(buf, period[:]...)
	buf = append(buf, limit[:]...)
	buf = binary.BigEndian.AppendUint64(buf, e.StartTime)
	buf = binary.BigEndian.AppendUint64(buf, e.CurrentEpochNumber)
	buf = append(buf, amount[:]...)
	return buf
}
