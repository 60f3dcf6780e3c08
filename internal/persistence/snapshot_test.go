package persistence_test

import (
	"encoding/json"
	"testing"

	"YPoolLedger/internal/ledger"
	"YPoolLedger/internal/persistence"
	"YPoolLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func sampleState() *state.LedgerState {
	s := state.NewLedgerState()
	s.Pool.TotalPCV.SetUint64(2006)
	s.Pool.TotalShares.SetUint64(2000)

	c1 := s.EnsureChain(1)
	c1.PCV.SetUint64(1106)
	c1.Weight = 60
	c1.Fee = state.FeeStructure{IsSet: true, Min: *uint256.NewInt(1), Max: *uint256.NewInt(100), Rate: *uint256.NewInt(1000), Decimals: 6}

	c2 := s.EnsureChain(2)
	c2.PCV.SetUint64(900)
	c2.Locked.SetUint64(50)

	id := [32]byte{0xde, 0xad}
	s.Swaps[id] = &state.SwapRecord{
		UniversalID: id,
		FromChainID: 1,
		ToChainID:   2,
		Nonce:       *uint256.NewInt(7),
		Account:     state.AccountID{31: 9},
		AmountIn:    *uint256.NewInt(60),
		AmountOut:   *uint256.NewInt(50),
		Status:      state.SwapStatusInitiated,
	}

	// amounts beyond 64 bits must survive the decimal encoding
	big := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	s.Rewards[state.AccountID{31: 9}] = *big

	s.Epoch = s.Epoch.Reconfigure(uint256.NewInt(3600), uint256.NewInt(10), 1000)
	s.Epoch.CurrentEpochAmount.SetUint64(4)
	s.RewardThreshold = 25
	s.RewardValueDecimals = 6
	return s
}

func TestSnapshotData_RestoresLedgerState(t *testing.T) {
	orig := sampleState()
	hash := [32]byte{1, 2, 3}
	clock := map[string]uint64{"epoch": 2000}
	keys := []string{"deposit:0x01", "swap:0x02"}

	snap := persistence.NewSnapshotData(41, hash, orig, clock, keys)

	// through JSON, as stored in event_log.snapshots
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	var loaded persistence.SnapshotData
	require.NoError(t, json.Unmarshal(raw, &loaded))

	restored, err := loaded.LedgerState()
	require.NoError(t, err)
	require.Equal(t, orig, restored)

	gotHash, err := loaded.HashBytes()
	require.NoError(t, err)
	require.Equal(t, hash, gotHash)
	require.Equal(t, int64(41), loaded.Sequence)
	require.Equal(t, keys, loaded.IdempotencyKeys)
	require.Equal(t, clock, loaded.ClockState)
}

func TestSnapshotData_Deterministic(t *testing.T) {
	a, err := json.Marshal(persistence.NewSnapshotData(1, [32]byte{}, sampleState(), nil, nil))
	require.NoError(t, err)
	b, err := json.Marshal(persistence.NewSnapshotData(1, [32]byte{}, sampleState(), nil, nil))
	require.NoError(t, err)
	require.JSONEq(t, string(a), string(b))
}

func TestSnapshotData_RejectsCorruptAmounts(t *testing.T) {
	snap := persistence.NewSnapshotData(1, [32]byte{}, sampleState(), nil, nil)
	snap.Chains[0].PCV = "12x"
	_, err := snap.LedgerState()
	require.Error(t, err)

	snap = persistence.NewSnapshotData(1, [32]byte{}, sampleState(), nil, nil)
	snap.StateHash = snap.StateHash[:4]
	_, err = snap.HashBytes()
	require.Error(t, err)
}

func TestNewRecordRow(t *testing.T) {
	rec := &ledger.Record{
		RecordID:    uuid.New(),
		Sequence:    12,
		Kind:        ledger.RecordKindSwapSettled,
		Action:      "SwapSettled",
		UniversalID: [32]byte{0xab},
		FromChainID: 1,
		ToChainID:   2,
		Amount:      *uint256.NewInt(110),
		Timestamp:   1_700_000_000_000_000,
	}
	rec.Reward.Calculated.SetUint64(15)
	rec.Reward.Granted.SetUint64(10)

	row, err := persistence.NewRecordRow(rec)
	require.NoError(t, err)
	require.Equal(t, rec.RecordID.String(), row.RecordID)
	require.Equal(t, "swap_settled", row.Kind)
	require.Equal(t, "110", row.Amount)
	require.Equal(t, "10", row.RewardGranted)
	require.Equal(t, int64(2), row.ToChainID)

	var detail ledger.RecordJSON
	require.NoError(t, json.Unmarshal(row.Detail, &detail))
	require.Equal(t, "5", detail.Reward.Forfeited)
	require.Equal(t, int64(1_700_000_000_000_000), detail.TimestampUs)
}
