package ledger

import (
	"encoding/hex"
	"fmt"

	fpmath "YPoolLedger/internal/math"
	"YPoolLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// RecordKind represents the operation an audit record describes
type RecordKind int32

const (
	RecordKindDeposit RecordKind = iota
	RecordKindWithdraw
	RecordKindSwapInitiated
	RecordKindSwapSettled
	RecordKindSwapInvalidated
	RecordKindSwapTimedOut
	RecordKindRewardClaimed
	RecordKindAdmin
)

var recordKindNames = map[RecordKind]string{
	RecordKindDeposit:         "deposit",
	RecordKindWithdraw:        "withdraw",
	RecordKindSwapInitiated:   "swap_initiated",
	RecordKindSwapSettled:     "swap_settled",
	RecordKindSwapInvalidated: "swap_invalidated",
	RecordKindSwapTimedOut:    "swap_timed_out",
	RecordKindRewardClaimed:   "reward_claimed",
	RecordKindAdmin:           "admin",
}

func (k RecordKind) String() string {
	if name, ok := recordKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsSwap reports whether the record belongs to a swap lifecycle.
func (k RecordKind) IsSwap() bool {
	return k >= RecordKindSwapInitiated && k <= RecordKindSwapTimedOut
}

// Balances captures pool and chain amounts around an operation.
// From/To refer to the source and target chain; single-chain operations
// fill only the From side.
type Balances struct {
	TotalPCV    uint256.Int
	TotalShares uint256.Int
	FromPCV     uint256.Int
	FromLocked  uint256.Int
	ToPCV       uint256.Int
	ToLocked    uint256.Int
}

// RewardTrace is the reward computation of a settlement. Every field is
// populated, zero included, so indexers can rely on its presence.
type RewardTrace struct {
	TokenUSDValue uint256.Int
	OldProduct    uint256.Int
	NewProduct    uint256.Int
	RewardRate    uint256.Int // base points
	Calculated    uint256.Int // before the epoch budget
	Granted       uint256.Int
	EpochNumber   uint64
}

// Forfeited is the part of the calculated reward the epoch budget refused.
func (t *RewardTrace) Forfeited() *uint256.Int {
	if t.Granted.Gt(&t.Calculated) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(&t.Calculated, &t.Granted)
}

// Record is the structured audit entry emitted for every applied operation.
type Record struct {
	RecordID    uuid.UUID
	Sequence    int64 // Global event sequence
	Kind        RecordKind
	Action      string   // Event type name, distinguishes admin setters
	UniversalID [32]byte // Zero for admin records
	FromChainID uint32
	ToChainID   uint32
	Nonce       uint256.Int
	Account     state.AccountID

	Amount    uint256.Int // Deposit amount, withdraw net, swap amountIn, actual payout or claim
	AmountOut uint256.Int
	GasFee    uint256.Int
	Shares    uint256.Int // Minted or burned
	Fee       uint256.Int // Withdraw protocol fee

	Before Balances
	After  Balances

	Reward        RewardTrace
	RewardBalance uint256.Int // Account reward balance after the operation

	Timestamp int64 // Versioned input timestamp (epoch microseconds)
}

// Validate ensures the record is well-formed.
func (r *Record) Validate() error {
	if r.RecordID == uuid.Nil {
		return fmt.Errorf("record at seq %d has nil id", r.Sequence)
	}
	if _, ok := recordKindNames[r.Kind]; !ok {
		return fmt.Errorf("record %s has unknown kind %d", r.RecordID, r.Kind)
	}
	if r.Kind != RecordKindAdmin && r.UniversalID == [32]byte{} {
		return fmt.Errorf("record %s (%s) has zero universal id", r.RecordID, r.Kind)
	}
	if r.Reward.RewardRate.Gt(uint256.NewInt(fpmath.BasePointConfig.Scale)) {
		return fmt.Errorf("record %s reward rate %s exceeds %d", r.RecordID, r.Reward.RewardRate.Dec(), fpmath.BasePointConfig.Scale)
	}
	if r.Reward.Granted.Gt(&r.Reward.Calculated) {
		return fmt.Errorf("record %s granted %s exceeds calculated %s",
			r.RecordID, r.Reward.Granted.Dec(), r.Reward.Calculated.Dec())
	}
	return nil
}

// --- Wire form ---

// BalancesJSON is the decimal-string form of Balances
type BalancesJSON struct {
	TotalPCV    string `json:"total_pcv"`
	TotalShares string `json:"total_shares"`
	FromPCV     string `json:"from_pcv"`
	FromLocked  string `json:"from_locked"`
	ToPCV       string `json:"to_pcv"`
	ToLocked    string `json:"to_locked"`
}

type RewardTraceJSON struct {
	TokenUSDValue string `json:"token_usd_value"`
	OldProduct    string `json:"old_product"`
	NewProduct    string `json:"new_product"`
	RewardRate    string `json:"reward_rate"`
	Calculated    string `json:"calculated"`
	Granted       string `json:"granted"`
	Forfeited     string `json:"forfeited"`
	EpochNumber   uint64 `json:"epoch_number"`
}

// RecordJSON is what leaves the process: published on NATS and stored in
// event_log.audit_records.
type RecordJSON struct {
	RecordID      string          `json:"record_id"`
	Sequence      int64           `json:"sequence"`
	Kind          string          `json:"kind"`
	Action        string          `json:"action"`
	UniversalID   string          `json:"universal_id"`
	FromChainID   uint32          `json:"from_chain_id"`
	ToChainID     uint32          `json:"to_chain_id"`
	Nonce         string          `json:"nonce"`
	Account       string          `json:"account"`
	Amount        string          `json:"amount"`
	AmountOut     string          `json:"amount_out"`
	GasFee        string          `json:"gas_fee"`
	Shares        string          `json:"shares"`
	Fee           string          `json:"fee"`
	Before        BalancesJSON    `json:"before"`
	After         BalancesJSON    `json:"after"`
	Reward        RewardTraceJSON `json:"reward"`
	RewardBalance string          `json:"reward_balance"`
	TimestampUs   int64           `json:"timestamp_us"`
}

func (b *Balances) Wire() BalancesJSON {
	return BalancesJSON{
		TotalPCV:    b.TotalPCV.Dec(),
		TotalShares: b.TotalShares.Dec(),
		FromPCV:     b.FromPCV.Dec(),
		FromLocked:  b.FromLocked.Dec(),
		ToPCV:       b.ToPCV.Dec(),
		ToLocked:    b.ToLocked.Dec(),
	}
}

func (r *Record) Wire() RecordJSON {
	return RecordJSON{
		RecordID:    r.RecordID.String(),
		Sequence:    r.Sequence,
		Kind:        r.Kind.String(),
		Action:      r.Action,
		UniversalID: "0x" + hex.EncodeToString(r.UniversalID[:]),
		FromChainID: r.FromChainID,
		ToChainID:   r.ToChainID,
		Nonce:       r.Nonce.Dec(),
		Account:     r.Account.String(),
		Amount:      r.Amount.Dec(),
		AmountOut:   r.AmountOut.Dec(),
		GasFee:      r.GasFee.Dec(),
		Shares:      r.Shares.Dec(),
		Fee:         r.Fee.Dec(),
		Before:      r.Before.Wire(),
		After:       r.After.Wire(),
		Reward: RewardTraceJSON{
			TokenUSDValue: r.Reward.TokenUSDValue.Dec(),
			OldProduct:    r.Reward.OldProduct.Dec(),
			NewProduct:    r.Reward.NewProduct.Dec(),
			RewardRate:    r.Reward.RewardRate.Dec(),
			Calculated:    r.Reward.Calculated.Dec(),
			Granted:       r.Reward.Granted.Dec(),
			Forfeited:     r.Reward.Forfeited().Dec(),
			EpochNumber:   r.Reward.EpochNumber,
		},
		RewardBalance: r.RewardBalance.Dec(),
		TimestampUs:   r.Timestamp,
	}
}
