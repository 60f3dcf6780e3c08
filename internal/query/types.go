package query

import (
	"YPoolLedger/internal/ledger"
	"YPoolLedger/internal/projection"
)

// SwapResponse represents a swap for API queries.
type SwapResponse struct {
	UniversalID string `json:"universal_id"`
	FromChainID uint32 `json:"from_chain_id"`
	ToChainID   uint32 `json:"to_chain_id"`
	Nonce       string `json:"nonce"`
	Account     string `json:"account"`
	AmountIn    string `json:"amount_in"`
	AmountOut   string `json:"amount_out"`
	GasFee      string `json:"gas_fee"`
	Status      string `json:"status"`
	Completion  string `json:"completion"`
	Reward      string `json:"reward,omitempty"` // Granted at settlement, projections only
	LastSeq     int64  `json:"last_sequence,omitempty"`
}

// RewardResponse is an account's unclaimed rebalance reward.
type RewardResponse struct {
	Account      string `json:"account"`
	Balance      string `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// EpochResponse is the reward epoch budget.
type EpochResponse struct {
	Period             string `json:"period"` // seconds, "0" while unconfigured
	LimitPerEpoch      string `json:"limit_per_epoch"`
	StartTime          uint64 `json:"start_time"`
	CurrentEpochNumber uint64 `json:"current_epoch_number"`
	CurrentEpochAmount string `json:"current_epoch_amount"`
	Remaining          string `json:"remaining"`
	AsOfSequence       int64  `json:"as_of_sequence"`
}

// AccountSwapsResponse is a page of an account's swaps from the projections.
type AccountSwapsResponse struct {
	Swaps        []SwapResponse `json:"swaps"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

// AccountRecordsResponse is a page of audit records touching an account.
type AccountRecordsResponse struct {
	Records    []ledger.RecordJSON `json:"records"`
	NextCursor *int64              `json:"next_cursor,omitempty"` // pass as before_sequence
}

// RewardHistoryResponse lists reward grants and claims, newest first.
type RewardHistoryResponse struct {
	Account string                          `json:"account"`
	Entries []projection.RewardHistoryEntry `json:"entries"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy              bool     `json:"is_healthy"`
	HashChainBreaks        []int64  `json:"hash_chain_breaks,omitempty"`
	ConservationViolations []string `json:"conservation_violations,omitempty"`
	ProjectionDrift        []string `json:"projection_drift,omitempty"`
	CheckedSequence        int64    `json:"checked_sequence"`
}
