package projection

import (
	"sync"

	"YPoolLedger/internal/ledger"
)

const (
	RewardEntryGrant = "grant"
	RewardEntryClaim = "claim"
)

// RewardHistoryEntry is one change to an account's rebalance reward
type RewardHistoryEntry struct {
	Account     string `json:"account"`
	Sequence    int64  `json:"sequence"`
	Kind        string `json:"kind"` // grant or claim
	UniversalID string `json:"universal_id"`
	Amount      string `json:"amount"`
	Forfeited   string `json:"forfeited,omitempty"`
	EpochNumber uint64 `json:"epoch_number"`
	Balance     string `json:"balance"` // Reward balance after the change
	TimestampUs int64  `json:"timestamp_us"`
}

// RewardHistoryProjection maintains queryable reward history in memory.
// Written by the projection worker, read by the query service.
type RewardHistoryProjection struct {
	mu      sync.RWMutex
	entries []RewardHistoryEntry
}

func NewRewardHistoryProjection() *RewardHistoryProjection {
	return &RewardHistoryProjection{
		entries: make([]RewardHistoryEntry, 0),
	}
}

// RewardEntryFromRecord returns the history entry for a settlement or claim
// record, and false for records that do not touch rewards. Settlements that
// granted nothing are skipped unless part of the reward was forfeited.
func RewardEntryFromRecord(rec *ledger.RecordJSON) (RewardHistoryEntry, bool) {
	entry := RewardHistoryEntry{
		Account:     rec.Account,
		Sequence:    rec.Sequence,
		UniversalID: rec.UniversalID,
		EpochNumber: rec.Reward.EpochNumber,
		Balance:     rec.RewardBalance,
		TimestampUs: rec.TimestampUs,
	}
	switch rec.Kind {
	case ledger.RecordKindSwapSettled.String():
		if rec.Reward.Calculated == "0" {
			return RewardHistoryEntry{}, false
		}
		entry.Kind = RewardEntryGrant
		entry.Amount = rec.Reward.Granted
		entry.Forfeited = rec.Reward.Forfeited
	case ledger.RecordKindRewardClaimed.String():
		entry.Kind = RewardEntryClaim
		entry.Amount = rec.Amount
	default:
		return RewardHistoryEntry{}, false
	}
	return entry, true
}

// AddEntry records a reward change
func (p *RewardHistoryProjection) AddEntry(entry RewardHistoryEntry) {
	p.mu.Lock()
	p.entries = append(p.entries, entry)
	p.mu.Unlock()
}

// Reset drops every entry, before a rebuild.
func (p *RewardHistoryProjection) Reset() {
	p.mu.Lock()
	p.entries = p.entries[:0]
	p.mu.Unlock()
}

// QueryByAccount returns reward history for an account, newest first
func (p *RewardHistoryProjection) QueryByAccount(account string, limit int) []RewardHistoryEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]RewardHistoryEntry, 0)

	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if p.entries[i].Account == account {
			result = append(result, p.entries[i])
		}
	}

	return result
}

// Len returns the number of entries held.
func (p *RewardHistoryProjection) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
