package state

import (
	"sort"

	fpmath "YPoolLedger/internal/math"

	"github.com/holiman/uint256"
)

// DefaultRewardThreshold is the initial minimum reward rate (1 base point).
const DefaultRewardThreshold uint64 = 1

// DefaultRewardValueDecimals is the initial decimals of the reward token.
const DefaultRewardValueDecimals uint8 = 18

// LedgerState is the authoritative mutable state of the pool.
// Not thread-safe: it is owned by the settlement core, which serializes
// every access.
type LedgerState struct {
	Pool    Pool
	Chains  map[uint32]*ChainLiquidity
	Swaps   map[[32]byte]*SwapRecord
	Rewards map[AccountID]uint256.Int
	Epoch   EpochState

	RewardThreshold     uint64 // base points
	RewardValueDecimals uint8
}

func NewLedgerState() *LedgerState {
	return &LedgerState{
		Chains:              make(map[uint32]*ChainLiquidity),
		Swaps:               make(map[[32]byte]*SwapRecord),
		Rewards:             make(map[AccountID]uint256.Int),
		RewardThreshold:     DefaultRewardThreshold,
		RewardValueDecimals: DefaultRewardValueDecimals,
	}
}

// Chain returns the liquidity record for a chain, or a zero record if the
// chain has never been touched. The zero record is not stored.
func (s *LedgerState) Chain(chainID uint32) *ChainLiquidity {
	if c, ok := s.Chains[chainID]; ok {
		return c
	}
	return &ChainLiquidity{ChainID: chainID}
}

// EnsureChain returns the stored record for a chain, creating it if needed.
func (s *LedgerState) EnsureChain(chainID uint32) *ChainLiquidity {
	c, ok := s.Chains[chainID]
	if !ok {
		c = &ChainLiquidity{ChainID: chainID}
		s.Chains[chainID] = c
	}
	return c
}

// SwapStatus returns the status of the swap with the given universal id.
func (s *LedgerState) SwapStatus(id [32]byte) SwapStatus {
	if r, ok := s.Swaps[id]; ok {
		return r.Status
	}
	return SwapStatusNonexist
}

// Reward returns an account's accumulated reward.
func (s *LedgerState) Reward(account AccountID) uint256.Int {
	return s.Rewards[account]
}

// YieldRate returns PCV per share at YieldConfig scale.
func (s *LedgerState) YieldRate() (*uint256.Int, error) {
	return fpmath.YieldRate(&s.Pool.TotalPCV, &s.Pool.TotalShares)
}

// ChainIDs returns all known chain ids in ascending order.
func (s *LedgerState) ChainIDs() []uint32 {
	ids := make([]uint32, 0, len(s.Chains))
	for id := range s.Chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clone returns a deep copy.
func (s *LedgerState) Clone() *LedgerState {
	out := &LedgerState{
		Pool:                s.Pool,
		Chains:              make(map[uint32]*ChainLiquidity, len(s.Chains)),
		Swaps:               make(map[[32]byte]*SwapRecord, len(s.Swaps)),
		Rewards:             make(map[AccountID]uint256.Int, len(s.Rewards)),
		Epoch:               s.Epoch,
		RewardThreshold:     s.RewardThreshold,
		RewardValueDecimals: s.RewardValueDecimals,
	}
	for id, c := range s.Chains {
		cp := *c
		out.Chains[id] = &cp
	}
	for id, r := range s.Swaps {
		cp := *r
		out.Swaps[id] = &cp
	}
	for acct, amt := range s.Rewards {
		out.Rewards[acct] = amt
	}
	return out
}
