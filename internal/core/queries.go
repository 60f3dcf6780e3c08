package core

import (
	"YPoolLedger/internal/event"
	"YPoolLedger/internal/state"

	"github.com/holiman/uint256"
)

// Read-only queries. Each takes the read lock and returns copies, so callers
// observe a state between two operations, never one in progress.

func (c *SettlementCore) TotalPCV() uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Pool.TotalPCV
}

func (c *SettlementCore) TotalShares() uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Pool.TotalShares
}

// Pool returns the pool totals.
func (c *SettlementCore) Pool() state.Pool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Pool
}

func (c *SettlementCore) ChainPCV(chainID uint32) uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Chain(chainID).PCV
}

// RemainingLiquidity is pcv - locked: what can still back new swaps.
func (c *SettlementCore) RemainingLiquidity(chainID uint32) uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.state.Chain(chainID).Free()
}

// Chain returns the full liquidity record of a chain (zero if unknown).
func (c *SettlementCore) Chain(chainID uint32) state.ChainLiquidity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.state.Chain(chainID)
}

// Chains returns every known chain in ascending id order.
func (c *SettlementCore) Chains() []state.ChainLiquidity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.state.ChainIDs()
	out := make([]state.ChainLiquidity, 0, len(ids))
	for _, id := range ids {
		out = append(out, *c.state.Chains[id])
	}
	return out
}

// Liquidity returns the pool totals and every chain from one consistent view.
func (c *SettlementCore) Liquidity() (state.Pool, []state.ChainLiquidity) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.state.ChainIDs()
	chains := make([]state.ChainLiquidity, 0, len(ids))
	for _, id := range ids {
		chains = append(chains, *c.state.Chains[id])
	}
	return c.state.Pool, chains
}

// YieldRate returns PCV per share at 10^8 scale.
func (c *SettlementCore) YieldRate() (uint256.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rate, err := c.state.YieldRate()
	if err != nil {
		return uint256.Int{}, err
	}
	return *rate, nil
}

func (c *SettlementCore) SwapStatus(chainID uint32, nonce *uint256.Int) state.SwapStatus {
	id := event.NewUniversalID(chainID, nonce)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.SwapStatus(id)
}

// SwapInfo returns the swap initiated on chainID with nonce.
func (c *SettlementCore) SwapInfo(chainID uint32, nonce *uint256.Int) (state.SwapRecord, bool) {
	id := event.NewUniversalID(chainID, nonce)
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.state.Swaps[id]
	if !ok {
		return state.SwapRecord{}, false
	}
	return *r, true
}

// RebalanceReward returns an account's unclaimed reward.
func (c *SettlementCore) RebalanceReward(account state.AccountID) uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Reward(account)
}

func (c *SettlementCore) FeeStructure(chainID uint32) state.FeeStructure {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Chain(chainID).Fee
}

func (c *SettlementCore) EpochState() state.EpochState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Epoch
}

func (c *SettlementCore) RewardThreshold() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.RewardThreshold
}

func (c *SettlementCore) RewardValueDecimals() uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.RewardValueDecimals
}

// GetSequence returns the next sequence to be assigned.
func (c *SettlementCore) GetSequence() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *SettlementCore) GetStateHash() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasher.GetPrevHash()
}
