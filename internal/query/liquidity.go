package query

import (
	"fmt"

	"YPoolLedger/internal/state"

	"github.com/holiman/uint256"
)

// PoolResponse represents pool-wide state for API queries
type PoolResponse struct {
	TotalPCV    string `json:"total_pcv"`
	TotalShares string `json:"total_shares"`
	YieldRate   string `json:"yield_rate"` // PCV per share at 10^8, "" while no shares exist

	RewardThreshold     uint64 `json:"reward_threshold"` // base points
	RewardValueDecimals uint8  `json:"reward_value_decimals"`

	// Metadata
	AsOfSequence int64  `json:"as_of_sequence"` // last applied event sequence, -1 before the first
	StateHash    string `json:"state_hash"`
}

// FeeStructureResponse is a chain's withdrawal fee schedule
type FeeStructureResponse struct {
	IsSet    bool   `json:"is_set"`
	Min      string `json:"min"`
	Max      string `json:"max"`
	Rate     string `json:"rate"`
	Decimals uint8  `json:"decimals"`
}

// ChainResponse contains one chain's liquidity
type ChainResponse struct {
	ChainID   uint32               `json:"chain_id"`
	PCV       string               `json:"pcv"`
	Locked    string               `json:"locked"`    // reserved by in-flight swaps
	Remaining string               `json:"remaining"` // pcv - locked
	Weight    uint8                `json:"weight"`
	Fee       FeeStructureResponse `json:"fee"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

func newChainResponse(c *state.ChainLiquidity, asOf int64) ChainResponse {
	return ChainResponse{
		ChainID:   c.ChainID,
		PCV:       c.PCV.Dec(),
		Locked:    c.Locked.Dec(),
		Remaining: c.Free().Dec(),
		Weight:    c.Weight,
		Fee: FeeStructureResponse{
			IsSet:    c.Fee.IsSet,
			Min:      c.Fee.Min.Dec(),
			Max:      c.Fee.Max.Dec(),
			Rate:     c.Fee.Rate.Dec(),
			Decimals: c.Fee.Decimals,
		},
		AsOfSequence: asOf,
	}
}

// checkLiveState verifies pool invariants on the in-memory state: chain PCVs
// sum to the total and no chain locks more than it holds.
func checkLiveState(pool state.Pool, chains []state.ChainLiquidity) []string {
	var violations []string

	var sum uint256.Int
	for i := range chains {
		c := &chains[i]
		if c.Locked.Gt(&c.PCV) {
			violations = append(violations, fmt.Sprintf("chain %d locks %s above pcv %s", c.ChainID, c.Locked.Dec(), c.PCV.Dec()))
		}
		if _, overflow := sum.AddOverflow(&sum, &c.PCV); overflow {
			violations = append(violations, "chain pcv sum overflows 256 bits")
			return violations
		}
	}
	if !sum.Eq(&pool.TotalPCV) {
		violations = append(violations, fmt.Sprintf("sum of chain pcv %s differs from total pcv %s", sum.Dec(), pool.TotalPCV.Dec()))
	}
	return violations
}
