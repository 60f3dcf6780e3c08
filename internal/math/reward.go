package math

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// ErrRewardUndefined is returned when an input would make the reward
// calculation divide by zero.
var ErrRewardUndefined = errors.New("reward undefined")

// RewardInput carries the pre-settlement liquidity snapshot of a swap.
// AmountIn is the effective inflow on the source chain (gas already deducted).
type RewardInput struct {
	ValueDecimals uint8
	SwapFeeAmount uint256.Int
	TokenUSDValue uint256.Int
	PrevTotalPCV  uint256.Int
	PrevFromPCV   uint256.Int
	AmountIn      uint256.Int
	PrevToPCV     uint256.Int
	AmountOut     uint256.Int

	// Threshold is the minimum reward rate in base points.
	Threshold uint64
}

// RewardResult keeps every intermediate value; the audit trail records them
// even when the reward is zero.
type RewardResult struct {
	OldProduct   uint256.Int
	NewProduct   uint256.Int
	RewardRate   uint256.Int // base points, [0, 10000]
	FeeReward    uint256.Int // reward in fee units, before token conversion
	RewardAmount uint256.Int // reward in reward-token units
}

// CalculateReward converts a liquidity-rebalancing swap into a reward.
//
// Every division truncates and the order of operations is fixed:
//
//	rate   = 10000 * (from + to) / total
//	new    = (from + in) * (to - out)      second factor omitted when to <= out
//	old    = to * from                     second factor omitted when from == 0
//	rate   = new <= old ? 0 : rate * (new - old) / old, capped at 10000
//	reward = rate > 0 && rate >= threshold ? fee + fee*rate/10000 : 0
//	reward = reward * 10^decimals / usdValue
func CalculateReward(in RewardInput) (RewardResult, error) {
	var res RewardResult

	if in.TokenUSDValue.IsZero() {
		return res, fmt.Errorf("%w: token usd value is zero", ErrRewardUndefined)
	}
	if in.PrevTotalPCV.IsZero() {
		return res, fmt.Errorf("%w: total pcv is zero", ErrRewardUndefined)
	}
	if in.PrevToPCV.IsZero() {
		return res, fmt.Errorf("%w: target chain pcv is zero", ErrRewardUndefined)
	}
	inflow, err := Add(&in.PrevFromPCV, &in.AmountIn)
	if err != nil {
		return res, err
	}
	if inflow.IsZero() {
		return res, fmt.Errorf("%w: source chain pcv after inflow is zero", ErrRewardUndefined)
	}

	bp := uint256.NewInt(BasePointConfig.Scale)

	// Step 1: base rate scaled by the pair's share of total liquidity
	pair, err := Add(&in.PrevFromPCV, &in.PrevToPCV)
	if err != nil {
		return res, err
	}
	rate, err := MulDiv(bp, pair, &in.PrevTotalPCV)
	if err != nil {
		return res, err
	}

	// Step 2
	newProduct := inflow
	if in.PrevToPCV.Gt(&in.AmountOut) {
		remaining := new(uint256.Int).Sub(&in.PrevToPCV, &in.AmountOut)
		if newProduct, err = Mul(newProduct, remaining); err != nil {
			return res, err
		}
	}

	// Step 3
	oldProduct := in.PrevToPCV.Clone()
	if !in.PrevFromPCV.IsZero() {
		if oldProduct, err = Mul(oldProduct, &in.PrevFromPCV); err != nil {
			return res, err
		}
	}

	// Step 4: scale by the relative improvement of the product
	if newProduct.Cmp(oldProduct) <= 0 {
		rate.Clear()
	} else {
		improvement := new(uint256.Int).Sub(newProduct, oldProduct)
		if rate, err = MulDiv(rate, improvement, oldProduct); err != nil {
			return res, err
		}
	}

	// Step 5
	if rate.Gt(bp) {
		rate.Set(bp)
	}

	res.OldProduct.Set(oldProduct)
	res.NewProduct.Set(newProduct)
	res.RewardRate.Set(rate)

	// Step 6
	if rate.IsZero() || rate.Lt(uint256.NewInt(in.Threshold)) {
		return res, nil
	}
	bonus, err := MulDiv(&in.SwapFeeAmount, rate, bp)
	if err != nil {
		return res, err
	}
	feeReward, err := Add(&in.SwapFeeAmount, bonus)
	if err != nil {
		return res, err
	}
	res.FeeReward.Set(feeReward)

	// Step 7: fee units to reward-token units
	scale, err := Pow10(in.ValueDecimals)
	if err != nil {
		return res, err
	}
	amount, err := MulDiv(feeReward, scale, &in.TokenUSDValue)
	if err != nil {
		return res, err
	}
	res.RewardAmount.Set(amount)

	return res, nil
}
