package state

import (
	"encoding/binary"
	"fmt"

	fpmath "YPoolLedger/internal/math"

	"github.com/holiman/uint256"
)

// FeeStructure is the withdrawal fee schedule of a chain.
// fee = clamp(amount * Rate / 10^Decimals, Min, Max)
type FeeStructure struct {
	IsSet    bool
	Min      uint256.Int
	Max      uint256.Int
	Rate     uint256.Int
	Decimals uint8
}

// ValidateFeeStructure checks that a fee schedule is usable.
func ValidateFeeStructure(fee *FeeStructure) error {
	if fee.Min.Gt(&fee.Max) {
		return fmt.Errorf("fee min (%s) must be <= max (%s)", fee.Min.Dec(), fee.Max.Dec())
	}
	if fee.Decimals > fpmath.MaxDecimals {
		return fmt.Errorf("fee decimals must be <= %d, got %d", fpmath.MaxDecimals, fee.Decimals)
	}
	return nil
}

// Compute returns the clamped fee for a withdrawal of amount.
func (f *FeeStructure) Compute(amount *uint256.Int) (*uint256.Int, error) {
	return fpmath.ScaledFee(amount, &f.Rate, f.Decimals, &f.Min, &f.Max)
}

// ChainLiquidity is the pool's position on one remote chain.
// Invariant: Locked <= PCV.
type ChainLiquidity struct {
	ChainID uint32
	PCV     uint256.Int
	Locked  uint256.Int
	Fee     FeeStructure
	Weight  uint8 // preferred-distribution hint, not used by settlement
}

// Free returns liquidity available to back new swaps.
func (c *ChainLiquidity) Free() *uint256.Int {
	if c.Locked.Gt(&c.PCV) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(&c.PCV, &c.Locked)
}

// CanonicalBytes for deterministic hashing
func (c *ChainLiquidity) CanonicalBytes() []byte {
	buf := make([]byte, 0, 4+32+32+1+1+3*32+1)
	buf = binary.BigEndian.AppendUint32(buf, c.ChainID)
	pcv := c.PCV.Bytes32()
	locked := c.Locked.Bytes32()
	buf = append(buf, pcv[:]...)
	buf = append(buf, locked[:]...)
	buf = append(buf, c.Weight)
	return c.Fee.appendCanonical(buf)
}

func (f *FeeStructure) appendCanonical(buf []byte) []byte {
	if f.IsSet {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	for _, v := range []*uint256.Int{&f.Min, &f.Max, &f.Rate} {
		b := v.Bytes32()
		buf = append(buf, b[:]...)
	}
	return append(buf, f.Decimals)
}

// Pool is the singleton pool of the asset across all chains.
// Invariant: TotalPCV == sum of ChainLiquidity.PCV.
type Pool struct {
	TotalPCV    uint256.Int
	TotalShares uint256.Int
}

// CanonicalBytes for deterministic hashing
func (p *Pool) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64)
	pcv := p.TotalPCV.Bytes32()
	shares := p.TotalShares.Bytes32()
	buf = append(buf, pcv[:]...)
	buf = append(buf, shares[:]...)
	return buf
}
