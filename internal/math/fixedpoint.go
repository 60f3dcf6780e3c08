package math

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int    // Number of decimal places
	Scale            uint64 // 10^DecimalPrecision
}

var (
	// YieldConfig is the scale of the pool yield rate (PCV per share).
	YieldConfig = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000}

	// BasePointConfig is the scale of reward rates and thresholds.
	BasePointConfig = DecimalConfig{DecimalPrecision: 4, Scale: 10_000}
)

// MaxDecimals is the largest power of ten representable in 256 bits.
const MaxDecimals = 77

var (
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrDivisionByZero     = errors.New("division by zero")
)

// Add returns x + y, failing on 256-bit overflow.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s", ErrArithmeticOverflow, x.Dec(), y.Dec())
	}
	return z, nil
}

// Sub returns x - y, failing on underflow.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, fmt.Errorf("%w: %s - %s", ErrArithmeticOverflow, x.Dec(), y.Dec())
	}
	return z, nil
}

// Mul returns x * y, failing on 256-bit overflow.
func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s", ErrArithmeticOverflow, x.Dec(), y.Dec())
	}
	return z, nil
}

// MulDiv returns floor(x * y / d). The product must fit in 256 bits: an
// intermediate overflow is reported, never widened.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, err := Mul(x, y)
	if err != nil {
		return nil, err
	}
	return z.Div(z, d), nil
}

// Pow10 returns 10^decimals.
func Pow10(decimals uint8) (*uint256.Int, error) {
	if decimals > MaxDecimals {
		return nil, fmt.Errorf("%w: 10^%d", ErrArithmeticOverflow, decimals)
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals))), nil
}

// SharesForDeposit returns the shares minted for a deposit: one share per unit
// for the first depositor, totalShares*amount/totalPCV afterwards.
func SharesForDeposit(totalShares, totalPCV, amount *uint256.Int) (*uint256.Int, error) {
	if totalShares.IsZero() {
		return amount.Clone(), nil
	}
	return MulDiv(totalShares, amount, totalPCV)
}

// YieldRate returns totalPCV per share scaled by YieldConfig. Before the first
// deposit the rate is exactly one.
func YieldRate(totalPCV, totalShares *uint256.Int) (*uint256.Int, error) {
	scale := uint256.NewInt(YieldConfig.Scale)
	if totalPCV.IsZero() || totalShares.IsZero() {
		return scale, nil
	}
	return MulDiv(totalPCV, scale, totalShares)
}

// SharesToAmount converts shares to PCV units at the given yield rate.
func SharesToAmount(shares, yieldRate *uint256.Int) (*uint256.Int, error) {
	return MulDiv(shares, yieldRate, uint256.NewInt(YieldConfig.Scale))
}

// ScaledFee computes amount*rate/10^decimals clamped to [min, max].
func ScaledFee(amount, rate *uint256.Int, decimals uint8, min, max *uint256.Int) (*uint256.Int, error) {
	scale, err := Pow10(decimals)
	if err != nil {
		return nil, err
	}
	fee, err := MulDiv(amount, rate, scale)
	if err != nil {
		return nil, err
	}
	if fee.Lt(min) {
		fee.Set(min)
	}
	if fee.Gt(max) {
		fee.Set(max)
	}
	return fee, nil
}
