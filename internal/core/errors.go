package core

import (
	"errors"

	fpmath "YPoolLedger/internal/math"
	"YPoolLedger/internal/state"
)

// Precondition violations. An operation returning one of these left the
// ledger untouched.
var (
	ErrDuplicate              = errors.New("duplicate event")
	ErrZeroAmount             = errors.New("zero amount")
	ErrZeroAccount            = errors.New("zero account")
	ErrInvalidTransition      = errors.New("invalid swap transition")
	ErrSwapExists             = errors.New("swap already exists")
	ErrSwapNotFound           = errors.New("swap not found")
	ErrInsufficientLiquidity  = errors.New("insufficient free liquidity")
	ErrFeeStructureUnset      = errors.New("fee structure not set")
	ErrInsufficientRevenue    = errors.New("revenue does not cover gas fee")
	ErrNoShares               = errors.New("pool has no shares")
	ErrInsufficientShares     = errors.New("share amount exceeds total shares")
	ErrFeeExceedsAmount       = errors.New("fee exceeds withdrawal amount")
	ErrLockedLiquidity        = errors.New("liquidity is locked by in-flight swaps")
	ErrInvalidConfig          = errors.New("invalid configuration")
	ErrClockRegression        = errors.New("clock regression")
	ErrUnknownEvent           = errors.New("unknown event type")
	ErrIdempotencyUnavailable = errors.New("idempotency store unavailable")
)

var rejectReasons = []struct {
	err    error
	reason string
}{
	{ErrDuplicate, "duplicate"},
	{ErrZeroAmount, "zero_amount"},
	{ErrZeroAccount, "zero_account"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrSwapExists, "swap_exists"},
	{ErrSwapNotFound, "swap_not_found"},
	{ErrInsufficientLiquidity, "insufficient_liquidity"},
	{ErrFeeStructureUnset, "fee_unset"},
	{ErrInsufficientRevenue, "insufficient_revenue"},
	{ErrNoShares, "no_shares"},
	{ErrInsufficientShares, "insufficient_shares"},
	{ErrFeeExceedsAmount, "fee_exceeds_amount"},
	{ErrLockedLiquidity, "locked_liquidity"},
	{ErrInvalidConfig, "invalid_config"},
	{ErrClockRegression, "clock_regression"},
	{ErrUnknownEvent, "unknown_event"},
	{ErrIdempotencyUnavailable, "idempotency_unavailable"},
	{fpmath.ErrRewardUndefined, "reward_undefined"},
	{fpmath.ErrArithmeticOverflow, "overflow"},
	{fpmath.ErrDivisionByZero, "division_by_zero"},
	{state.ErrEpochUnconfigured, "epoch_unconfigured"},
	{state.ErrEpochNotStarted, "epoch_not_started"},
}

// RejectReason maps an error to a short label for metrics and logs.
func RejectReason(err error) string {
	for _, r := range rejectReasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "other"
}
