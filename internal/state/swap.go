package state

import (
	"github.com/holiman/uint256"
)

// SwapStatus tracks a swap through its lifecycle
type SwapStatus uint8

const (
	SwapStatusNonexist SwapStatus = iota
	SwapStatusInitiated
	SwapStatusCompleted
)

func (s SwapStatus) String() string {
	switch s {
	case SwapStatusNonexist:
		return "Nonexist"
	case SwapStatusInitiated:
		return "Initiated"
	case SwapStatusCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions. Completed is terminal.
func (s SwapStatus) CanTransitionTo(next SwapStatus) bool {
	switch s {
	case SwapStatusNonexist:
		return next == SwapStatusInitiated
	case SwapStatusInitiated:
		return next == SwapStatusCompleted
	default:
		return false
	}
}

// CompletionKind records how a swap left the Initiated state.
type CompletionKind uint8

const (
	CompletionNone CompletionKind = iota
	CompletionSettled
	CompletionTimeout
	CompletionInvalidated
)

func (k CompletionKind) String() string {
	switch k {
	case CompletionNone:
		return "None"
	case CompletionSettled:
		return "Settled"
	case CompletionTimeout:
		return "Timeout"
	case CompletionInvalidated:
		return "Invalidated"
	default:
		return "Unknown"
	}
}

// SwapRecord is keyed by the universal id of (FromChainID, Nonce).
type SwapRecord struct {
	UniversalID [32]byte
	FromChainID uint32
	ToChainID   uint32
	Nonce       uint256.Int
	Account     AccountID
	AmountIn    uint256.Int
	AmountOut   uint256.Int
	GasFee      uint256.Int
	Status      SwapStatus
	Completion  CompletionKind
}

// Revenue is what the pool keeps from the swap before paying gas.
func (r *SwapRecord) Revenue() *uint256.Int {
	return new(uint256.Int).Sub(&r.AmountIn, &r.AmountOut)
}

// Complete moves the swap to its terminal state.
func (r *SwapRecord) Complete(kind CompletionKind) bool {
	if !r.Status.CanTransitionTo(SwapStatusCompleted) {
		return false
	}
	r.Status = SwapStatusCompleted
	r.Completion = kind
	return true
}
