package event

import (
	"time"

	"YPoolLedger/internal/state"

	"github.com/holiman/uint256"
)

// SwapInitiated reserves AmountOut on the target chain for a swap that
// entered the pool on the source chain. Origin is the source chain.
type SwapInitiated struct {
	Origin
	ToChainID uint32
	Account   state.AccountID
	AmountIn  uint256.Int
	AmountOut uint256.Int
	GasFee    uint256.Int
	Timestamp time.Time
}

func (s *SwapInitiated) IdempotencyKey() string {
	return s.UniversalID().String()
}

func (s *SwapInitiated) IdempotencyClass() IdempotencyClass {
	return ClassSwap
}

func (s *SwapInitiated) EventType() EventType {
	return EventTypeSwapInitiated
}

func (s *SwapInitiated) EventTime() time.Time {
	return s.Timestamp
}

// The completion events below are deduplicated by the swap state machine
// rather than by the registry: a completed swap rejects every further
// transition.

// SwapSettled completes a swap on the happy path. Timestamp is the injected
// settlement time used for epoch accounting.
type SwapSettled struct {
	Origin
	TokenUSDValue uint256.Int
	Timestamp     time.Time
}

func (s *SwapSettled) IdempotencyKey() string {
	return s.UniversalID().String()
}

func (s *SwapSettled) IdempotencyClass() IdempotencyClass {
	return ClassNone
}

func (s *SwapSettled) EventType() EventType {
	return EventTypeSwapSettled
}

func (s *SwapSettled) EventTime() time.Time {
	return s.Timestamp
}

// SwapInvalidated releases the reservation but deducts what was actually
// paid out on the target chain.
type SwapInvalidated struct {
	Origin
	ActualAmountOut uint256.Int
	Timestamp       time.Time
}

func (s *SwapInvalidated) IdempotencyKey() string {
	return s.UniversalID().String()
}

func (s *SwapInvalidated) IdempotencyClass() IdempotencyClass {
	return ClassNone
}

func (s *SwapInvalidated) EventType() EventType {
	return EventTypeSwapInvalidated
}

func (s *SwapInvalidated) EventTime() time.Time {
	return s.Timestamp
}

// SwapTimedOut releases the reservation without moving liquidity.
type SwapTimedOut struct {
	Origin
	Timestamp time.Time
}

func (s *SwapTimedOut) IdempotencyKey() string {
	return s.UniversalID().String()
}

func (s *SwapTimedOut) IdempotencyClass() IdempotencyClass {
	return ClassNone
}

func (s *SwapTimedOut) EventType() EventType {
	return EventTypeSwapTimedOut
}

func (s *SwapTimedOut) EventTime() time.Time {
	return s.Timestamp
}
