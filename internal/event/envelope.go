package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDeposit
	EventTypeWithdraw
	EventTypeSwapInitiated
	EventTypeSwapSettled
	EventTypeSwapInvalidated
	EventTypeSwapTimedOut
	EventTypeRewardClaimed
	EventTypeFeeStructureSet
	EventTypeRewardThresholdSet
	EventTypeEpochConfigSet
	EventTypeChainWeightSet
	EventTypeChainPCVCorrected
	EventTypeTotalSharesCorrected
	EventTypeRewardDecimalsSet
)

// IdempotencyClass partitions external event ids. The same (chainId, nonce)
// may appear once per class.
type IdempotencyClass string

const (
	ClassNone     IdempotencyClass = ""
	ClassDeposit  IdempotencyClass = "deposit"
	ClassWithdraw IdempotencyClass = "withdraw"
	ClassSwap     IdempotencyClass = "swap"
	ClassClaim    IdempotencyClass = "claim"
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Hex universal id of the external event, empty for admin events
	IdempotencyKey   string
	IdempotencyClass IdempotencyClass

	EventType EventType

	// Chain the event originated from (0 for pool-wide admin events)
	ChainID uint32

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// BLAKE3 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key, empty for admin events
	IdempotencyKey() string

	IdempotencyClass() IdempotencyClass

	// EventType returns the discriminator
	EventType() EventType

	// SourceChain returns the originating chain (0 for pool-wide events)
	SourceChain() uint32

	// EventTime returns the injected timestamp of the event
	EventTime() time.Time
}

var eventTypeNames = map[EventType]string{
	EventTypeDeposit:              "Deposit",
	EventTypeWithdraw:             "Withdraw",
	EventTypeSwapInitiated:        "SwapInitiated",
	EventTypeSwapSettled:          "SwapSettled",
	EventTypeSwapInvalidated:      "SwapInvalidated",
	EventTypeSwapTimedOut:         "SwapTimedOut",
	EventTypeRewardClaimed:        "RewardClaimed",
	EventTypeFeeStructureSet:      "FeeStructureSet",
	EventTypeRewardThresholdSet:   "RewardThresholdSet",
	EventTypeEpochConfigSet:       "EpochConfigSet",
	EventTypeChainWeightSet:       "ChainWeightSet",
	EventTypeChainPCVCorrected:    "ChainPCVCorrected",
	EventTypeTotalSharesCorrected: "TotalSharesCorrected",
	EventTypeRewardDecimalsSet:    "RewardDecimalsSet",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(name string) (EventType, bool) {
	for et, n := range eventTypeNames {
		if n == name {
			return et, true
		}
	}
	return EventTypeUnknown, false
}

// IsAdmin reports whether the event is an administrative setter.
func (et EventType) IsAdmin() bool {
	return et >= EventTypeFeeStructureSet
}
