package event

import (
	"time"

	"YPoolLedger/internal/state"

	"github.com/holiman/uint256"
)

// Administrative setters. Authorization is checked before an event is
// submitted; the core applies them as plain set operations, so they carry no
// idempotency key.

type admin struct {
	Timestamp time.Time
}

func (a *admin) IdempotencyKey() string {
	return ""
}

func (a *admin) IdempotencyClass() IdempotencyClass {
	return ClassNone
}

func (a *admin) EventTime() time.Time {
	return a.Timestamp
}

// FeeStructureSet replaces a chain's withdrawal fee schedule.
type FeeStructureSet struct {
	admin
	ChainID  uint32
	Min      uint256.Int
	Max      uint256.Int
	Rate     uint256.Int
	Decimals uint8
}

func NewFeeStructureSet(chainID uint32, min, max, rate *uint256.Int, decimals uint8, ts time.Time) *FeeStructureSet {
	e := &FeeStructureSet{ChainID: chainID, Decimals: decimals}
	e.Min.Set(min)
	e.Max.Set(max)
	e.Rate.Set(rate)
	e.Timestamp = ts
	return e
}

func (e *FeeStructureSet) EventType() EventType { return EventTypeFeeStructureSet }
func (e *FeeStructureSet) SourceChain() uint32  { return e.ChainID }

// FeeStructure converts the event into the stored schedule.
func (e *FeeStructureSet) FeeStructure() state.FeeStructure {
	return state.FeeStructure{IsSet: true, Min: e.Min, Max: e.Max, Rate: e.Rate, Decimals: e.Decimals}
}

// RewardThresholdSet sets the minimum reward rate in base points.
type RewardThresholdSet struct {
	admin
	Threshold uint64
}

func NewRewardThresholdSet(threshold uint64, ts time.Time) *RewardThresholdSet {
	e := &RewardThresholdSet{Threshold: threshold}
	e.Timestamp = ts
	return e
}

func (e *RewardThresholdSet) EventType() EventType { return EventTypeRewardThresholdSet }
func (e *RewardThresholdSet) SourceChain() uint32  { return 0 }

// EpochConfigSet sets the reward epoch period (seconds) and per-epoch limit.
// Timestamp becomes the epoch start when the period changes.
type EpochConfigSet struct {
	admin
	Period        uint256.Int
	LimitPerEpoch uint256.Int
}

func NewEpochConfigSet(period, limit *uint256.Int, ts time.Time) *EpochConfigSet {
	e := &EpochConfigSet{}
	e.Period.Set(period)
	e.LimitPerEpoch.Set(limit)
	e.Timestamp = ts
	return e
}

func (e *EpochConfigSet) EventType() EventType { return EventTypeEpochConfigSet }
func (e *EpochConfigSet) SourceChain() uint32  { return 0 }

// ChainWeightSet stores a chain's preferred-distribution hint.
type ChainWeightSet struct {
	admin
	ChainID uint32
	Weight  uint8
}

func NewChainWeightSet(chainID uint32, weight uint8, ts time.Time) *ChainWeightSet {
	e := &ChainWeightSet{ChainID: chainID, Weight: weight}
	e.Timestamp = ts
	return e
}

func (e *ChainWeightSet) EventType() EventType { return EventTypeChainWeightSet }
func (e *ChainWeightSet) SourceChain() uint32  { return e.ChainID }

// ChainPCVCorrected force-sets a chain's PCV to reconcile with the remote
// chain. TotalPCV moves by the same delta.
type ChainPCVCorrected struct {
	admin
	ChainID uint32
	PCV     uint256.Int
}

func NewChainPCVCorrected(chainID uint32, pcv *uint256.Int, ts time.Time) *ChainPCVCorrected {
	e := &ChainPCVCorrected{ChainID: chainID}
	e.PCV.Set(pcv)
	e.Timestamp = ts
	return e
}

func (e *ChainPCVCorrected) EventType() EventType { return EventTypeChainPCVCorrected }
func (e *ChainPCVCorrected) SourceChain() uint32  { return e.ChainID }

// TotalSharesCorrected force-sets the total share supply.
type TotalSharesCorrected struct {
	admin
	TotalShares uint256.Int
}

func NewTotalSharesCorrected(shares *uint256.Int, ts time.Time) *TotalSharesCorrected {
	e := &TotalSharesCorrected{}
	e.TotalShares.Set(shares)
	e.Timestamp = ts
	return e
}

func (e *TotalSharesCorrected) EventType() EventType { return EventTypeTotalSharesCorrected }
func (e *TotalSharesCorrected) SourceChain() uint32  { return 0 }

// RewardDecimalsSet sets the decimals used to convert fee-denominated
// rewards into reward-token units.
type RewardDecimalsSet struct {
	admin
	Decimals uint8
}

func NewRewardDecimalsSet(decimals uint8, ts time.Time) *RewardDecimalsSet {
	e := &RewardDecimalsSet{Decimals: decimals}
	e.Timestamp = ts
	return e
}

func (e *RewardDecimalsSet) EventType() EventType { return EventTypeRewardDecimalsSet }
func (e *RewardDecimalsSet) SourceChain() uint32  { return 0 }
