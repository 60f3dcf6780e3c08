package event

import (
	"time"

	"YPoolLedger/internal/state"
)

// RewardClaimed zeroes an account's accumulated reward. Paying it out on the
// remote chain happens elsewhere.
type RewardClaimed struct {
	Origin
	Account   state.AccountID
	Timestamp time.Time
}

func (r *RewardClaimed) IdempotencyKey() string {
	return r.UniversalID().String()
}

func (r *RewardClaimed) IdempotencyClass() IdempotencyClass {
	return ClassClaim
}

func (r *RewardClaimed) EventType() EventType {
	return EventTypeRewardClaimed
}

func (r *RewardClaimed) EventTime() time.Time {
	return r.Timestamp
}
