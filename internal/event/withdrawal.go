package event

import (
	"time"

	"YPoolLedger/internal/state"

	"github.com/holiman/uint256"
)

// Withdraw burns shares and releases liquidity on a chain, net of fee.
type Withdraw struct {
	Origin
	Account     state.AccountID
	ShareAmount uint256.Int
	Timestamp   time.Time
}

func (w *Withdraw) IdempotencyKey() string {
	return w.UniversalID().String()
}

func (w *Withdraw) IdempotencyClass() IdempotencyClass {
	return ClassWithdraw
}

func (w *Withdraw) EventType() EventType {
	return EventTypeWithdraw
}

func (w *Withdraw) EventTime() time.Time {
	return w.Timestamp
}
