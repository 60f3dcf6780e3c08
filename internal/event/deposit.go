package event

import (
	"time"

	"YPoolLedger/internal/state"

	"github.com/holiman/uint256"
)

// Origin identifies an external event by its source chain and per-chain nonce.
type Origin struct {
	ChainID uint32
	Nonce   uint256.Int
}

func (o *Origin) UniversalID() UniversalID {
	return NewUniversalID(o.ChainID, &o.Nonce)
}

func (o *Origin) SourceChain() uint32 {
	return o.ChainID
}

// Deposit mints shares for liquidity added on a chain.
type Deposit struct {
	Origin
	Account   state.AccountID
	Amount    uint256.Int
	Timestamp time.Time
}

func (d *Deposit) IdempotencyKey() string {
	return d.UniversalID().String()
}

func (d *Deposit) IdempotencyClass() IdempotencyClass {
	return ClassDeposit
}

func (d *Deposit) EventType() EventType {
	return EventTypeDeposit
}

func (d *Deposit) EventTime() time.Time {
	return d.Timestamp
}
