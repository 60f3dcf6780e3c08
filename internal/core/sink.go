package core

import (
	"YPoolLedger/internal/event"
	"YPoolLedger/internal/ledger"
)

// CoreOutput is emitted once per applied event
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Event    event.Event
	Record   *ledger.Record
}

// AuditSink receives every applied operation in sequence order. Append is
// called with the core's write lock held.
type AuditSink interface {
	Append(output CoreOutput)
}

// ChannelSink fans core outputs out to the persistence and projection
// pipelines. The persist channel uses a BLOCKING send (backpressure); the
// projection channel uses a NON-BLOCKING send and drops on full, since
// projections can be rebuilt from the event log.
type ChannelSink struct {
	persist    chan<- CoreOutput
	projection chan<- CoreOutput
}

func NewChannelSink(persist, projection chan<- CoreOutput) *ChannelSink {
	return &ChannelSink{persist: persist, projection: projection}
}

func (s *ChannelSink) Append(output CoreOutput) {
	if s.persist != nil {
		s.persist <- output
	}
	if s.projection != nil {
		select {
		case s.projection <- output:
		default:
		}
	}
}
