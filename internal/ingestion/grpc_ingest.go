package ingestion

import (
	"context"
	"fmt"

	"YPoolLedger/internal/event"
	"YPoolLedger/internal/ledger"
)

// Submission carries one event from an RPC caller to the core loop. The loop
// answers on Done exactly once.
type Submission struct {
	Event event.Event
	Done  chan<- SubmitResult
}

type SubmitResult struct {
	Record *ledger.Record
	Err    error
}

// GRPCIngestService provides admin and manual event injection over gRPC.
// High-throughput relayer traffic goes through NATS instead.
type GRPCIngestService struct {
	submissions chan<- Submission
}

func NewGRPCIngestService(submissions chan<- Submission) *GRPCIngestService {
	return &GRPCIngestService{submissions: submissions}
}

// Submit decodes a wire payload and waits for the core's verdict.
func (s *GRPCIngestService) Submit(ctx context.Context, eventType string, payload []byte) (*ledger.Record, error) {
	evt, err := DecodeEvent(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return s.SubmitEvent(ctx, evt)
}

// SubmitEvent enqueues a typed event and blocks until it is applied or rejected.
func (s *GRPCIngestService) SubmitEvent(ctx context.Context, evt event.Event) (*ledger.Record, error) {
	done := make(chan SubmitResult, 1)

	select {
	case s.submissions <- Submission{Event: evt, Done: done}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-done:
		return res.Record, res.Err
	case <-ctx.Done():
		// The core may still apply the event; the caller can look it up by key.
		return nil, ctx.Err()
	}
}
