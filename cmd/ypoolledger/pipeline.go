package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"YPoolLedger/internal/core"
	"YPoolLedger/internal/event"
	"YPoolLedger/internal/ingestion"
	"YPoolLedger/internal/observability"
	"YPoolLedger/internal/persistence"
	"YPoolLedger/internal/projection"
)

// inboundEvent is a decoded NATS message waiting for the core. The message
// is acknowledged only after the core has decided on it.
type inboundEvent struct {
	evt event.Event
	ack func()
	nak func()
}

// bridgeCoreOutputs converts core outputs into the worker formats. It returns
// once both core channels are closed (or ctx is cancelled) and then closes its
// own outputs, so the workers flush and exit.
func bridgeCoreOutputs(
	ctx context.Context,
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableRecord,
	metrics *observability.Metrics,
) {
	defer close(persistOut)
	defer close(projectionOut)
	defer close(publishOut)

	for persistIn != nil || projectionIn != nil {
		select {
		case output, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}

			pOutput, err := toPersistOutput(output)
			if err != nil {
				// A record that cannot be stored would leave a gap in the log.
				panic(fmt.Sprintf("FATAL: %v", err))
			}
			select {
			case persistOut <- pOutput:
			case <-ctx.Done():
				return
			}

			select {
			case publishOut <- ingestion.NewPublishableRecord(output.Record, output.Envelope.EventType.String(), output.Envelope.StateHash):
			default:
				metrics.PublishDrops.Inc()
			}

		case output, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}

			select {
			case projectionOut <- projection.ProjectionOutput{
				Sequence:  output.Envelope.Sequence,
				EventType: output.Envelope.EventType.String(),
				Record:    output.Record.Wire(),
			}:
			default:
				metrics.ProjectionDrops.WithLabelValues("projections").Inc()
			}
		}
	}
}

func toPersistOutput(output core.CoreOutput) (persistence.CoreOutput, error) {
	env := output.Envelope
	payload := env.Payload
	if payload == nil {
		var err error
		payload, err = ingestion.EncodeEvent(output.Event)
		if err != nil {
			return persistence.CoreOutput{}, fmt.Errorf("encode event seq=%d: %w", env.Sequence, err)
		}
	}

	recordRow, err := persistence.NewRecordRow(output.Record)
	if err != nil {
		return persistence.CoreOutput{}, err
	}

	stateHash := env.StateHash
	prevHash := env.PrevHash
	return persistence.CoreOutput{
		EventRow: persistence.EventRow{
			Sequence:         env.Sequence,
			EventType:        env.EventType.String(),
			IdempotencyClass: string(env.IdempotencyClass),
			IdempotencyKey:   env.IdempotencyKey,
			ChainID:          int64(env.ChainID),
			Payload:          payload,
			StateHash:        stateHash[:],
			PrevHash:         prevHash[:],
			Timestamp:        env.Timestamp,
		},
		RecordRow: recordRow,
	}, nil
}

// runNATSDecoder turns raw NATS messages into typed events. Messages that can
// never decode are acknowledged and dropped; redelivery would not fix them.
func runNATSDecoder(
	ctx context.Context,
	rawChan <-chan ingestion.RawEvent,
	out chan<- inboundEvent,
	resolver *ingestion.SubjectResolver,
	metrics *observability.Metrics,
) {
	logger := observability.NewLogger("ingestion")

	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-rawChan:
			eventType := resolver.Resolve(raw.Subject)
			if eventType == "" {
				logger.Warn().Str("subject", raw.Subject).Msg("unknown subject, dropping")
				metrics.IngestMessages.WithLabelValues("unknown", "unroutable").Inc()
				callIfSet(raw.AckFunc)
				continue
			}

			evt, err := ingestion.ParseRawEvent(raw, eventType)
			if err != nil {
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("malformed event, dropping")
				metrics.IngestMessages.WithLabelValues(eventType, "malformed").Inc()
				callIfSet(raw.AckFunc)
				continue
			}

			select {
			case out <- inboundEvent{evt: evt, ack: raw.AckFunc, nak: raw.NakFunc}:
			case <-ctx.Done():
				// Unacknowledged, JetStream redelivers after restart
				return
			}
		}
	}
}

// runCoreLoop is the only goroutine that mutates the ledger. NATS events and
// RPC submissions are serialized here.
func runCoreLoop(
	ctx context.Context,
	natsEvents <-chan inboundEvent,
	submissions <-chan ingestion.Submission,
	settlementCore *core.SettlementCore,
	metrics *observability.Metrics,
) {
	logger := observability.NewLogger("core-loop")

	for {
		select {
		case <-ctx.Done():
			return

		case in := <-natsEvents:
			eventType := in.evt.EventType().String()
			err := settlementCore.ProcessEvent(in.evt)
			switch {
			case err == nil:
				metrics.IngestMessages.WithLabelValues(eventType, "applied").Inc()
				callIfSet(in.ack)
			case errors.Is(err, core.ErrIdempotencyUnavailable):
				// Transient: the persisted key set could not be consulted
				logger.Warn().Err(err).Str("event_type", eventType).Msg("event deferred")
				metrics.IngestMessages.WithLabelValues(eventType, "deferred").Inc()
				callIfSet(in.nak)
			case errors.Is(err, core.ErrDuplicate):
				metrics.IngestMessages.WithLabelValues(eventType, "duplicate").Inc()
				callIfSet(in.ack)
			default:
				logger.Info().Err(err).
					Str("event_type", eventType).
					Str("reason", core.RejectReason(err)).
					Msg("event rejected")
				metrics.IngestMessages.WithLabelValues(eventType, "rejected").Inc()
				callIfSet(in.ack)
			}

		case sub := <-submissions:
			rec, err := settlementCore.Apply(sub.Event)
			sub.Done <- ingestion.SubmitResult{Record: rec, Err: err}
		}
	}
}

func callIfSet(fn func()) {
	if fn != nil {
		fn()
	}
}

// monitorChannels exports channel depth gauges.
func monitorChannels(ctx context.Context, metrics *observability.Metrics, channels map[string]func() (int, int)) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, depth := range channels {
				size, capacity := depth()
				metrics.SetChannelMetrics(name, size, capacity)
			}
		}
	}
}
