package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"YPoolLedger/internal/ledger"
	"YPoolLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const OutboundSubjectPrefix = "ypool.ledger.records"

// OutboundPublisher publishes audit records to NATS for downstream indexers.
// Subjects follow the pattern: ypool.ledger.records.{kind}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableRecord
	logger    zerolog.Logger
}

// PublishableRecord is an applied operation ready for outbound publishing.
type PublishableRecord struct {
	Record    ledger.RecordJSON `json:"record"`
	EventType string            `json:"event_type"`
	StateHash string            `json:"state_hash"`
}

func NewPublishableRecord(record *ledger.Record, eventType string, stateHash [32]byte) PublishableRecord {
	return PublishableRecord{
		Record:    record.Wire(),
		EventType: eventType,
		StateHash: fmt.Sprintf("0x%x", stateHash[:]),
	}
}

// Subject returns the outbound subject for the record.
func (p PublishableRecord) Subject() string {
	return fmt.Sprintf("%s.%s", OutboundSubjectPrefix, p.Record.Kind)
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableRecord) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    observability.NewLogger("publisher"),
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, rec); err != nil {
				// Non-fatal: indexers can read event_log.audit_records directly
				op.logger.Warn().Err(err).
					Int64("sequence", rec.Record.Sequence).
					Str("kind", rec.Record.Kind).
					Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, rec PublishableRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	// JetStream drops a retried publish carrying the same record id.
	_, err = op.js.Publish(ctx, rec.Subject(), data, jetstream.WithMsgID(rec.Record.RecordID))
	return err
}

// EnsureOutboundStream creates the outbound records stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       "YPOOL_LEDGER_RECORDS",
		Subjects:   []string{OutboundSubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger := observability.NewLogger("publisher")
	logger.Info().Str("stream", "YPOOL_LEDGER_RECORDS").Msg("ensured outbound stream")
	return nil
}
