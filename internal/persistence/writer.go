package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"YPoolLedger/internal/ledger"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes events and audit records to Postgres using
// multi-row INSERTs.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence         int64
	EventType        string
	IdempotencyClass string // empty for events deduplicated elsewhere
	IdempotencyKey   string
	ChainID          int64
	Payload          []byte // JSON-encoded event payload
	StateHash        []byte
	PrevHash         []byte
	Timestamp        time.Time
}

// RecordRow represents a row in event_log.audit_records. Amounts are decimal
// strings written to NUMERIC(78,0) columns; Detail holds the full record.
type RecordRow struct {
	RecordID      string
	Sequence      int64
	Kind          string
	Action        string
	UniversalID   string
	FromChainID   int64
	ToChainID     int64
	Account       string
	Amount        string
	RewardGranted string
	Detail        []byte
	TimestampUs   int64
}

// NewRecordRow flattens an audit record for storage.
func NewRecordRow(rec *ledger.Record) (RecordRow, error) {
	wire := rec.Wire()
	detail, err := json.Marshal(wire)
	if err != nil {
		return RecordRow{}, fmt.Errorf("marshal record %s: %w", wire.RecordID, err)
	}
	return RecordRow{
		RecordID:      wire.RecordID,
		Sequence:      wire.Sequence,
		Kind:          wire.Kind,
		Action:        wire.Action,
		UniversalID:   wire.UniversalID,
		FromChainID:   int64(wire.FromChainID),
		ToChainID:     int64(wire.ToChainID),
		Account:       wire.Account,
		Amount:        wire.Amount,
		RewardGranted: wire.Reward.Granted,
		Detail:        detail,
		TimestampUs:   wire.TimestampUs,
	}, nil
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of events to event_log.events using multi-row INSERT.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_class, idempotency_key, chain_id, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)

	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyClass, e.IdempotencyKey, e.ChainID,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteRecordBatch writes audit records to event_log.audit_records.
func (w *EventLogWriter) WriteRecordBatch(ctx context.Context, ex execer, records []RecordRow) error {
	if len(records) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.audit_records
		(record_id, sequence, kind, action, universal_id, from_chain_id, to_chain_id, account, amount, reward_granted, detail, timestamp_us)
		VALUES `

	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*12)

	for i, r := range records {
		base := i * 12
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11, base+12,
		))
		args = append(args,
			r.RecordID, r.Sequence, r.Kind, r.Action, r.UniversalID,
			r.FromChainID, r.ToChainID, r.Account, r.Amount, r.RewardGranted,
			r.Detail, r.TimestampUs,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (record_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}
