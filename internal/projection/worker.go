package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"YPoolLedger/internal/event"
	"YPoolLedger/internal/ledger"
	"YPoolLedger/internal/observability"
	"YPoolLedger/internal/state"

	"github.com/rs/zerolog"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence  int64
	EventType string
	Record    ledger.RecordJSON
}

// ProjectionWorker updates projection tables from applied operations.
// The projection channel is non-blocking with drop. Pool and chain rows carry
// absolute values, so they heal on the next record; swaps and rewards can be
// rebuilt from event_log.audit_records.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	history   *RewardHistoryProjection
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan ProjectionOutput,
	history *RewardHistoryProjection,
	metrics *observability.Metrics,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		history:   history,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
		lastSeq:   -1,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if pw.lastSeq >= 0 && output.Sequence != pw.lastSeq+1 {
				pw.logger.Warn().
					Int64("expected", pw.lastSeq+1).
					Int64("got", output.Sequence).
					Msg("projection gap, rebuild to recover swaps and rewards")
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				// Continue: projections are eventually consistent
				pw.logger.Warn().Err(err).Int64("seq", output.Sequence).Msg("projection update failed")
			} else if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(output.Record.Kind).Observe(time.Since(start).Seconds())
				pw.metrics.ProjectionLastSequence.Set(float64(output.Sequence))
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyStatements(ctx, tx, planUpdates(&output.Record)); err != nil {
		return err
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if entry, ok := RewardEntryFromRecord(&output.Record); ok && pw.history != nil {
		pw.history.AddEntry(entry)
	}
	return nil
}

// --- Statement planning ---

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type statement struct {
	name  string
	query string
	args  []any
}

func applyStatements(ctx context.Context, ex execer, stmts []statement) error {
	for _, s := range stmts {
		if _, err := ex.ExecContext(ctx, s.query, s.args...); err != nil {
			return fmt.Errorf("%s projection: %w", s.name, err)
		}
	}
	return nil
}

const (
	upsertPoolSQL = `
		INSERT INTO projections.pool (id, total_pcv, total_shares, last_sequence)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
			SET total_pcv = EXCLUDED.total_pcv,
			    total_shares = EXCLUDED.total_shares,
			    last_sequence = EXCLUDED.last_sequence`

	upsertChainSQL = `
		INSERT INTO projections.chain_liquidity (chain_id, pcv, locked, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain_id) DO UPDATE
			SET pcv = EXCLUDED.pcv,
			    locked = EXCLUDED.locked,
			    last_sequence = EXCLUDED.last_sequence`

	insertSwapSQL = `
		INSERT INTO projections.swaps (
			universal_id, from_chain_id, to_chain_id, nonce, account,
			amount_in, amount_out, gas_fee, status, completion, reward, last_sequence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'Initiated', 'None', 0, $9)
		ON CONFLICT (universal_id) DO NOTHING`

	completeSwapSQL = `
		UPDATE projections.swaps
		SET status = 'Completed', completion = $2, reward = $3, last_sequence = $4
		WHERE universal_id = $1`

	upsertRewardSQL = `
		INSERT INTO projections.rewards (account, balance, last_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (account) DO UPDATE
			SET balance = EXCLUDED.balance,
			    last_sequence = EXCLUDED.last_sequence`
)

var completionByKind = map[string]string{
	ledger.RecordKindSwapSettled.String():     state.CompletionSettled.String(),
	ledger.RecordKindSwapInvalidated.String(): state.CompletionInvalidated.String(),
	ledger.RecordKindSwapTimedOut.String():    state.CompletionTimeout.String(),
}

// chainScopedAdmin lists the admin actions that write one chain row. Chain 0
// is a valid chain id.
var chainScopedAdmin = map[string]bool{
	event.EventTypeFeeStructureSet.String():   true,
	event.EventTypeChainWeightSet.String():    true,
	event.EventTypeChainPCVCorrected.String(): true,
}

// planUpdates derives the projection writes for one audit record.
func planUpdates(rec *ledger.RecordJSON) []statement {
	stmts := []statement{{
		name:  "pool",
		query: upsertPoolSQL,
		args:  []any{rec.After.TotalPCV, rec.After.TotalShares, rec.Sequence},
	}}

	switch rec.Kind {
	case ledger.RecordKindDeposit.String(), ledger.RecordKindWithdraw.String():
		stmts = append(stmts, chainStatement(rec.FromChainID, rec.After.FromPCV, rec.After.FromLocked, rec.Sequence))

	case ledger.RecordKindAdmin.String():
		if chainScopedAdmin[rec.Action] {
			stmts = append(stmts, chainStatement(rec.FromChainID, rec.After.FromPCV, rec.After.FromLocked, rec.Sequence))
		}

	case ledger.RecordKindSwapInitiated.String(),
		ledger.RecordKindSwapSettled.String(),
		ledger.RecordKindSwapInvalidated.String(),
		ledger.RecordKindSwapTimedOut.String():
		stmts = append(stmts, chainStatement(rec.FromChainID, rec.After.FromPCV, rec.After.FromLocked, rec.Sequence))
		if rec.ToChainID != rec.FromChainID {
			stmts = append(stmts, chainStatement(rec.ToChainID, rec.After.ToPCV, rec.After.ToLocked, rec.Sequence))
		}

		if rec.Kind == ledger.RecordKindSwapInitiated.String() {
			stmts = append(stmts, statement{
				name:  "swap",
				query: insertSwapSQL,
				args: []any{
					rec.UniversalID, int64(rec.FromChainID), int64(rec.ToChainID), rec.Nonce, rec.Account,
					rec.Amount, rec.AmountOut, rec.GasFee, rec.Sequence,
				},
			})
		} else {
			stmts = append(stmts, statement{
				name:  "swap",
				query: completeSwapSQL,
				args:  []any{rec.UniversalID, completionByKind[rec.Kind], rec.Reward.Granted, rec.Sequence},
			})
		}
	}

	if rec.Kind == ledger.RecordKindSwapSettled.String() || rec.Kind == ledger.RecordKindRewardClaimed.String() {
		stmts = append(stmts, statement{
			name:  "reward",
			query: upsertRewardSQL,
			args:  []any{rec.Account, rec.RewardBalance, rec.Sequence},
		})
	}

	return stmts
}

func chainStatement(chainID uint32, pcv, locked string, seq int64) statement {
	return statement{
		name:  "chain",
		query: upsertChainSQL,
		args:  []any{int64(chainID), pcv, locked, seq},
	}
}

// RebuildProjections rebuilds all projection tables from the audit records.
// The reward history is refilled as well when given.
func RebuildProjections(ctx context.Context, db *sql.DB, history *RewardHistoryProjection) error {
	logger := observability.NewLogger("projection")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	truncateStatements := []string{
		`TRUNCATE projections.pool`,
		`TRUNCATE projections.chain_liquidity`,
		`TRUNCATE projections.swaps`,
		`TRUNCATE projections.rewards`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	rows, err := tx.QueryContext(ctx, `SELECT detail FROM event_log.audit_records ORDER BY sequence`)
	if err != nil {
		return fmt.Errorf("load audit records: %w", err)
	}

	// Statements cannot run on the tx while rows are open, so collect first.
	var records []ledger.RecordJSON
	for rows.Next() {
		var detail []byte
		if err := rows.Scan(&detail); err != nil {
			rows.Close()
			return fmt.Errorf("scan audit record: %w", err)
		}
		var rec ledger.RecordJSON
		if err := json.Unmarshal(detail, &rec); err != nil {
			rows.Close()
			return fmt.Errorf("decode audit record: %w", err)
		}
		records = append(records, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var lastSeq int64 = -1
	for i := range records {
		if err := applyStatements(ctx, tx, planUpdates(&records[i])); err != nil {
			return fmt.Errorf("replay seq %d: %w", records[i].Sequence, err)
		}
		lastSeq = records[i].Sequence
	}
	if lastSeq >= 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
			VALUES ('main', $1, NOW())
		`, lastSeq); err != nil {
			return fmt.Errorf("watermark update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if history != nil {
		history.Reset()
		for i := range records {
			if entry, ok := RewardEntryFromRecord(&records[i]); ok {
				history.AddEntry(entry)
			}
		}
	}

	logger.Info().Int("records", len(records)).Int64("last_sequence", lastSeq).Msg("projection rebuild complete")
	return nil
}
