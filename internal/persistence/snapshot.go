package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"YPoolLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// SnapshotFormatVersion is stored with every snapshot row.
const SnapshotFormatVersion = 1

// SnapshotManager handles creating and loading state snapshots for recovery.
// A snapshot holds the pool, chains, swaps, rewards, epoch and settings, the
// clock, the idempotency keys and the last state hash.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
// Amounts are decimal strings.
type SnapshotData struct {
	Sequence            int64             `json:"sequence"`
	StateHash           []byte            `json:"state_hash"`
	TotalPCV            string            `json:"total_pcv"`
	TotalShares         string            `json:"total_shares"`
	Chains              []ChainSnap       `json:"chains"`
	Swaps               []SwapSnap        `json:"swaps"`
	Rewards             map[string]string `json:"rewards"` // account -> balance
	Epoch               EpochSnap         `json:"epoch"`
	RewardThreshold     uint64            `json:"reward_threshold"`
	RewardValueDecimals uint8             `json:"reward_value_decimals"`
	ClockState          map[string]uint64 `json:"clock_state"`      // partition -> last unix seconds
	IdempotencyKeys     []string          `json:"idempotency_keys"` // oldest first
	CreatedAt           time.Time         `json:"created_at"`
}

// ChainSnap is a serializable chain record.
type ChainSnap struct {
	ChainID     uint32 `json:"chain_id"`
	PCV         string `json:"pcv"`
	Locked      string `json:"locked"`
	Weight      uint8  `json:"weight"`
	FeeSet      bool   `json:"fee_set"`
	FeeMin      string `json:"fee_min"`
	FeeMax      string `json:"fee_max"`
	FeeRate     string `json:"fee_rate"`
	FeeDecimals uint8  `json:"fee_decimals"`
}

// SwapSnap is a serializable swap record.
type SwapSnap struct {
	UniversalID string `json:"universal_id"`
	FromChainID uint32 `json:"from_chain_id"`
	ToChainID   uint32 `json:"to_chain_id"`
	Nonce       string `json:"nonce"`
	Account     string `json:"account"`
	AmountIn    string `json:"amount_in"`
	AmountOut   string `json:"amount_out"`
	GasFee      string `json:"gas_fee"`
	Status      uint8  `json:"status"`
	Completion  uint8  `json:"completion"`
}

// EpochSnap is a serializable epoch state.
type EpochSnap struct {
	Period        string `json:"period"`
	LimitPerEpoch string `json:"limit_per_epoch"`
	StartTime     uint64 `json:"start_time"`
	Number        uint64 `json:"number"`
	Amount        string `json:"amount"`
}

// NewSnapshotData serializes ledger state. Chains and swaps are sorted so
// equal states produce equal documents.
func NewSnapshotData(seq int64, stateHash [32]byte, s *state.LedgerState, clock map[string]uint64, keys []string) *SnapshotData {
	snap := &SnapshotData{
		Sequence:            seq,
		StateHash:           append([]byte(nil), stateHash[:]...),
		TotalPCV:            s.Pool.TotalPCV.Dec(),
		TotalShares:         s.Pool.TotalShares.Dec(),
		Rewards:             make(map[string]string, len(s.Rewards)),
		RewardThreshold:     s.RewardThreshold,
		RewardValueDecimals: s.RewardValueDecimals,
		ClockState:          clock,
		IdempotencyKeys:     keys,
		Epoch: EpochSnap{
			Period:        s.Epoch.Period.Dec(),
			LimitPerEpoch: s.Epoch.LimitPerEpoch.Dec(),
			StartTime:     s.Epoch.StartTime,
			Number:        s.Epoch.CurrentEpochNumber,
			Amount:        s.Epoch.CurrentEpochAmount.Dec(),
		},
	}

	for _, id := range s.ChainIDs() {
		c := s.Chains[id]
		snap.Chains = append(snap.Chains, ChainSnap{
			ChainID:     c.ChainID,
			PCV:         c.PCV.Dec(),
			Locked:      c.Locked.Dec(),
			Weight:      c.Weight,
			FeeSet:      c.Fee.IsSet,
			FeeMin:      c.Fee.Min.Dec(),
			FeeMax:      c.Fee.Max.Dec(),
			FeeRate:     c.Fee.Rate.Dec(),
			FeeDecimals: c.Fee.Decimals,
		})
	}

	for id, r := range s.Swaps {
		snap.Swaps = append(snap.Swaps, SwapSnap{
			UniversalID: hex.EncodeToString(id[:]),
			FromChainID: r.FromChainID,
			ToChainID:   r.ToChainID,
			Nonce:       r.Nonce.Dec(),
			Account:     r.Account.String(),
			AmountIn:    r.AmountIn.Dec(),
			AmountOut:   r.AmountOut.Dec(),
			GasFee:      r.GasFee.Dec(),
			Status:      uint8(r.Status),
			Completion:  uint8(r.Completion),
		})
	}
	sort.Slice(snap.Swaps, func(i, j int) bool { return snap.Swaps[i].UniversalID < snap.Swaps[j].UniversalID })

	for acct, amt := range s.Rewards {
		snap.Rewards[acct.String()] = amt.Dec()
	}
	return snap
}

// HashBytes returns the state hash as a fixed array.
func (d *SnapshotData) HashBytes() ([32]byte, error) {
	var h [32]byte
	if len(d.StateHash) != len(h) {
		return h, fmt.Errorf("snapshot %d: state hash has %d bytes", d.Sequence, len(d.StateHash))
	}
	copy(h[:], d.StateHash)
	return h, nil
}

// LedgerState rebuilds the ledger state held in the snapshot.
func (d *SnapshotData) LedgerState() (*state.LedgerState, error) {
	s := state.NewLedgerState()
	var p decParser

	p.parse(&s.Pool.TotalPCV, d.TotalPCV, "total_pcv")
	p.parse(&s.Pool.TotalShares, d.TotalShares, "total_shares")
	s.RewardThreshold = d.RewardThreshold
	s.RewardValueDecimals = d.RewardValueDecimals

	p.parse(&s.Epoch.Period, d.Epoch.Period, "epoch.period")
	p.parse(&s.Epoch.LimitPerEpoch, d.Epoch.LimitPerEpoch, "epoch.limit_per_epoch")
	p.parse(&s.Epoch.CurrentEpochAmount, d.Epoch.Amount, "epoch.amount")
	s.Epoch.StartTime = d.Epoch.StartTime
	s.Epoch.CurrentEpochNumber = d.Epoch.Number

	for _, c := range d.Chains {
		ch := s.EnsureChain(c.ChainID)
		ch.Weight = c.Weight
		ch.Fee.IsSet = c.FeeSet
		ch.Fee.Decimals = c.FeeDecimals
		p.parse(&ch.PCV, c.PCV, "chain.pcv")
		p.parse(&ch.Locked, c.Locked, "chain.locked")
		p.parse(&ch.Fee.Min, c.FeeMin, "chain.fee_min")
		p.parse(&ch.Fee.Max, c.FeeMax, "chain.fee_max")
		p.parse(&ch.Fee.Rate, c.FeeRate, "chain.fee_rate")
	}

	for _, sw := range d.Swaps {
		raw, err := hex.DecodeString(sw.UniversalID)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("snapshot swap id %q: invalid", sw.UniversalID)
		}
		account, err := state.ParseAccountID(sw.Account)
		if err != nil {
			return nil, err
		}
		r := &state.SwapRecord{
			FromChainID: sw.FromChainID,
			ToChainID:   sw.ToChainID,
			Account:     account,
			Status:      state.SwapStatus(sw.Status),
			Completion:  state.CompletionKind(sw.Completion),
		}
		copy(r.UniversalID[:], raw)
		p.parse(&r.Nonce, sw.Nonce, "swap.nonce")
		p.parse(&r.AmountIn, sw.AmountIn, "swap.amount_in")
		p.parse(&r.AmountOut, sw.AmountOut, "swap.amount_out")
		p.parse(&r.GasFee, sw.GasFee, "swap.gas_fee")
		s.Swaps[r.UniversalID] = r
	}

	for acct, amt := range d.Rewards {
		id, err := state.ParseAccountID(acct)
		if err != nil {
			return nil, err
		}
		var v uint256.Int
		p.parse(&v, amt, "reward")
		if !v.IsZero() {
			s.Rewards[id] = v
		}
	}

	if p.err != nil {
		return nil, p.err
	}
	return s, nil
}

// decParser keeps the first decimal parse error.
type decParser struct {
	err error
}

func (p *decParser) parse(dst *uint256.Int, s, field string) {
	if p.err != nil {
		return
	}
	if s == "" {
		dst.Clear()
		return
	}
	if err := dst.SetFromDecimal(s); err != nil {
		p.err = fmt.Errorf("snapshot field %s=%q: %w", field, s, err)
	}
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. It stays unverified until
// MarkVerified is called.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, SnapshotFormatVersion, sizeBytes, snap.CreatedAt)

	return sizeBytes, err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE AND format_version = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, SnapshotFormatVersion)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No snapshot, cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_class, idempotency_key, chain_id, payload,
		       state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyClass, &e.IdempotencyKey, &e.ChainID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, -1 if empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil // Empty event log
	}
	return seq.Int64, nil
}
