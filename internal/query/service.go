package query

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"YPoolLedger/internal/core"
	"YPoolLedger/internal/event"
	"YPoolLedger/internal/ledger"
	"YPoolLedger/internal/observability"
	"YPoolLedger/internal/projection"
	"YPoolLedger/internal/state"

	"github.com/holiman/uint256"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNoDatabase      = errors.New("query database not configured")
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// LedgerReader is the read side of the settlement core.
type LedgerReader interface {
	Pool() state.Pool
	Chain(chainID uint32) state.ChainLiquidity
	Liquidity() (state.Pool, []state.ChainLiquidity)
	YieldRate() (uint256.Int, error)
	SwapInfo(chainID uint32, nonce *uint256.Int) (state.SwapRecord, bool)
	RebalanceReward(account state.AccountID) uint256.Int
	EpochState() state.EpochState
	RewardThreshold() uint64
	RewardValueDecimals() uint8
	GetSequence() int64
	GetStateHash() [32]byte
}

// QueryService answers reads. Point lookups (pool, chain, swap, reward,
// epoch) come from the in-memory ledger and are exact as of the returned
// sequence. Account listings read the Postgres projections and audit log,
// whose freshness is given by the projection watermark.
type QueryService struct {
	ledger  LedgerReader
	db      *sql.DB
	history *projection.RewardHistoryProjection
	metrics *observability.Metrics
}

func NewQueryService(
	ledger LedgerReader,
	db *sql.DB,
	history *projection.RewardHistoryProjection,
	metrics *observability.Metrics,
) *QueryService {
	return &QueryService{ledger: ledger, db: db, history: history, metrics: metrics}
}

// GetPool returns pool totals, yield rate and reward settings.
func (qs *QueryService) GetPool(ctx context.Context) (resp *PoolResponse, err error) {
	defer qs.observe("GetPool", time.Now(), &err)

	pool := qs.ledger.Pool()
	resp = &PoolResponse{
		TotalPCV:            pool.TotalPCV.Dec(),
		TotalShares:         pool.TotalShares.Dec(),
		RewardThreshold:     qs.ledger.RewardThreshold(),
		RewardValueDecimals: qs.ledger.RewardValueDecimals(),
		AsOfSequence:        qs.ledger.GetSequence() - 1,
	}
	if rate, err := qs.ledger.YieldRate(); err == nil {
		resp.YieldRate = rate.Dec()
	}
	hash := qs.ledger.GetStateHash()
	resp.StateHash = fmt.Sprintf("0x%x", hash[:])
	return resp, nil
}

// GetChain returns one chain's liquidity. Unknown chains read as zero.
func (qs *QueryService) GetChain(ctx context.Context, chainID uint32) (resp *ChainResponse, err error) {
	defer qs.observe("GetChain", time.Now(), &err)

	asOf := qs.ledger.GetSequence() - 1
	c := qs.ledger.Chain(chainID)
	c.ChainID = chainID
	r := newChainResponse(&c, asOf)
	return &r, nil
}

// ListChains returns every chain the pool has touched.
func (qs *QueryService) ListChains(ctx context.Context) (resp []ChainResponse, err error) {
	defer qs.observe("ListChains", time.Now(), &err)

	asOf := qs.ledger.GetSequence() - 1
	_, chains := qs.ledger.Liquidity()
	resp = make([]ChainResponse, 0, len(chains))
	for i := range chains {
		resp = append(resp, newChainResponse(&chains[i], asOf))
	}
	return resp, nil
}

// GetSwap returns the swap initiated on fromChainID with nonce.
func (qs *QueryService) GetSwap(ctx context.Context, fromChainID uint32, nonce string) (resp *SwapResponse, err error) {
	defer qs.observe("GetSwap", time.Now(), &err)

	n, err := parseNonce(nonce)
	if err != nil {
		return nil, err
	}
	swap, ok := qs.ledger.SwapInfo(fromChainID, &n)
	if !ok {
		return nil, fmt.Errorf("%w: swap %s", ErrNotFound, event.NewUniversalID(fromChainID, &n))
	}
	return &SwapResponse{
		UniversalID: event.UniversalID(swap.UniversalID).String(),
		FromChainID: swap.FromChainID,
		ToChainID:   swap.ToChainID,
		Nonce:       swap.Nonce.Dec(),
		Account:     swap.Account.String(),
		AmountIn:    swap.AmountIn.Dec(),
		AmountOut:   swap.AmountOut.Dec(),
		GasFee:      swap.GasFee.Dec(),
		Status:      swap.Status.String(),
		Completion:  swap.Completion.String(),
	}, nil
}

// GetReward returns an account's unclaimed reward.
func (qs *QueryService) GetReward(ctx context.Context, account string) (resp *RewardResponse, err error) {
	defer qs.observe("GetReward", time.Now(), &err)

	acct, err := parseAccount(account)
	if err != nil {
		return nil, err
	}
	balance := qs.ledger.RebalanceReward(acct)
	return &RewardResponse{
		Account:      acct.String(),
		Balance:      balance.Dec(),
		AsOfSequence: qs.ledger.GetSequence() - 1,
	}, nil
}

// GetEpoch returns the reward epoch budget.
func (qs *QueryService) GetEpoch(ctx context.Context) (resp *EpochResponse, err error) {
	defer qs.observe("GetEpoch", time.Now(), &err)

	e := qs.ledger.EpochState()
	remaining := new(uint256.Int)
	if e.CurrentEpochAmount.Lt(&e.LimitPerEpoch) {
		remaining.Sub(&e.LimitPerEpoch, &e.CurrentEpochAmount)
	}
	return &EpochResponse{
		Period:             e.Period.Dec(),
		LimitPerEpoch:      e.LimitPerEpoch.Dec(),
		StartTime:          e.StartTime,
		CurrentEpochNumber: e.CurrentEpochNumber,
		CurrentEpochAmount: e.CurrentEpochAmount.Dec(),
		Remaining:          remaining.Dec(),
		AsOfSequence:       qs.ledger.GetSequence() - 1,
	}, nil
}

// GetRewardHistory returns reward grants and claims for an account.
func (qs *QueryService) GetRewardHistory(ctx context.Context, account string, limit int) (resp *RewardHistoryResponse, err error) {
	defer qs.observe("GetRewardHistory", time.Now(), &err)

	acct, err := parseAccount(account)
	if err != nil {
		return nil, err
	}
	resp = &RewardHistoryResponse{Account: acct.String(), Entries: []projection.RewardHistoryEntry{}}
	if qs.history != nil {
		resp.Entries = qs.history.QueryByAccount(acct.String(), pageSize(limit))
	}
	return resp, nil
}

// ListAccountSwaps returns an account's swaps, newest first.
// Supports cursor-based pagination on the last touching sequence.
func (qs *QueryService) ListAccountSwaps(
	ctx context.Context,
	account string,
	limit int,
	beforeSequence *int64,
) (resp *AccountSwapsResponse, err error) {
	defer qs.observe("ListAccountSwaps", time.Now(), &err)

	if qs.db == nil {
		return nil, ErrNoDatabase
	}
	acct, err := parseAccount(account)
	if err != nil {
		return nil, err
	}
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT universal_id, from_chain_id, to_chain_id, nonce::TEXT, account,
		       amount_in::TEXT, amount_out::TEXT, gas_fee::TEXT, status, completion,
		       reward::TEXT, last_sequence
		FROM projections.swaps
		WHERE account = $1
	`
	args := []interface{}{acct.String()}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND last_sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY last_sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, pageSize(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp = &AccountSwapsResponse{Swaps: []SwapResponse{}, AsOfSequence: asOfSeq}
	for rows.Next() {
		var s SwapResponse
		var fromID, toID int64
		if err := rows.Scan(
			&s.UniversalID, &fromID, &toID, &s.Nonce, &s.Account,
			&s.AmountIn, &s.AmountOut, &s.GasFee, &s.Status, &s.Completion,
			&s.Reward, &s.LastSeq,
		); err != nil {
			return nil, err
		}
		s.FromChainID = uint32(fromID)
		s.ToChainID = uint32(toID)
		resp.Swaps = append(resp.Swaps, s)
	}

	return resp, rows.Err()
}

// ListAccountRecords returns audit records touching an account with pagination.
func (qs *QueryService) ListAccountRecords(
	ctx context.Context,
	account string,
	limit int,
	beforeSequence *int64,
) (resp *AccountRecordsResponse, err error) {
	defer qs.observe("ListAccountRecords", time.Now(), &err)

	if qs.db == nil {
		return nil, ErrNoDatabase
	}
	acct, err := parseAccount(account)
	if err != nil {
		return nil, err
	}
	size := pageSize(limit)

	query := `
		SELECT detail
		FROM event_log.audit_records
		WHERE account = $1
	`
	args := []interface{}{acct.String()}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, size)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp = &AccountRecordsResponse{Records: []ledger.RecordJSON{}}
	for rows.Next() {
		var detail []byte
		if err := rows.Scan(&detail); err != nil {
			return nil, err
		}
		var rec ledger.RecordJSON
		if err := json.Unmarshal(detail, &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		resp.Records = append(resp.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(resp.Records) == size {
		next := resp.Records[len(resp.Records)-1].Sequence
		resp.NextCursor = &next
	}
	return resp, nil
}

// --- Admin APIs ---

// VerifyIntegrity checks the hash chain, pool conservation on the live state
// and the projections against each other.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer qs.observe("VerifyIntegrity", time.Now(), &err)

	report = &IntegrityReport{CheckedSequence: qs.ledger.GetSequence() - 1}

	pool, chains := qs.ledger.Liquidity()
	report.ConservationViolations = checkLiveState(pool, chains)

	if qs.db != nil {
		breaks, err := qs.hashChainBreaks(ctx)
		if err != nil {
			return nil, err
		}
		report.HashChainBreaks = breaks

		drift, err := qs.projectionDrift(ctx, pool, report.CheckedSequence)
		if err != nil {
			return nil, err
		}
		report.ProjectionDrift = drift
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.ConservationViolations) == 0 &&
		len(report.ProjectionDrift) == 0
	return report, nil
}

func (qs *QueryService) hashChainBreaks(ctx context.Context) ([]int64, error) {
	var breaks []int64

	var firstPrev []byte
	err := qs.db.QueryRowContext(ctx, `SELECT prev_hash FROM event_log.events WHERE sequence = 0`).Scan(&firstPrev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		genesis := core.GenesisHash()
		if !bytes.Equal(firstPrev, genesis[:]) {
			breaks = append(breaks, 0)
		}
	}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND (e2.sequence IS NULL OR e1.prev_hash != e2.state_hash)
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		breaks = append(breaks, seq)
	}
	return breaks, rows.Err()
}

func (qs *QueryService) projectionDrift(ctx context.Context, live state.Pool, liveSeq int64) ([]string, error) {
	var drift []string

	var totalPCV, chainSum string
	var projSeq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT p.total_pcv::TEXT, p.last_sequence,
		       (SELECT COALESCE(SUM(pcv), 0)::TEXT FROM projections.chain_liquidity)
		FROM projections.pool p
		WHERE p.id = 1
	`).Scan(&totalPCV, &projSeq, &chainSum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if totalPCV != chainSum {
		drift = append(drift, fmt.Sprintf("projected chain pcv sum %s differs from projected total %s", chainSum, totalPCV))
	}
	// Only comparable once the projections have caught up
	if projSeq == liveSeq && totalPCV != live.TotalPCV.Dec() {
		drift = append(drift, fmt.Sprintf("projected total pcv %s differs from live %s at seq %d", totalPCV, live.TotalPCV.Dec(), liveSeq))
	}
	return drift, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, -1) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

func (qs *QueryService) observe(endpoint string, start time.Time, err *error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	if *err != nil {
		status = "error"
		qs.metrics.QueryErrors.WithLabelValues(endpoint, errorCode(*err)).Inc()
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrNoDatabase):
		return "unavailable"
	default:
		return "internal"
	}
}

func parseAccount(s string) (state.AccountID, error) {
	acct, err := state.ParseAccountID(s)
	if err != nil {
		return acct, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if acct.IsZero() {
		return acct, fmt.Errorf("%w: zero account", ErrInvalidArgument)
	}
	return acct, nil
}

func parseNonce(s string) (uint256.Int, error) {
	var n uint256.Int
	set := n.SetFromDecimal
	if strings.HasPrefix(s, "0x") {
		set = n.SetFromHex
	}
	if err := set(s); err != nil {
		return n, fmt.Errorf("%w: nonce %q: %v", ErrInvalidArgument, s, err)
	}
	return n, nil
}

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
