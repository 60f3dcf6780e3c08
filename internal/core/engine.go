package core

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"YPoolLedger/internal/event"
	"YPoolLedger/internal/ledger"
	fpmath "YPoolLedger/internal/math"
	"YPoolLedger/internal/observability"
	"YPoolLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// SettlementCore is the single writer of the ledger. Every mutating event
// runs under the write lock from validation to emission; queries take the
// read lock.
type SettlementCore struct {
	mu sync.RWMutex

	sequence    int64
	state       *state.LedgerState
	hasher      *StateHasher
	validator   *ledger.InvariantValidator
	idempotency *IdempotencyRegistry
	clock       *ClockValidator
	metrics     *observability.Metrics
	logger      zerolog.Logger

	sink AuditSink
}

// NewSettlementCore creates a core with empty state. sink, dbChecker and
// metrics may be nil.
func NewSettlementCore(
	startSequence int64,
	sink AuditSink,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *SettlementCore {
	return &SettlementCore{
		sequence:    startSequence,
		state:       state.NewLedgerState(),
		hasher:      NewStateHasher(),
		validator:   ledger.NewInvariantValidator(),
		idempotency: NewIdempotencyRegistry(0, dbChecker),
		clock:       NewClockValidator(),
		metrics:     metrics,
		logger:      observability.NewLogger("core"),
		sink:        sink,
	}
}

type applyMode int

const (
	modeLive applyMode = iota
	modeReplay
)

// ProcessEvent applies one event. A returned error means the event was
// rejected and the ledger is unchanged.
func (c *SettlementCore) ProcessEvent(evt event.Event) error {
	_, err := c.Apply(evt)
	return err
}

// Apply applies one event and returns its audit record.
func (c *SettlementCore) Apply(evt event.Event) (*ledger.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, err := c.apply(evt, modeLive)
	if err != nil {
		return nil, err
	}
	return out.Record, nil
}

// ReplayEvent re-applies an event read back from the event log. The
// persisted store is not consulted for duplicates (the event is in it by
// construction) and nothing is emitted. The resulting state hash must match
// the one recorded when the event was first applied.
func (c *SettlementCore) ReplayEvent(evt event.Event, expectedHash [32]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, err := c.apply(evt, modeReplay)
	if err != nil {
		return err
	}
	if out.Envelope.StateHash != expectedHash {
		return fmt.Errorf("state hash mismatch at seq %d: expected %x, got %x",
			out.Envelope.Sequence, expectedHash, out.Envelope.StateHash)
	}
	return nil
}

// apply is the processing pipeline. Caller holds the write lock.
func (c *SettlementCore) apply(evt event.Event, mode applyMode) (CoreOutput, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	class := evt.IdempotencyClass()
	key := evt.IdempotencyKey()

	// Step 1: Idempotency check
	var isDuplicate bool
	var err error
	if mode == modeReplay {
		isDuplicate = c.idempotency.Contains(class, key)
	} else {
		isDuplicate, err = c.idempotency.IsDuplicate(class, key)
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.DedupTier2Errors.Inc()
		}
		return CoreOutput{}, c.reject(evt, err)
	}
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.IdempotencyDuplicates.WithLabelValues(string(class)).Inc()
		}
		return CoreOutput{}, c.reject(evt, fmt.Errorf("%w: %s %s", ErrDuplicate, class, key))
	}

	// Step 2: Dispatch. Handlers only write to the staged transaction.
	tx := c.begin()
	record, err := c.dispatchEvent(tx, evt)
	if err != nil {
		return CoreOutput{}, c.reject(evt, err)
	}
	record.Before = c.balances(record.FromChainID, record.ToChainID)
	tx.commit()

	// Step 3: Post-checks. A violation here means the state is corrupt.
	if err := c.validator.ValidateAll(c.state); err != nil {
		c.logger.Error().Err(err).Str("event_type", eventType).Int64("seq", c.sequence).Msg("invariant violated")
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 4: Finalize record
	record.RecordID = uuid.New()
	record.Sequence = c.sequence
	record.Action = eventType
	record.Timestamp = evt.EventTime().UnixMicro()
	record.After = c.balances(record.FromChainID, record.ToChainID)
	record.RewardBalance = c.state.Reward(record.Account)
	if err := c.validator.ValidateRecord(record); err != nil {
		panic(fmt.Sprintf("FATAL: malformed audit record: %v", err))
	}

	// Step 5: State hash
	hashStart := time.Now()
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, c.computeStateDigest(tx, record))
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.EventEnvelope{
		Sequence:         c.sequence,
		IdempotencyKey:   key,
		IdempotencyClass: class,
		EventType:        evt.EventType(),
		ChainID:          evt.SourceChain(),
		Timestamp:        evt.EventTime(),
		StateHash:        stateHash,
		PrevHash:         prevHash,
	}
	out := CoreOutput{Envelope: envelope, Event: evt, Record: record}
	c.sequence++

	// Step 6: Emit
	if mode == modeLive && c.sink != nil {
		c.sink.Append(out)
	}

	// Step 7: Mark as processed
	c.idempotency.MarkProcessed(class, key)

	c.recordApplied(eventType, tx, record, start)
	return out, nil
}

func (c *SettlementCore) reject(evt event.Event, err error) error {
	reason := RejectReason(err)
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(evt.EventType().String(), reason).Inc()
		if reason == "clock_regression" {
			c.metrics.ClockRegressions.WithLabelValues(ClockPartitionEpoch).Inc()
		}
	}
	c.logger.Debug().
		Str("event_type", evt.EventType().String()).
		Str("key", evt.IdempotencyKey()).
		Str("reason", reason).
		Err(err).
		Msg("event rejected")
	return fmt.Errorf("%s rejected: %w", evt.EventType(), err)
}

func (c *SettlementCore) recordApplied(eventType string, tx *stagedTx, record *ledger.Record, start time.Time) {
	if c.metrics == nil {
		return
	}
	m := c.metrics
	m.CoreEventsApplied.WithLabelValues(eventType).Inc()
	m.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	m.CoreSequence.Set(float64(c.sequence))
	m.PoolTotalPCV.Set(observability.AmountToFloat(&c.state.Pool.TotalPCV))
	m.PoolTotalShares.Set(observability.AmountToFloat(&c.state.Pool.TotalShares))
	m.DedupLRUSize.Set(float64(c.idempotency.lru.Size()))
	for _, id := range tx.touchedChains() {
		ch := c.state.Chain(id)
		m.SetChainLiquidity(id, &ch.PCV, &ch.Locked)
	}

	switch record.Kind {
	case ledger.RecordKindSwapInitiated:
		m.SwapsInitiated.Inc()
	case ledger.RecordKindSwapSettled:
		m.SwapsCompleted.WithLabelValues(state.CompletionSettled.String()).Inc()
		m.RewardRate.Observe(observability.AmountToFloat(&record.Reward.RewardRate))
		m.RewardsGranted.Add(observability.AmountToFloat(&record.Reward.Granted))
		m.RewardsForfeited.Add(observability.AmountToFloat(record.Reward.Forfeited()))
		m.EpochAmount.Set(observability.AmountToFloat(&c.state.Epoch.CurrentEpochAmount))
		m.EpochNumber.Set(float64(c.state.Epoch.CurrentEpochNumber))
	case ledger.RecordKindSwapInvalidated:
		m.SwapsCompleted.WithLabelValues(state.CompletionInvalidated.String()).Inc()
	case ledger.RecordKindSwapTimedOut:
		m.SwapsCompleted.WithLabelValues(state.CompletionTimeout.String()).Inc()
	case ledger.RecordKindRewardClaimed:
		m.RewardsClaimed.Add(observability.AmountToFloat(&record.Amount))
	}
}

// --- Staged writes ---

// stagedTx collects the writes of one operation. Handlers read the live
// state, stage new values and only commit after every check has passed, so
// a rejected operation leaves no trace.
type stagedTx struct {
	s        *state.LedgerState
	chains   map[uint32]*state.ChainLiquidity
	pool     *state.Pool
	epoch    *state.EpochState
	swap     *state.SwapRecord
	rewards  map[state.AccountID]uint256.Int
	settings func(s *state.LedgerState)

	clockAdvance *uint64
	clock        *ClockValidator
}

func (c *SettlementCore) begin() *stagedTx {
	return &stagedTx{
		s:       c.state,
		chains:  make(map[uint32]*state.ChainLiquidity),
		rewards: make(map[state.AccountID]uint256.Int),
		clock:   c.clock,
	}
}

// chain returns a staged copy of a chain, shared across calls so that a
// swap whose source and target coincide accumulates both legs.
func (tx *stagedTx) chain(id uint32) *state.ChainLiquidity {
	if ch, ok := tx.chains[id]; ok {
		return ch
	}
	cp := *tx.s.Chain(id)
	tx.chains[id] = &cp
	return &cp
}

func (tx *stagedTx) poolCopy() *state.Pool {
	if tx.pool == nil {
		cp := tx.s.Pool
		tx.pool = &cp
	}
	return tx.pool
}

func (tx *stagedTx) reward(account state.AccountID) uint256.Int {
	if amt, ok := tx.rewards[account]; ok {
		return amt
	}
	return tx.s.Reward(account)
}

func (tx *stagedTx) touchedChains() []uint32 {
	ids := make([]uint32, 0, len(tx.chains))
	for id := range tx.chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (tx *stagedTx) commit() {
	for id, ch := range tx.chains {
		*tx.s.EnsureChain(id) = *ch
	}
	if tx.pool != nil {
		tx.s.Pool = *tx.pool
	}
	if tx.epoch != nil {
		tx.s.Epoch = *tx.epoch
	}
	if tx.swap != nil {
		tx.s.Swaps[tx.swap.UniversalID] = tx.swap
	}
	for acct, amt := range tx.rewards {
		if amt.IsZero() {
			delete(tx.s.Rewards, acct)
		} else {
			tx.s.Rewards[acct] = amt
		}
	}
	if tx.settings != nil {
		tx.settings(tx.s)
	}
	if tx.clockAdvance != nil {
		tx.clock.Advance(ClockPartitionEpoch, *tx.clockAdvance)
	}
}

// --- Digest ---

// computeStateDigest creates canonical bytes over everything the operation
// touched plus the pool-wide settings.
func (c *SettlementCore) computeStateDigest(tx *stagedTx, record *ledger.Record) []byte {
	s := c.state
	digest := make([]byte, 0, 256)

	digest = append(digest, byte(record.Kind))
	digest = append(digest, record.UniversalID[:]...)
	digest = append(digest, s.Pool.CanonicalBytes()...)
	digest = append(digest, s.Epoch.CanonicalBytes()...)
	digest = binary.BigEndian.AppendUint64(digest, s.RewardThreshold)
	digest = append(digest, s.RewardValueDecimals)

	for _, id := range tx.touchedChains() {
		digest = append(digest, s.Chain(id).CanonicalBytes()...)
	}

	if swap, ok := s.Swaps[record.UniversalID]; ok {
		digest = append(digest, byte(swap.Status), byte(swap.Completion))
	}

	if !record.Account.IsZero() {
		reward := s.Reward(record.Account)
		digest = append(digest, record.Account[:]...)
		rb := reward.Bytes32()
		digest = append(digest, rb[:]...)
	}

	return digest
}

// balances snapshots pool and chain amounts for an audit record.
func (c *SettlementCore) balances(fromID, toID uint32) ledger.Balances {
	from := c.state.Chain(fromID)
	to := c.state.Chain(toID)
	return ledger.Balances{
		TotalPCV:    c.state.Pool.TotalPCV,
		TotalShares: c.state.Pool.TotalShares,
		FromPCV:     from.PCV,
		FromLocked:  from.Locked,
		ToPCV:       to.PCV,
		ToLocked:    to.Locked,
	}
}

func unixSeconds(t time.Time) (uint64, error) {
	sec := t.Unix()
	if t.IsZero() || sec < 0 {
		return 0, fmt.Errorf("%w: timestamp %s before unix epoch", ErrInvalidConfig, t)
	}
	return uint64(sec), nil
}

// --- Handlers ---

func (c *SettlementCore) handleDeposit(tx *stagedTx, evt *event.Deposit) (*ledger.Record, error) {
	if evt.Amount.IsZero() {
		return nil, ErrZeroAmount
	}

	pool := tx.poolCopy()
	shares, err := fpmath.SharesForDeposit(&pool.TotalShares, &pool.TotalPCV, &evt.Amount)
	if err != nil {
		return nil, fmt.Errorf("mint shares: %w", err)
	}
	totalPCV, err := fpmath.Add(&pool.TotalPCV, &evt.Amount)
	if err != nil {
		return nil, err
	}
	totalShares, err := fpmath.Add(&pool.TotalShares, shares)
	if err != nil {
		return nil, err
	}
	ch := tx.chain(evt.ChainID)
	chainPCV, err := fpmath.Add(&ch.PCV, &evt.Amount)
	if err != nil {
		return nil, err
	}

	rec := c.newRecord(ledger.RecordKindDeposit, &evt.Origin, evt.ChainID, evt.Account)
	rec.Amount = evt.Amount
	rec.Shares = *shares

	pool.TotalPCV.Set(totalPCV)
	pool.TotalShares.Set(totalShares)
	ch.PCV.Set(chainPCV)
	return rec, nil
}

func (c *SettlementCore) handleWithdraw(tx *stagedTx, evt *event.Withdraw) (*ledger.Record, error) {
	if evt.ShareAmount.IsZero() {
		return nil, ErrZeroAmount
	}
	pool := tx.poolCopy()
	if evt.ShareAmount.Gt(&pool.TotalShares) {
		return nil, fmt.Errorf("%w: requested %s, total %s", ErrInsufficientShares, evt.ShareAmount.Dec(), pool.TotalShares.Dec())
	}
	ch := tx.chain(evt.ChainID)
	if !ch.Fee.IsSet {
		return nil, fmt.Errorf("%w: chain %d", ErrFeeStructureUnset, evt.ChainID)
	}

	yieldRate, err := fpmath.YieldRate(&pool.TotalPCV, &pool.TotalShares)
	if err != nil {
		return nil, err
	}
	gross, err := fpmath.SharesToAmount(&evt.ShareAmount, yieldRate)
	if err != nil {
		return nil, err
	}
	fee, err := ch.Fee.Compute(gross)
	if err != nil {
		return nil, err
	}
	if gross.Lt(fee) {
		return nil, fmt.Errorf("%w: gross %s, fee %s", ErrFeeExceedsAmount, gross.Dec(), fee.Dec())
	}
	net := new(uint256.Int).Sub(gross, fee)

	if net.Gt(&ch.PCV) {
		return nil, fmt.Errorf("%w: chain %d holds %s, withdrawal needs %s", ErrInsufficientLiquidity, evt.ChainID, ch.PCV.Dec(), net.Dec())
	}
	chainPCV := new(uint256.Int).Sub(&ch.PCV, net)
	if chainPCV.Lt(&ch.Locked) {
		return nil, fmt.Errorf("%w: chain %d would keep %s, locked %s", ErrLockedLiquidity, evt.ChainID, chainPCV.Dec(), ch.Locked.Dec())
	}
	totalPCV, err := fpmath.Sub(&pool.TotalPCV, net)
	if err != nil {
		return nil, err
	}

	rec := c.newRecord(ledger.RecordKindWithdraw, &evt.Origin, evt.ChainID, evt.Account)
	rec.Amount = *net
	rec.Fee = *fee
	rec.Shares = evt.ShareAmount

	pool.TotalPCV.Set(totalPCV)
	pool.TotalShares.Sub(&pool.TotalShares, &evt.ShareAmount)
	ch.PCV.Set(chainPCV)
	return rec, nil
}

func (c *SettlementCore) handleSwapInitiated(tx *stagedTx, evt *event.SwapInitiated) (*ledger.Record, error) {
	if c.state.Pool.TotalShares.IsZero() {
		return nil, ErrNoShares
	}
	id := evt.UniversalID()
	if status := c.state.SwapStatus(id); !status.CanTransitionTo(state.SwapStatusInitiated) {
		return nil, fmt.Errorf("%w: %s is %s", ErrSwapExists, id, status)
	}
	if evt.Account.IsZero() {
		return nil, ErrZeroAccount
	}
	if evt.AmountIn.IsZero() {
		return nil, ErrZeroAmount
	}

	to := tx.chain(evt.ToChainID)
	if free := to.Free(); free.Lt(&evt.AmountOut) {
		return nil, fmt.Errorf("%w: chain %d free %s, requested %s", ErrInsufficientLiquidity, evt.ToChainID, free.Dec(), evt.AmountOut.Dec())
	}
	if evt.AmountIn.Lt(&evt.AmountOut) {
		return nil, fmt.Errorf("%w: amount in %s < amount out %s", ErrInsufficientRevenue, evt.AmountIn.Dec(), evt.AmountOut.Dec())
	}
	revenue := new(uint256.Int).Sub(&evt.AmountIn, &evt.AmountOut)
	if revenue.Lt(&evt.GasFee) {
		return nil, fmt.Errorf("%w: revenue %s, gas fee %s", ErrInsufficientRevenue, revenue.Dec(), evt.GasFee.Dec())
	}
	locked, err := fpmath.Add(&to.Locked, &evt.AmountOut)
	if err != nil {
		return nil, err
	}

	rec := c.newRecord(ledger.RecordKindSwapInitiated, &evt.Origin, evt.ChainID, evt.Account)
	rec.ToChainID = evt.ToChainID
	rec.Amount = evt.AmountIn
	rec.AmountOut = evt.AmountOut
	rec.GasFee = evt.GasFee

	to.Locked.Set(locked)
	tx.swap = &state.SwapRecord{
		UniversalID: id,
		FromChainID: evt.ChainID,
		ToChainID:   evt.ToChainID,
		Nonce:       evt.Nonce,
		Account:     evt.Account,
		AmountIn:    evt.AmountIn,
		AmountOut:   evt.AmountOut,
		GasFee:      evt.GasFee,
		Status:      state.SwapStatusInitiated,
	}
	return rec, nil
}

// initiatedSwap returns a staged copy of a swap that may still complete.
func (c *SettlementCore) initiatedSwap(tx *stagedTx, origin *event.Origin) (*state.SwapRecord, error) {
	id := origin.UniversalID()
	live, ok := c.state.Swaps[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSwapNotFound, id)
	}
	if !live.Status.CanTransitionTo(state.SwapStatusCompleted) {
		return nil, fmt.Errorf("%w: %s is %s (%s)", ErrInvalidTransition, id, live.Status, live.Completion)
	}
	cp := *live
	tx.swap = &cp
	return &cp, nil
}

func (c *SettlementCore) swapRecord(kind ledger.RecordKind, origin *event.Origin, swap *state.SwapRecord) *ledger.Record {
	rec := c.newRecord(kind, origin, swap.FromChainID, swap.Account)
	rec.ToChainID = swap.ToChainID
	rec.Amount = swap.AmountIn
	rec.AmountOut = swap.AmountOut
	rec.GasFee = swap.GasFee
	return rec
}

func (c *SettlementCore) handleSwapSettled(tx *stagedTx, evt *event.SwapSettled) (*ledger.Record, error) {
	swap, err := c.initiatedSwap(tx, &evt.Origin)
	if err != nil {
		return nil, err
	}
	now, err := unixSeconds(evt.Timestamp)
	if err != nil {
		return nil, err
	}
	if err := c.clock.Validate(ClockPartitionEpoch, now); err != nil {
		return nil, err
	}

	// Pre-settlement snapshot
	pool := tx.poolCopy()
	from := tx.chain(swap.FromChainID)
	to := tx.chain(swap.ToChainID)
	prevTotal := pool.TotalPCV
	prevFrom := from.PCV
	prevTo := to.PCV

	revenue := swap.Revenue()
	inflow := new(uint256.Int).Sub(&swap.AmountIn, &swap.GasFee)
	netRevenue := new(uint256.Int).Sub(revenue, &swap.GasFee)

	result, err := fpmath.CalculateReward(fpmath.RewardInput{
		ValueDecimals: c.state.RewardValueDecimals,
		SwapFeeAmount: *revenue,
		TokenUSDValue: evt.TokenUSDValue,
		PrevTotalPCV:  prevTotal,
		PrevFromPCV:   prevFrom,
		AmountIn:      *inflow,
		PrevToPCV:     prevTo,
		AmountOut:     swap.AmountOut,
		Threshold:     c.state.RewardThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("reward: %w", err)
	}
	granted, nextEpoch, err := c.state.Epoch.Admit(&result.RewardAmount, now)
	if err != nil {
		return nil, fmt.Errorf("epoch budget: %w", err)
	}

	totalPCV, err := fpmath.Add(&pool.TotalPCV, netRevenue)
	if err != nil {
		return nil, err
	}
	fromPCV, err := fpmath.Add(&from.PCV, inflow)
	if err != nil {
		return nil, err
	}
	// from and to are the same staged record for a same-chain swap, so the
	// outflow is taken from the already credited balance.
	from.PCV.Set(fromPCV)
	toPCV, err := fpmath.Sub(&to.PCV, &swap.AmountOut)
	if err != nil {
		return nil, err
	}
	toLocked, err := fpmath.Sub(&to.Locked, &swap.AmountOut)
	if err != nil {
		return nil, err
	}
	balance := tx.reward(swap.Account)
	newBalance, err := fpmath.Add(&balance, &granted)
	if err != nil {
		return nil, err
	}

	rec := c.swapRecord(ledger.RecordKindSwapSettled, &evt.Origin, swap)
	rec.Reward = ledger.RewardTrace{
		TokenUSDValue: evt.TokenUSDValue,
		OldProduct:    result.OldProduct,
		NewProduct:    result.NewProduct,
		RewardRate:    result.RewardRate,
		Calculated:    result.RewardAmount,
		Granted:       granted,
		EpochNumber:   nextEpoch.CurrentEpochNumber,
	}

	pool.TotalPCV.Set(totalPCV)
	to.PCV.Set(toPCV)
	to.Locked.Set(toLocked)
	tx.epoch = &nextEpoch
	tx.rewards[swap.Account] = *newBalance
	tx.clockAdvance = &now
	swap.Complete(state.CompletionSettled)
	return rec, nil
}

func (c *SettlementCore) handleSwapInvalidated(tx *stagedTx, evt *event.SwapInvalidated) (*ledger.Record, error) {
	swap, err := c.initiatedSwap(tx, &evt.Origin)
	if err != nil {
		return nil, err
	}
	pool := tx.poolCopy()
	to := tx.chain(swap.ToChainID)

	locked, err := fpmath.Sub(&to.Locked, &swap.AmountOut)
	if err != nil {
		return nil, err
	}
	if evt.ActualAmountOut.Gt(&to.PCV) {
		return nil, fmt.Errorf("%w: chain %d holds %s, paid out %s", ErrInsufficientLiquidity, swap.ToChainID, to.PCV.Dec(), evt.ActualAmountOut.Dec())
	}
	toPCV := new(uint256.Int).Sub(&to.PCV, &evt.ActualAmountOut)
	if toPCV.Lt(locked) {
		return nil, fmt.Errorf("%w: chain %d would keep %s, still locked %s", ErrLockedLiquidity, swap.ToChainID, toPCV.Dec(), locked.Dec())
	}
	totalPCV, err := fpmath.Sub(&pool.TotalPCV, &evt.ActualAmountOut)
	if err != nil {
		return nil, err
	}

	rec := c.swapRecord(ledger.RecordKindSwapInvalidated, &evt.Origin, swap)
	rec.AmountOut = evt.ActualAmountOut

	pool.TotalPCV.Set(totalPCV)
	to.PCV.Set(toPCV)
	to.Locked.Set(locked)
	swap.Complete(state.CompletionInvalidated)
	return rec, nil
}

func (c *SettlementCore) handleSwapTimedOut(tx *stagedTx, evt *event.SwapTimedOut) (*ledger.Record, error) {
	swap, err := c.initiatedSwap(tx, &evt.Origin)
	if err != nil {
		return nil, err
	}
	to := tx.chain(swap.ToChainID)
	locked, err := fpmath.Sub(&to.Locked, &swap.AmountOut)
	if err != nil {
		return nil, err
	}

	rec := c.swapRecord(ledger.RecordKindSwapTimedOut, &evt.Origin, swap)

	to.Locked.Set(locked)
	swap.Complete(state.CompletionTimeout)
	return rec, nil
}

func (c *SettlementCore) handleRewardClaim(tx *stagedTx, evt *event.RewardClaimed) (*ledger.Record, error) {
	if evt.Account.IsZero() {
		return nil, ErrZeroAccount
	}
	prior := tx.reward(evt.Account)

	rec := c.newRecord(ledger.RecordKindRewardClaimed, &evt.Origin, evt.ChainID, evt.Account)
	rec.Amount = prior

	tx.rewards[evt.Account] = uint256.Int{}
	return rec, nil
}

// --- Administrative setters ---

func (c *SettlementCore) adminRecord(chainID uint32) *ledger.Record {
	return &ledger.Record{
		Kind:        ledger.RecordKindAdmin,
		FromChainID: chainID,
	}
}

func (c *SettlementCore) handleFeeStructureSet(tx *stagedTx, evt *event.FeeStructureSet) (*ledger.Record, error) {
	fee := evt.FeeStructure()
	if err := state.ValidateFeeStructure(&fee); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	rec := c.adminRecord(evt.ChainID)
	rec.Amount = fee.Rate
	tx.chain(evt.ChainID).Fee = fee
	return rec, nil
}

func (c *SettlementCore) handleRewardThresholdSet(tx *stagedTx, evt *event.RewardThresholdSet) (*ledger.Record, error) {
	if evt.Threshold > fpmath.BasePointConfig.Scale {
		return nil, fmt.Errorf("%w: reward threshold %d exceeds %d", ErrInvalidConfig, evt.Threshold, fpmath.BasePointConfig.Scale)
	}
	rec := c.adminRecord(0)
	rec.Amount.SetUint64(evt.Threshold)
	threshold := evt.Threshold
	tx.settings = func(s *state.LedgerState) { s.RewardThreshold = threshold }
	return rec, nil
}

func (c *SettlementCore) handleEpochConfigSet(tx *stagedTx, evt *event.EpochConfigSet) (*ledger.Record, error) {
	if evt.Period.IsZero() {
		return nil, fmt.Errorf("%w: epoch period must be > 0", ErrInvalidConfig)
	}
	now, err := unixSeconds(evt.Timestamp)
	if err != nil {
		return nil, err
	}
	if err := c.clock.Validate(ClockPartitionEpoch, now); err != nil {
		return nil, err
	}

	next := c.state.Epoch.Reconfigure(&evt.Period, &evt.LimitPerEpoch, now)

	rec := c.adminRecord(0)
	rec.Amount = evt.LimitPerEpoch
	rec.Reward.EpochNumber = next.CurrentEpochNumber

	tx.epoch = &next
	tx.clockAdvance = &now
	return rec, nil
}

func (c *SettlementCore) handleChainWeightSet(tx *stagedTx, evt *event.ChainWeightSet) (*ledger.Record, error) {
	rec := c.adminRecord(evt.ChainID)
	rec.Amount.SetUint64(uint64(evt.Weight))
	tx.chain(evt.ChainID).Weight = evt.Weight
	return rec, nil
}

func (c *SettlementCore) handleChainPCVCorrected(tx *stagedTx, evt *event.ChainPCVCorrected) (*ledger.Record, error) {
	pool := tx.poolCopy()
	ch := tx.chain(evt.ChainID)
	if evt.PCV.Lt(&ch.Locked) {
		return nil, fmt.Errorf("%w: chain %d pcv %s below locked %s", ErrLockedLiquidity, evt.ChainID, evt.PCV.Dec(), ch.Locked.Dec())
	}

	var totalPCV *uint256.Int
	var err error
	if evt.PCV.Gt(&ch.PCV) {
		totalPCV, err = fpmath.Add(&pool.TotalPCV, new(uint256.Int).Sub(&evt.PCV, &ch.PCV))
	} else {
		totalPCV, err = fpmath.Sub(&pool.TotalPCV, new(uint256.Int).Sub(&ch.PCV, &evt.PCV))
	}
	if err != nil {
		return nil, err
	}

	rec := c.adminRecord(evt.ChainID)
	rec.Amount = evt.PCV

	pool.TotalPCV.Set(totalPCV)
	ch.PCV.Set(&evt.PCV)
	return rec, nil
}

func (c *SettlementCore) handleTotalSharesCorrected(tx *stagedTx, evt *event.TotalSharesCorrected) (*ledger.Record, error) {
	rec := c.adminRecord(0)
	rec.Shares = evt.TotalShares
	tx.poolCopy().TotalShares.Set(&evt.TotalShares)
	return rec, nil
}

func (c *SettlementCore) handleRewardDecimalsSet(tx *stagedTx, evt *event.RewardDecimalsSet) (*ledger.Record, error) {
	if evt.Decimals > fpmath.MaxDecimals {
		return nil, fmt.Errorf("%w: reward decimals %d exceeds %d", ErrInvalidConfig, evt.Decimals, fpmath.MaxDecimals)
	}
	rec := c.adminRecord(0)
	rec.Amount.SetUint64(uint64(evt.Decimals))
	decimals := evt.Decimals
	tx.settings = func(s *state.LedgerState) { s.RewardValueDecimals = decimals }
	return rec, nil
}

func (c *SettlementCore) newRecord(kind ledger.RecordKind, origin *event.Origin, fromChainID uint32, account state.AccountID) *ledger.Record {
	return &ledger.Record{
		Kind:        kind,
		UniversalID: origin.UniversalID(),
		FromChainID: fromChainID,
		Nonce:       origin.Nonce,
		Account:     account,
	}
}

func (c *SettlementCore) dispatchEvent(tx *stagedTx, evt event.Event) (*ledger.Record, error) {
	switch e := evt.(type) {
	case *event.Deposit:
		return c.handleDeposit(tx, e)
	case *event.Withdraw:
		return c.handleWithdraw(tx, e)
	case *event.SwapInitiated:
		return c.handleSwapInitiated(tx, e)
	case *event.SwapSettled:
		return c.handleSwapSettled(tx, e)
	case *event.SwapInvalidated:
		return c.handleSwapInvalidated(tx, e)
	case *event.SwapTimedOut:
		return c.handleSwapTimedOut(tx, e)
	case *event.RewardClaimed:
		return c.handleRewardClaim(tx, e)
	case *event.FeeStructureSet:
		return c.handleFeeStructureSet(tx, e)
	case *event.RewardThresholdSet:
		return c.handleRewardThresholdSet(tx, e)
	case *event.EpochConfigSet:
		return c.handleEpochConfigSet(tx, e)
	case *event.ChainWeightSet:
		return c.handleChainWeightSet(tx, e)
	case *event.ChainPCVCorrected:
		return c.handleChainPCVCorrected(tx, e)
	case *event.TotalSharesCorrected:
		return c.handleTotalSharesCorrected(tx, e)
	case *event.RewardDecimalsSet:
		return c.handleRewardDecimalsSet(tx, e)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, evt)
	}
}
