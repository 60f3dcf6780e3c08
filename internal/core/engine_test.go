package core_test

import (
	"errors"
	"testing"
	"time"

	"YPoolLedger/internal/core"
	"YPoolLedger/internal/event"
	"YPoolLedger/internal/ledger"
	"YPoolLedger/internal/state"

	"github.com/holiman/uint256"
)

// --- Test helpers ---

// newTestCore creates a SettlementCore with buffered channels and no DB checker.
func newTestCore() (*core.SettlementCore, chan core.CoreOutput, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c := core.NewSettlementCore(0, core.NewChannelSink(persistChan, projChan), nil, nil)
	return c, persistChan, projChan
}

func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func account(b byte) state.AccountID {
	var a state.AccountID
	a[0] = 0xA0
	a[31] = b
	return a
}

func at(sec int64) time.Time {
	return time.Unix(sec, 0)
}

func origin(chainID uint32, nonce uint64) event.Origin {
	return event.Origin{ChainID: chainID, Nonce: *u(nonce)}
}

func mustDeposit(chainID uint32, nonce uint64, acct state.AccountID, amount uint64) *event.Deposit {
	return &event.Deposit{
		Origin:    origin(chainID, nonce),
		Account:   acct,
		Amount:    *u(amount),
		Timestamp: at(1000 + int64(nonce)),
	}
}

func mustWithdraw(chainID uint32, nonce uint64, acct state.AccountID, shares uint64) *event.Withdraw {
	return &event.Withdraw{
		Origin:      origin(chainID, nonce),
		Account:     acct,
		ShareAmount: *u(shares),
		Timestamp:   at(1000 + int64(nonce)),
	}
}

func mustSwap(from uint32, nonce uint64, to uint32, acct state.AccountID, in, out, gas uint64) *event.SwapInitiated {
	return &event.SwapInitiated{
		Origin:    origin(from, nonce),
		ToChainID: to,
		Account:   acct,
		AmountIn:  *u(in),
		AmountOut: *u(out),
		GasFee:    *u(gas),
		Timestamp: at(1000 + int64(nonce)),
	}
}

// oneUSD is a token price of 1.0 at the default 18 reward decimals, which
// makes reward amounts equal to fee rewards.
func oneUSD() uint256.Int {
	v := new(uint256.Int).Exp(u(10), u(18))
	return *v
}

func mustSettle(from uint32, nonce uint64, sec int64) *event.SwapSettled {
	return &event.SwapSettled{
		Origin:        origin(from, nonce),
		TokenUSDValue: oneUSD(),
		Timestamp:     at(sec),
	}
}

func mustInvalidate(from uint32, nonce uint64, actualOut uint64) *event.SwapInvalidated {
	return &event.SwapInvalidated{
		Origin:          origin(from, nonce),
		ActualAmountOut: *u(actualOut),
		Timestamp:       at(5000),
	}
}

func mustTimeout(from uint32, nonce uint64) *event.SwapTimedOut {
	return &event.SwapTimedOut{Origin: origin(from, nonce), Timestamp: at(5000)}
}

func mustClaim(chainID uint32, nonce uint64, acct state.AccountID) *event.RewardClaimed {
	return &event.RewardClaimed{
		Origin:    origin(chainID, nonce),
		Account:   acct,
		Timestamp: at(6000 + int64(nonce)),
	}
}

func mustProcess(t *testing.T, c *core.SettlementCore, evts ...event.Event) {
	t.Helper()
	for i, evt := range evts {
		if err := c.ProcessEvent(evt); err != nil {
			t.Fatalf("ProcessEvent %d (%s) failed: %v", i, evt.EventType(), err)
		}
	}
}

func mustApply(t *testing.T, c *core.SettlementCore, evt event.Event) *ledger.Record {
	t.Helper()
	rec, err := c.Apply(evt)
	if err != nil {
		t.Fatalf("Apply(%s) failed: %v", evt.EventType(), err)
	}
	return rec
}

func expectEq(t *testing.T, what string, got uint256.Int, want uint64) {
	t.Helper()
	if !got.Eq(u(want)) {
		t.Errorf("%s: expected %d, got %s", what, want, got.Dec())
	}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// checkConservation recomputes the pool total from the chain records.
func checkConservation(t *testing.T, c *core.SettlementCore) {
	t.Helper()
	var sum uint256.Int
	for _, ch := range c.Chains() {
		sum.Add(&sum, &ch.PCV)
		if ch.Locked.Gt(&ch.PCV) {
			t.Fatalf("chain %d: locked %s exceeds pcv %s", ch.ChainID, ch.Locked.Dec(), ch.PCV.Dec())
		}
	}
	total := c.TotalPCV()
	if !sum.Eq(&total) {
		t.Fatalf("sum of chain pcv %s != total pcv %s", sum.Dec(), total.Dec())
	}
}

type fakeDBChecker struct {
	duplicates map[string]bool
	err        error
	calls      int
}

func (f *fakeDBChecker) IsDuplicate(class string, key string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.duplicates[class+":"+key], nil
}

var alice = account(1)

// ============================================================================
// Test: Deposit Flow
// ============================================================================

func TestDeposit_FirstMintsOneToOne(t *testing.T) {
	c, persistCh, _ := newTestCore()

	rec := mustApply(t, c, mustDeposit(1, 1, alice, 1000))

	expectEq(t, "shares", rec.Shares, 1000)
	expectEq(t, "total pcv", c.TotalPCV(), 1000)
	expectEq(t, "total shares", c.TotalShares(), 1000)
	expectEq(t, "chain pcv", c.ChainPCV(1), 1000)

	if rec.Kind != ledger.RecordKindDeposit {
		t.Errorf("expected deposit record, got %s", rec.Kind)
	}
	expectEq(t, "before total", rec.Before.TotalPCV, 0)
	expectEq(t, "after total", rec.After.TotalPCV, 1000)

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if outputs[0].Record != rec {
		t.Error("emitted record differs from returned record")
	}
}

func TestDeposit_MintsProportionallyAfterYield(t *testing.T) {
	c, _, _ := newTestCore()
	mustProcess(t, c,
		mustDeposit(1, 1, alice, 1000),
		mustDeposit(2, 1, alice, 1000),
		event.NewEpochConfigSet(u(3600), u(1_000_000), at(1000)),
		mustSwap(1, 2, 2, alice, 110, 100, 4),
		mustSettle(1, 2, 2000),
	)
	// pool grew by revenue minus gas: 2006 pcv for 2000 shares
	expectEq(t, "total pcv", c.TotalPCV(), 2006)

	rec := mustApply(t, c, mustDeposit(3, 1, account(2), 1003))
	expectEq(t, "shares", rec.Shares, 1000)
	expectEq(t, "total shares", c.TotalShares(), 3000)
	checkConservation(t, c)
}

func TestDeposit_ZeroAmountRejected(t *testing.T) {
	c, persistCh, _ := newTestCore()

	err := c.ProcessEvent(mustDeposit(1, 1, alice, 0))
	if !errors.Is(err, core.ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if got := len(drainOutputs(persistCh)); got != 0 {
		t.Errorf("expected no output, got %d", got)
	}
}

func TestDeposit_SharesWithoutLiquidityRejected(t *testing.T) {
	c, _, _ := newTestCore()
	mustProcess(t, c, event.NewTotalSharesCorrected(u(500), at(900)))

	err := c.ProcessEvent(mustDeposit(1, 1, alice, 1000))
	if err == nil {
		t.Fatal("expected deposit into pool with shares but no pcv to fail")
	}
	expectEq(t, "total pcv", c.TotalPCV(), 0)
}

// ============================================================================
// Test: Idempotency
// ============================================================================

func TestIdempotency_DuplicateDepositRejected(t *testing.T) {
	c, persistCh, _ := newTestCore()
	mustProcess(t, c, mustDeposit(1, 7, alice, 500))
	hash := c.GetStateHash()

	err := c.ProcessEvent(mustDeposit(1, 7, alice, 500))
	if !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	expectEq(t, "total pcv", c.TotalPCV(), 500)
	expectEq(t, "total shares", c.TotalShares(), 500)
	if c.GetStateHash() != hash {
		t.Error("state hash changed on duplicate")
	}
	if got := len(drainOutputs(persistCh)); got != 1 {
		t.Errorf("expected 1 output, got %d", got)
	}
}

func TestIdempotency_DuplicateWithdrawRejected(t *testing.T) {
	c, persistCh, _ := newTestCore()
	mustProcess(t, c,
		mustDeposit(1, 1, alice, 1000),
		setFee(1),
		mustWithdraw(1, 2, alice, 500),
	)
	hash := c.GetStateHash()

	err := c.ProcessEvent(mustWithdraw(1, 2, alice, 500))
	if !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	expectEq(t, "total shares", c.TotalShares(), 500)
	expectEq(t, "total pcv", c.TotalPCV(), 501)
	if c.GetStateHash() != hash {
		t.Error("state hash changed on duplicate")
	}
	if got := len(drainOutputs(persistCh)); got != 3 {
		t.Errorf("expected 3 outputs, got %d", got)
	}
}

func TestIdempotency_ClassesArePartitioned(t *testing.T) {
	c, _, _ := newTestCore()
	// the same (chain, nonce) is a distinct event in each class
	mustProcess(t, c,
		mustDeposit(1, 7, alice, 500),
		mustClaim(1, 7, alice),
	)
	if err := c.ProcessEvent(mustClaim(1, 7, alice)); !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for repeated claim, got %v", err)
	}
}

func TestIdempotency_PersistedDuplicateRejected(t *testing.T) {
	dep := mustDeposit(1, 9, alice, 100)
	db := &fakeDBChecker{duplicates: map[string]bool{
		"deposit:" + dep.IdempotencyKey(): true,
	}}
	c := core.NewSettlementCore(0, nil, db, nil)

	if err := c.ProcessEvent(dep); !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate from tier 2, got %v", err)
	}
	// second lookup is served from memory
	if err := c.ProcessEvent(dep); !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if db.calls != 1 {
		t.Errorf("expected 1 tier-2 lookup, got %d", db.calls)
	}
}

func TestIdempotency_StoreFailureRejects(t *testing.T) {
	db := &fakeDBChecker{err: errors.New("connection refused")}
	c := core.NewSettlementCore(0, nil, db, nil)

	err := c.ProcessEvent(mustDeposit(1, 1, alice, 100))
	if !errors.Is(err, core.ErrIdempotencyUnavailable) {
		t.Fatalf("expected ErrIdempotencyUnavailable, got %v", err)
	}
	expectEq(t, "total pcv", c.TotalPCV(), 0)
	if c.GetSequence() != 0 {
		t.Errorf("expected sequence 0, got %d", c.GetSequence())
	}
	if got := core.RejectReason(err); got != "idempotency_unavailable" {
		t.Errorf("expected reason idempotency_unavailable, got %s", got)
	}
}

func TestIdempotency_AdminEventsSkipStore(t *testing.T) {
	db := &fakeDBChecker{err: errors.New("down")}
	c := core.NewSettlementCore(0, nil, db, nil)

	mustProcess(t, c, event.NewRewardThresholdSet(5, at(1)), event.NewRewardThresholdSet(5, at(2)))
	if db.calls != 0 {
		t.Errorf("expected admin events not to query the store, got %d calls", db.calls)
	}
}

// ============================================================================
// Test: Withdraw Flow
// ============================================================================

func setFee(chainID uint32) *event.FeeStructureSet {
	// 0.1%, at least 1, at most 100
	return event.NewFeeStructureSet(chainID, u(1), u(100), u(1000), 6, at(900))
}

func TestWithdraw_BurnsSharesAndChargesFee(t *testing.T) {
	c, _, _ := newTestCore()
	mustProcess(t, c, mustDeposit(1, 1, alice, 1000), setFee(1))

	rec := mustApply(t, c, mustWithdraw(1, 2, alice, 500))

	expectEq(t, "fee", rec.Fee, 1)
	expectEq(t, "net", rec.Amount, 499)
	expectEq(t, "total shares", c.TotalShares(), 500)
	expectEq(t, "total pcv", c.TotalPCV(), 501)
	expectEq(t, "chain pcv", c.ChainPCV(1), 501)
	checkConservation(t, c)
}

func TestWithdraw_FeeStructureUnsetRejected(t *testing.T) {
	c, _, _ := newTestCore()
	mustProcess(t, c, mustDeposit(1, 1, alice, 1000))

	err := c.ProcessEvent(mustWithdraw(1, 2, alice, 10))
	if !errors.Is(err, core.ErrFeeStructureUnset) {
		t.Fatalf("expected ErrFeeStructureUnset, got %v", err)
	}
}

func TestWithdraw_MoreThanTotalSharesRejected(t *testing.T) {
	c, _, _ := newTestCore()
	mustProcess(t, c, mustDeposit(1, 1, alice, 1000), setFee(1))

	err := c.ProcessEvent(mustWithdraw(1, 2, alice, 1001))
	if !errors.Is(err, core.ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	expectEq(t, "total shares", c.TotalShares(), 1000)
}

func TestWithdraw_LockedLiquidityProtected(t *testing.T) {
	c, _, _ := newTestCore()
	mustProcess(t, c,
		mustDeposit(1, 1, alice, 1000),
		mustDeposit(2, 1, alice, 1000),
		setFee(2),
		mustSwap(1, 2, 2, alice, 1000, 900, 0),
	)
	hash := c.GetStateHash()

	err := c.ProcessEvent(mustWithdraw(2, 2, alice, 200))
	if !errors.Is(err, core.ErrLockedLiquidity) {
		t.Fatalf("expected ErrLockedLiquidity, got %v", err)
	}
	expectEq(t, "chain 2 pcv", c.ChainPCV(2), 1000)
	expectEq(t, "total shares", c.TotalShares(), 2000)
	if c.GetStateHash() != hash {
		t.Error("rejected withdrawal changed the state hash")
	}
}

func TestWithdraw_ExceedsChainLiquidityRejected(t *testing.T) {
	c, _, _ := newTestCore()
	mustProcess(t, c,
		mustDeposit(1, 1, alice, 1000),
		mustDeposit(2, 1, alice, 100),
		setFee(2),
	)

	err := c.ProcessEvent(mustWithdraw(2, 2, alice, 500))
	if !errors.Is(err, core.ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

// ============================================================================
// Test: Administrative Setters
// ============================================================================

func TestAdmin_RewardThresholdBounds(t *testing.T) {
	c, _, _ := newTestCore()

	mustProcess(t, c, event.NewRewardThresholdSet(10000, at(1)))
	if c.RewardThreshold() != 10000 {
		t.Errorf("expected threshold 10000, got %d", c.RewardThreshold())
	}
	err := c.ProcessEvent(event.NewRewardThresholdSet(10001, at(2)))
	if !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if c.RewardThreshold() != 10000 {
		t.Errorf("rejected setter changed threshold to %d", c.RewardThreshold())
	}
}

func TestAdmin_FeeStructureValidated(t *testing.T) {
	c, _, _ := newTestCore()

	err := c.ProcessEvent(event.NewFeeStructureSet(1, u(10), u(5), u(1), 6, at(1)))
	if !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for min > max, got %v", err)
	}
	if c.FeeStructure(1).IsSet {
		t.Error("rejected fee structure was stored")
	}

	mustProcess(t, c, setFee(1))
	fee := c.FeeStructure(1)
	if !fee.IsSet || fee.Decimals != 6 {
		t.Errorf("unexpected fee structure %+v", fee)
	}
}

func TestAdmin_EpochConfig(t *testing.T) {
	c, _, _ := newTestCore()

	if err := c.ProcessEvent(event.NewEpochConfigSet(u(0), u(10), at(1000))); !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for zero period, got %v", err)
	}

	mustProcess(t, c, event.NewEpochConfigSet(u(3600), u(10), at(1000)))
	ep := c.EpochState()
	if ep.StartTime != 1000 || ep.CurrentEpochNumber != 0 {
		t.Errorf("unexpected epoch %+v", ep)
	}

	// limit-only change keeps the start time
	mustProcess(t, c, event.NewEpochConfigSet(u(3600), u(20), at(1500)))
	if got := c.EpochState().StartTime; got != 1000 {
		t.Errorf("expected start 1000 after limit change, got %d", got)
	}

	// period change restarts the epoch
	mustProcess(t, c, event.NewEpochConfigSet(u(60), u(20), at(1600)))
	if got := c.EpochState().StartTime; got != 1600 {
		t.Errorf("expected start 1600 after period change, got %d", got)
	}

	err := c.ProcessEvent(event.NewEpochConfigSet(u(60), u(20), at(1599)))
	if !errors.Is(err, core.ErrClockRegression) {
		t.Fatalf("expected ErrClockRegression, got %v", err)
	}
}

func TestAdmin_ChainPCVCorrection(t *testing.T) {
	c, _, _ := newTestCore()
	mustProcess(t, c,
		mustDeposit(1, 1, alice, 1000),
		mustDeposit(2, 1, alice, 1000),
		mustSwap(1, 2, 2, alice, 500, 400, 0),
	)

	mustProcess(t, c, event.NewChainPCVCorrected(1, u(1200), at(2)))
	expectEq(t, "total pcv after raise", c.TotalPCV(), 2200)

	mustProcess(t, c, event.NewChainPCVCorrected(2, u(400), at(3)))
	expectEq(t, "total pcv after cut", c.TotalPCV(), 1600)
	checkConservation(t, c)

	err := c.ProcessEvent(event.NewChainPCVCorrected(2, u(399), at(4)))
	if !errors.Is(err, core.ErrLockedLiquidity) {
		t.Fatalf("expected ErrLockedLiquidity, got %v", err)
	}
}

func TestAdmin_WeightAndDecimals(t *testing.T) {
	c, _, _ := newTestCore()
	mustProcess(t, c,
		event.NewChainWeightSet(3, 40, at(1)),
		event.NewRewardDecimalsSet(6, at(2)),
		event.NewTotalSharesCorrected(u(77), at(3)),
	)
	if w := c.Chain(3).Weight; w != 40 {
		t.Errorf("expected weight 40, got %d", w)
	}
	if d := c.RewardValueDecimals(); d != 6 {
		t.Errorf("expected decimals 6, got %d", d)
	}
	expectEq(t, "total shares", c.TotalShares(), 77)

	if err := c.ProcessEvent(event.NewRewardDecimalsSet(78, at(4))); !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

// ============================================================================
// Test: State Hash Chain
// ============================================================================

func scriptedEvents() []event.Event {
	return []event.Event{
		mustDeposit(1, 1, alice, 1000),
		mustDeposit(2, 1, account(2), 1000),
		setFee(1),
		event.NewEpochConfigSet(u(3600), u(1_000_000), at(1000)),
		mustSwap(1, 2, 2, alice, 110, 100, 4),
		mustSettle(1, 2, 2000),
		mustSwap(2, 2, 1, account(2), 60, 50, 0),
		mustTimeout(2, 2),
		mustWithdraw(1, 3, alice, 100),
		mustClaim(1, 4, alice),
	}
}

func TestStateHashChain_Deterministic(t *testing.T) {
	c1, out1, _ := newTestCore()
	c2, out2, _ := newTestCore()

	for i, evt := range scriptedEvents() {
		mustProcess(t, c1, evt)
		mustProcess(t, c2, evt)
		if c1.GetStateHash() != c2.GetStateHash() {
			t.Fatalf("state hash diverged at event %d", i)
		}
	}

	envs1 := drainOutputs(out1)
	envs2 := drainOutputs(out2)
	if len(envs1) != len(envs2) {
		t.Fatalf("output count mismatch: %d vs %d", len(envs1), len(envs2))
	}
	prev := core.GenesisHash()
	for i := range envs1 {
		e := envs1[i].Envelope
		if e.Sequence != int64(i) {
			t.Errorf("expected sequence %d, got %d", i, e.Sequence)
		}
		if e.PrevHash != prev {
			t.Errorf("seq %d: prev hash does not link to previous state hash", i)
		}
		prev = e.StateHash
	}
}

func TestStateHashChain_RejectionLeavesTipUnchanged(t *testing.T) {
	c, _, _ := newTestCore()
	mustProcess(t, c, mustDeposit(1, 1, alice, 1000))
	tip := c.GetStateHash()
	seq := c.GetSequence()

	err := c.ProcessEvent(mustSettle(1, 99, 2000))
	if !errors.Is(err, core.ErrSwapNotFound) {
		t.Fatalf("expected ErrSwapNotFound, got %v", err)
	}
	if c.GetStateHash() != tip || c.GetSequence() != seq {
		t.Error("rejected event advanced the hash chain")
	}
}

func TestStateHashChain_CoversFeeStructure(t *testing.T) {
	a, _, _ := newTestCore()
	b, _, _ := newTestCore()
	mustProcess(t, a, event.NewFeeStructureSet(1, u(1), u(100), u(1000), 6, at(900)))
	mustProcess(t, b, event.NewFeeStructureSet(1, u(1), u(100), u(2000), 6, at(900)))

	if a.GetStateHash() == b.GetStateHash() {
		t.Error("different fee schedules produced the same state hash")
	}
}

// ============================================================================
// Test: Replay and Snapshots
// ============================================================================

func TestReplayEvent_ReproducesHashes(t *testing.T) {
	live, persistCh, _ := newTestCore()
	evts := scriptedEvents()
	mustProcess(t, live, evts...)
	outputs := drainOutputs(persistCh)

	replica := core.NewSettlementCore(0, nil, nil, nil)
	for i, out := range outputs {
		if err := replica.ReplayEvent(out.Event, out.Envelope.StateHash); err != nil {
			t.Fatalf("replay %d failed: %v", i, err)
		}
	}
	if replica.GetStateHash() != live.GetStateHash() {
		t.Error("replayed state hash differs from live")
	}
	if replica.TotalPCV() != live.TotalPCV() {
		t.Error("replayed total pcv differs from live")
	}
}

func TestReplayEvent_DetectsHashMismatch(t *testing.T) {
	replica := core.NewSettlementCore(0, nil, nil, nil)
	var bogus [32]byte
	bogus[0] = 1

	err := replica.ReplayEvent(mustDeposit(1, 1, alice, 1000), bogus)
	if err == nil {
		t.Fatal("expected hash mismatch error")
	}
}

func TestSnapshot_RestoreContinuesChain(t *testing.T) {
	evts := scriptedEvents()
	split := 6

	full, _, _ := newTestCore()
	mustProcess(t, full, evts...)

	first, _, _ := newTestCore()
	mustProcess(t, first, evts[:split]...)
	snap := first.CreateSnapshotState()
	if snap.Sequence != int64(split-1) {
		t.Fatalf("expected snapshot sequence %d, got %d", split-1, snap.Sequence)
	}

	restored, _, _ := newTestCore()
	restored.RestoreFromSnapshot(snap)
	mustProcess(t, restored, evts[split:]...)

	if restored.GetStateHash() != full.GetStateHash() {
		t.Error("restored core diverged from uninterrupted core")
	}
	if restored.GetSequence() != full.GetSequence() {
		t.Errorf("expected sequence %d, got %d", full.GetSequence(), restored.GetSequence())
	}

	// dedup keys travel with the snapshot
	if err := restored.ProcessEvent(evts[0]); !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate after restore, got %v", err)
	}
}

func TestSnapshot_IsIsolatedFromLiveState(t *testing.T) {
	c, _, _ := newTestCore()
	mustProcess(t, c, mustDeposit(1, 1, alice, 1000))
	snap := c.CreateSnapshotState()

	mustProcess(t, c, mustDeposit(1, 2, alice, 1000))

	if got := snap.State.Pool.TotalPCV; !got.Eq(u(1000)) {
		t.Errorf("snapshot mutated by later event: total pcv %s", got.Dec())
	}
}

// ============================================================================
// Test: Sink Backpressure
// ============================================================================

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persistCh := make(chan core.CoreOutput, 1024)
	projCh := make(chan core.CoreOutput, 1)
	c := core.NewSettlementCore(0, core.NewChannelSink(persistCh, projCh), nil, nil)

	for i := uint64(1); i <= 5; i++ {
		mustProcess(t, c, mustDeposit(1, i, alice, 100))
	}

	if got := len(drainOutputs(persistCh)); got != 5 {
		t.Errorf("expected 5 persist outputs, got %d", got)
	}
	if got := len(drainOutputs(projCh)); got != 1 {
		t.Errorf("expected 1 projection output, got %d", got)
	}
}
