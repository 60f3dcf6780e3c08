package core_test

import (
	"errors"
	"math/rand"
	"testing"

	"YPoolLedger/internal/core"
	"YPoolLedger/internal/event"
	"YPoolLedger/internal/ledger"
	"YPoolLedger/internal/state"

	"github.com/holiman/uint256"
)

// twoChainPool funds chain 1 and chain 2 and opens a 1h epoch at t=1000.
func twoChainPool(t *testing.T, from, to, limit uint64) *core.SettlementCore {
	t.Helper()
	c, _, _ := newTestCore()
	mustProcess(t, c,
		mustDeposit(1, 1, alice, from),
		mustDeposit(2, 1, alice, to),
		event.NewEpochConfigSet(u(3600), u(limit), at(1000)),
	)
	return c
}

// ============================================================================
// Test: Swap Lifecycle
// ============================================================================

func TestSwap_InitiateLocksTargetLiquidity(t *testing.T) {
	c := twoChainPool(t, 1000, 1000, 1_000_000)

	rec := mustApply(t, c, mustSwap(1, 2, 2, alice, 110, 100, 4))

	if rec.FromChainID != 1 || rec.ToChainID != 2 {
		t.Errorf("unexpected chains %d -> %d", rec.FromChainID, rec.ToChainID)
	}
	ch := c.Chain(2)
	expectEq(t, "locked", ch.Locked, 100)
	expectEq(t, "remaining", c.RemainingLiquidity(2), 900)
	expectEq(t, "total pcv", c.TotalPCV(), 2000)
	if st := c.SwapStatus(1, u(2)); st != state.SwapStatusInitiated {
		t.Errorf("expected Initiated, got %s", st)
	}
}

func TestSwap_FullLifecycleSettled(t *testing.T) {
	c := twoChainPool(t, 1000, 1000, 1_000_000)
	mustProcess(t, c, mustSwap(1, 2, 2, alice, 110, 100, 4))

	rec := mustApply(t, c, mustSettle(1, 2, 2000))

	// inflow is amountIn minus gas, the pool keeps revenue minus gas
	expectEq(t, "chain 1 pcv", c.ChainPCV(1), 1106)
	expectEq(t, "chain 2 pcv", c.ChainPCV(2), 900)
	expectEq(t, "total pcv", c.TotalPCV(), 2006)
	expectEq(t, "locked", c.Chain(2).Locked, 0)
	checkConservation(t, c)

	// the swap moved liquidity away from balance: no reward
	expectEq(t, "old product", rec.Reward.OldProduct, 1_000_000)
	expectEq(t, "new product", rec.Reward.NewProduct, 995_400)
	expectEq(t, "rate", rec.Reward.RewardRate, 0)
	expectEq(t, "granted", rec.Reward.Granted, 0)

	info, ok := c.SwapInfo(1, u(2))
	if !ok || info.Status != state.SwapStatusCompleted || info.Completion != state.CompletionSettled {
		t.Errorf("unexpected swap record %+v", info)
	}

	for _, evt := range []event.Event{mustSettle(1, 2, 2001), mustInvalidate(1, 2, 0), mustTimeout(1, 2)} {
		if err := c.ProcessEvent(evt); !errors.Is(err, core.ErrInvalidTransition) {
			t.Errorf("%s on completed swap: expected ErrInvalidTransition, got %v", evt.EventType(), err)
		}
	}
}

func TestSwap_InitiateRejections(t *testing.T) {
	c := twoChainPool(t, 1000, 1000, 1_000_000)
	mustProcess(t, c, mustSwap(1, 2, 2, alice, 110, 100, 4))

	cases := []struct {
		name string
		evt  *event.SwapInitiated
		want error
	}{
		{"duplicate", mustSwap(1, 2, 2, alice, 110, 100, 4), core.ErrDuplicate},
		{"zero account", mustSwap(1, 3, 2, state.AccountID{}, 110, 100, 4), core.ErrZeroAccount},
		{"zero amount", mustSwap(1, 4, 2, alice, 0, 0, 0), core.ErrZeroAmount},
		{"exceeds free", mustSwap(1, 5, 2, alice, 1000, 901, 0), core.ErrInsufficientLiquidity},
		{"out above in", mustSwap(1, 6, 2, alice, 50, 60, 0), core.ErrInsufficientRevenue},
		{"gas above revenue", mustSwap(1, 7, 2, alice, 110, 100, 11), core.ErrInsufficientRevenue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := c.ProcessEvent(tc.evt); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	expectEq(t, "locked", c.Chain(2).Locked, 100)
}

func TestSwap_EmptyPoolRejected(t *testing.T) {
	c, _, _ := newTestCore()
	err := c.ProcessEvent(mustSwap(1, 1, 2, alice, 10, 5, 0))
	if !errors.Is(err, core.ErrNoShares) {
		t.Fatalf("expected ErrNoShares, got %v", err)
	}
}

func TestSwap_Invalidated(t *testing.T) {
	c := twoChainPool(t, 1000, 1000, 1_000_000)
	mustProcess(t, c, mustSwap(1, 2, 2, alice, 110, 100, 4))

	rec := mustApply(t, c, mustInvalidate(1, 2, 40))

	expectEq(t, "recorded payout", rec.AmountOut, 40)
	expectEq(t, "chain 1 pcv", c.ChainPCV(1), 1000)
	expectEq(t, "chain 2 pcv", c.ChainPCV(2), 960)
	expectEq(t, "locked", c.Chain(2).Locked, 0)
	expectEq(t, "total pcv", c.TotalPCV(), 1960)
	checkConservation(t, c)

	info, _ := c.SwapInfo(1, u(2))
	if info.Completion != state.CompletionInvalidated {
		t.Errorf("expected Invalidated, got %s", info.Completion)
	}
}

func TestSwap_InvalidatedPayoutAboveLiquidityRejected(t *testing.T) {
	c := twoChainPool(t, 1000, 1000, 1_000_000)
	mustProcess(t, c, mustSwap(1, 2, 2, alice, 110, 100, 4))

	err := c.ProcessEvent(mustInvalidate(1, 2, 1001))
	if !errors.Is(err, core.ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if st := c.SwapStatus(1, u(2)); st != state.SwapStatusInitiated {
		t.Errorf("rejected invalidation completed the swap: %s", st)
	}
}

func TestSwap_TimedOutReleasesLock(t *testing.T) {
	c := twoChainPool(t, 1000, 1000, 1_000_000)
	mustProcess(t, c, mustSwap(1, 2, 2, alice, 110, 100, 4))

	rec := mustApply(t, c, mustTimeout(1, 2))

	if rec.Kind != ledger.RecordKindSwapTimedOut {
		t.Errorf("expected timeout record, got %s", rec.Kind)
	}
	expectEq(t, "chain 2 pcv", c.ChainPCV(2), 1000)
	expectEq(t, "locked", c.Chain(2).Locked, 0)
	expectEq(t, "total pcv", c.TotalPCV(), 2000)
}

func TestSwap_UnknownSwapRejected(t *testing.T) {
	c := twoChainPool(t, 1000, 1000, 1_000_000)
	for _, evt := range []event.Event{mustSettle(1, 9, 2000), mustInvalidate(1, 9, 0), mustTimeout(1, 9)} {
		if err := c.ProcessEvent(evt); !errors.Is(err, core.ErrSwapNotFound) {
			t.Errorf("%s: expected ErrSwapNotFound, got %v", evt.EventType(), err)
		}
	}
}

func TestSwap_SameChain(t *testing.T) {
	c, _, _ := newTestCore()
	mustProcess(t, c,
		mustDeposit(1, 1, alice, 1000),
		event.NewEpochConfigSet(u(3600), u(1_000_000), at(1000)),
		mustSwap(1, 2, 1, alice, 110, 100, 4),
	)
	expectEq(t, "locked", c.Chain(1).Locked, 100)

	mustProcess(t, c, mustSettle(1, 2, 2000))

	expectEq(t, "chain pcv", c.ChainPCV(1), 1006)
	expectEq(t, "total pcv", c.TotalPCV(), 1006)
	expectEq(t, "locked", c.Chain(1).Locked, 0)
	checkConservation(t, c)
}

// ============================================================================
// Test: Settlement Atomicity
// ============================================================================

func TestSettle_UnconfiguredEpochLeavesStateUntouched(t *testing.T) {
	c, _, _ := newTestCore()
	mustProcess(t, c,
		mustDeposit(1, 1, alice, 1000),
		mustDeposit(2, 1, alice, 1000),
		mustSwap(1, 2, 2, alice, 110, 100, 4),
	)
	hash := c.GetStateHash()
	pool := c.Pool()

	err := c.ProcessEvent(mustSettle(1, 2, 2000))
	if !errors.Is(err, state.ErrEpochUnconfigured) {
		t.Fatalf("expected ErrEpochUnconfigured, got %v", err)
	}

	if c.Pool() != pool {
		t.Error("pool changed on rejected settlement")
	}
	expectEq(t, "chain 1 pcv", c.ChainPCV(1), 1000)
	expectEq(t, "locked", c.Chain(2).Locked, 100)
	if st := c.SwapStatus(1, u(2)); st != state.SwapStatusInitiated {
		t.Errorf("expected swap still Initiated, got %s", st)
	}
	if c.GetStateHash() != hash {
		t.Error("state hash changed on rejected settlement")
	}
}

func TestSettle_BeforeEpochStartRejected(t *testing.T) {
	c := twoChainPool(t, 1000, 1000, 1_000_000)
	mustProcess(t, c, mustSwap(1, 2, 2, alice, 110, 100, 4))

	err := c.ProcessEvent(mustSettle(1, 2, 1000))
	if !errors.Is(err, state.ErrEpochNotStarted) {
		t.Fatalf("expected ErrEpochNotStarted, got %v", err)
	}
}

func TestSettle_ZeroTokenValueRejected(t *testing.T) {
	c := twoChainPool(t, 1000, 1000, 1_000_000)
	mustProcess(t, c, mustSwap(1, 2, 2, alice, 110, 100, 4))

	evt := mustSettle(1, 2, 2000)
	evt.TokenUSDValue.Clear()
	err := c.ProcessEvent(evt)
	if got := core.RejectReason(err); got != "reward_undefined" {
		t.Fatalf("expected reward_undefined, got %s (%v)", got, err)
	}
	if st := c.SwapStatus(1, u(2)); st != state.SwapStatusInitiated {
		t.Errorf("expected swap still Initiated, got %s", st)
	}
}

func TestSettle_ClockRegressionRejected(t *testing.T) {
	c := twoChainPool(t, 1000, 1000, 1_000_000)
	mustProcess(t, c,
		mustSwap(1, 2, 2, alice, 110, 100, 4),
		mustSwap(1, 3, 2, alice, 110, 100, 4),
		mustSettle(1, 2, 3000),
	)

	err := c.ProcessEvent(mustSettle(1, 3, 2500))
	if !errors.Is(err, core.ErrClockRegression) {
		t.Fatalf("expected ErrClockRegression, got %v", err)
	}
	// the same instant is accepted
	mustProcess(t, c, mustSettle(1, 3, 3000))
}

// ============================================================================
// Test: Rebalance Rewards and Epoch Budget
// ============================================================================

// rebalancePool starts with chain 1 underfunded relative to chain 2, so
// swaps from 1 to 2 improve the balance and earn rewards.
func rebalancePool(t *testing.T, limit uint64) *core.SettlementCore {
	return twoChainPool(t, 100, 900, limit)
}

func TestReward_PartialGrantAtEpochLimit(t *testing.T) {
	c := rebalancePool(t, 10)
	mustProcess(t, c, mustSwap(1, 2, 2, alice, 60, 50, 0))

	rec := mustApply(t, c, mustSettle(1, 2, 2000))

	// rate = 10000 * (160*850 - 900*100) / (900*100)
	expectEq(t, "rate", rec.Reward.RewardRate, 5111)
	// reward = 10 + 10*5111/10000
	expectEq(t, "calculated", rec.Reward.Calculated, 15)
	expectEq(t, "granted", rec.Reward.Granted, 10)
	forfeited := rec.Reward.Forfeited()
	expectEq(t, "forfeited", *forfeited, 5)
	expectEq(t, "balance", c.RebalanceReward(alice), 10)
	expectEq(t, "epoch amount", c.EpochState().CurrentEpochAmount, 10)
}

func TestReward_EpochRollover(t *testing.T) {
	c := rebalancePool(t, 10)
	mustProcess(t, c,
		mustSwap(1, 2, 2, alice, 60, 50, 0),
		mustSettle(1, 2, 2000),
		mustSwap(1, 3, 2, alice, 60, 50, 0),
		mustSwap(1, 4, 2, alice, 60, 50, 0),
	)

	// budget already spent in epoch 0
	rec := mustApply(t, c, mustSettle(1, 3, 3000))
	expectEq(t, "rate", rec.Reward.RewardRate, 2941)
	expectEq(t, "calculated", rec.Reward.Calculated, 12)
	expectEq(t, "granted in spent epoch", rec.Reward.Granted, 0)

	// epoch 1 opens at 1000 + 3600
	rec = mustApply(t, c, mustSettle(1, 4, 4601))
	if rec.Reward.EpochNumber != 1 {
		t.Errorf("expected epoch 1, got %d", rec.Reward.EpochNumber)
	}
	expectEq(t, "rate", rec.Reward.RewardRate, 1931)
	expectEq(t, "calculated", rec.Reward.Calculated, 11)
	expectEq(t, "granted", rec.Reward.Granted, 10)
	expectEq(t, "balance", c.RebalanceReward(alice), 20)
	checkConservation(t, c)
}

func TestReward_ThresholdGate(t *testing.T) {
	c := rebalancePool(t, 1_000_000)
	mustProcess(t, c,
		event.NewRewardThresholdSet(6000, at(1500)),
		mustSwap(1, 2, 2, alice, 60, 50, 0),
	)

	rec := mustApply(t, c, mustSettle(1, 2, 2000))
	expectEq(t, "rate", rec.Reward.RewardRate, 5111)
	expectEq(t, "calculated below threshold", rec.Reward.Calculated, 0)
	expectEq(t, "balance", c.RebalanceReward(alice), 0)
}

func TestReward_ClaimZeroesBalance(t *testing.T) {
	c := rebalancePool(t, 10)
	mustProcess(t, c,
		mustSwap(1, 2, 2, alice, 60, 50, 0),
		mustSettle(1, 2, 2000),
	)

	rec := mustApply(t, c, mustClaim(1, 10, alice))
	expectEq(t, "claimed", rec.Amount, 10)
	expectEq(t, "balance", c.RebalanceReward(alice), 0)

	// a claim with nothing accrued is accepted and pays nothing
	rec = mustApply(t, c, mustClaim(1, 11, alice))
	expectEq(t, "claimed", rec.Amount, 0)

	if err := c.ProcessEvent(mustClaim(1, 12, state.AccountID{})); !errors.Is(err, core.ErrZeroAccount) {
		t.Fatalf("expected ErrZeroAccount, got %v", err)
	}
}

// ============================================================================
// Test: Conservation under random operation sequences
// ============================================================================

func TestConservation_RandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	c, _, _ := newTestCore()
	mustProcess(t, c,
		event.NewEpochConfigSet(u(600), u(50), at(1000)),
		setFee(1), setFee(2), setFee(3),
	)

	type pending struct {
		chain uint32
		nonce uint64
	}
	var open []pending
	nonce := uint64(100)
	now := int64(1001)
	accounts := []state.AccountID{account(1), account(2), account(3)}

	for i := 0; i < 500; i++ {
		nonce++
		chain := uint32(rng.Intn(3) + 1)
		acct := accounts[rng.Intn(len(accounts))]

		var evt event.Event
		switch op := rng.Intn(7); {
		case op == 0 || op == 1:
			evt = mustDeposit(chain, nonce, acct, uint64(rng.Intn(10_000)+1))
		case op == 2:
			evt = mustWithdraw(chain, nonce, acct, uint64(rng.Intn(2_000)+1))
		case op == 3:
			to := uint32(rng.Intn(3) + 1)
			out := uint64(rng.Intn(1_000))
			in := out + uint64(rng.Intn(100))
			gas := uint64(0)
			if in > out {
				gas = uint64(rng.Int63n(int64(in - out)))
			}
			evt = mustSwap(chain, nonce, to, acct, in+1, out, gas)
			open = append(open, pending{chain, nonce})
		case len(open) > 0:
			idx := rng.Intn(len(open))
			p := open[idx]
			open = append(open[:idx], open[idx+1:]...)
			now += int64(rng.Intn(300))
			switch op {
			case 4:
				evt = mustSettle(p.chain, p.nonce, now)
			case 5:
				evt = mustInvalidate(p.chain, p.nonce, uint64(rng.Intn(50)))
			default:
				evt = mustTimeout(p.chain, p.nonce)
			}
		default:
			continue
		}

		// rejections are expected; the invariants must hold either way
		_ = c.ProcessEvent(evt)
		checkConservation(t, c)

		ep := c.EpochState()
		if ep.CurrentEpochAmount.Gt(&ep.LimitPerEpoch) {
			t.Fatalf("step %d: epoch amount %s exceeds limit %s", i, ep.CurrentEpochAmount.Dec(), ep.LimitPerEpoch.Dec())
		}
	}

	// nothing is claimed, so balances hold at least the current epoch's spend
	var rewards uint256.Int
	for _, a := range accounts {
		r := c.RebalanceReward(a)
		rewards.Add(&rewards, &r)
	}
	if spent := c.EpochState().CurrentEpochAmount; rewards.Lt(&spent) {
		t.Errorf("reward balances %s below epoch spend %s", rewards.Dec(), spent.Dec())
	}
}
