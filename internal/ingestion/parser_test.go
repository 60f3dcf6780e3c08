package ingestion_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"YPoolLedger/internal/event"
	"YPoolLedger/internal/ingestion"
	"YPoolLedger/internal/ledger"
	"YPoolLedger/internal/state"

	"github.com/holiman/uint256"
)

const testAccount = "0x00000000000000000000000000000000000000000000000000000000000000a1"

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"chain_id":     uint32(137),
		"nonce":        "768",
		"account":      testAccount,
		"amount":       "115792089237316195423570985008687907853269984665640564039457584007913129639935",
		"timestamp_us": int64(1700000000000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "Deposit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	d, ok := evt.(*event.Deposit)
	if !ok {
		t.Fatalf("expected *event.Deposit, got %T", evt)
	}
	if d.ChainID != 137 {
		t.Errorf("chain: got %d, want 137", d.ChainID)
	}
	if d.Nonce.Uint64() != 768 {
		t.Errorf("nonce: got %s, want 768", d.Nonce.Dec())
	}
	var maxAmount uint256.Int
	maxAmount.SetAllOne()
	if !d.Amount.Eq(&maxAmount) {
		t.Errorf("amount: got %s, want 2^256-1", d.Amount.Dec())
	}
	if d.Account.String() != testAccount {
		t.Errorf("account: got %s", d.Account)
	}
	if !d.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("timestamp: got %v", d.Timestamp)
	}
	// Same key as the on-chain universal id for (137, 768)
	want := "0x4615d73a587d1eafde625c31e5a240861e81502f7e7e6cfb21305370fbf58830"
	if d.IdempotencyKey() != want {
		t.Errorf("idempotency key: got %s, want %s", d.IdempotencyKey(), want)
	}
}

func TestParseSwapInitiated_HexNonceAndDefaultGas(t *testing.T) {
	payload := map[string]interface{}{
		"from_chain_id": uint32(1),
		"nonce":         "0x1",
		"to_chain_id":   uint32(56),
		"account":       "a1",
		"amount_in":     "60",
		"amount_out":    "50",
		"timestamp_us":  int64(1000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "SwapInitiated")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	s := evt.(*event.SwapInitiated)
	if s.Nonce.Uint64() != 1 || s.ToChainID != 56 {
		t.Errorf("origin: got nonce=%s to=%d", s.Nonce.Dec(), s.ToChainID)
	}
	if s.AmountIn.Uint64() != 60 || s.AmountOut.Uint64() != 50 {
		t.Errorf("amounts: got in=%s out=%s", s.AmountIn.Dec(), s.AmountOut.Dec())
	}
	if !s.GasFee.IsZero() {
		t.Errorf("gas fee: got %s, want 0", s.GasFee.Dec())
	}
	// Short hex accounts are right-aligned like a bytes32
	if s.Account.String() != testAccount {
		t.Errorf("account: got %s", s.Account)
	}
	if s.IdempotencyClass() != event.ClassSwap {
		t.Errorf("class: got %q", s.IdempotencyClass())
	}
}

func TestParseSwapSettled(t *testing.T) {
	payload := map[string]interface{}{
		"from_chain_id":   uint32(1),
		"nonce":           "1",
		"token_usd_value": "1000000000000000000",
		"timestamp_us":    int64(2000000000),
	}

	evt, err := ingestion.DecodeEvent("SwapSettled", rawFromJSON(t, payload).Data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	s := evt.(*event.SwapSettled)
	if s.TokenUSDValue.Dec() != "1000000000000000000" {
		t.Errorf("token value: got %s", s.TokenUSDValue.Dec())
	}
	if s.Timestamp.Unix() != 2000 {
		t.Errorf("timestamp: got %d, want 2000", s.Timestamp.Unix())
	}
}

func TestParseFeeStructureSet(t *testing.T) {
	payload := map[string]interface{}{
		"chain_id":     uint32(10),
		"min":          "1",
		"max":          "100",
		"rate":         "1000",
		"decimals":     6,
		"timestamp_us": int64(0),
	}

	evt, err := ingestion.DecodeEvent("FeeStructureSet", rawFromJSON(t, payload).Data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	f := evt.(*event.FeeStructureSet)
	fee := f.FeeStructure()
	if !fee.IsSet || fee.Min.Uint64() != 1 || fee.Max.Uint64() != 100 || fee.Rate.Uint64() != 1000 || fee.Decimals != 6 {
		t.Errorf("fee structure: got %+v", fee)
	}
	if f.SourceChain() != 10 {
		t.Errorf("chain: got %d, want 10", f.SourceChain())
	}
	if f.IdempotencyKey() != "" {
		t.Errorf("admin events carry no key, got %q", f.IdempotencyKey())
	}
}

func TestParseEpochConfigSet(t *testing.T) {
	payload := map[string]interface{}{
		"period":          "3600",
		"limit_per_epoch": "20",
		"timestamp_us":    int64(1000000000),
	}

	evt, err := ingestion.DecodeEvent("EpochConfigSet", rawFromJSON(t, payload).Data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	e := evt.(*event.EpochConfigSet)
	if e.Period.Uint64() != 3600 || e.LimitPerEpoch.Uint64() != 20 {
		t.Errorf("epoch config: got period=%s limit=%s", e.Period.Dec(), e.LimitPerEpoch.Dec())
	}
}

func TestParseUnknownEventType_Fails(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{})
	_, err := ingestion.ParseRawEvent(raw, "NonExistent")
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte("not json")}
	_, err := ingestion.ParseRawEvent(raw, "Deposit")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidFields_Fail(t *testing.T) {
	base := func() map[string]interface{} {
		return map[string]interface{}{
			"chain_id":     uint32(1),
			"nonce":        "1",
			"account":      testAccount,
			"amount":       "100",
			"timestamp_us": int64(1),
		}
	}

	cases := []struct {
		name  string
		field string
		value interface{}
	}{
		{"missing amount", "amount", ""},
		{"negative amount", "amount", "-5"},
		{"amount above 2^256", "amount", "115792089237316195423570985008687907853269984665640564039457584007913129639936"},
		{"bad nonce", "nonce", "abc"},
		{"bad account", "account", "0xzz"},
		{"account too long", "account", "0x" + string(bytes.Repeat([]byte("ab"), 33))},
		{"negative timestamp", "timestamp_us", int64(-1)},
		{"chain id overflow", "chain_id", int64(1) << 33},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := base()
			payload[tc.field] = tc.value
			if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "Deposit"); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func TestEncodeDecode_PreservesEvents(t *testing.T) {
	ts := time.Unix(1700000000, 123000).UTC()
	account, err := state.ParseAccountID(testAccount)
	if err != nil {
		t.Fatal(err)
	}

	evts := []event.Event{
		&event.Deposit{Origin: event.Origin{ChainID: 1, Nonce: *uint256.NewInt(7)}, Account: account, Amount: *uint256.NewInt(1000), Timestamp: ts},
		&event.Withdraw{Origin: event.Origin{ChainID: 1, Nonce: *uint256.NewInt(8)}, Account: account, ShareAmount: *uint256.NewInt(500), Timestamp: ts},
		&event.SwapInitiated{Origin: event.Origin{ChainID: 1, Nonce: *uint256.NewInt(9)}, ToChainID: 2, Account: account,
			AmountIn: *uint256.NewInt(60), AmountOut: *uint256.NewInt(50), GasFee: *uint256.NewInt(3), Timestamp: ts},
		&event.SwapInvalidated{Origin: event.Origin{ChainID: 1, Nonce: *uint256.NewInt(9)}, ActualAmountOut: *uint256.NewInt(40), Timestamp: ts},
		&event.SwapTimedOut{Origin: event.Origin{ChainID: 1, Nonce: *uint256.NewInt(9)}, Timestamp: ts},
		&event.RewardClaimed{Origin: event.Origin{ChainID: 2, Nonce: *uint256.NewInt(1)}, Account: account, Timestamp: ts},
		event.NewRewardThresholdSet(25, ts),
		event.NewChainWeightSet(2, 40, ts),
		event.NewChainPCVCorrected(2, uint256.NewInt(900), ts),
		event.NewTotalSharesCorrected(uint256.NewInt(1000), ts),
		event.NewRewardDecimalsSet(6, ts),
	}

	for _, evt := range evts {
		data, err := ingestion.EncodeEvent(evt)
		if err != nil {
			t.Fatalf("encode %s: %v", evt.EventType(), err)
		}
		decoded, err := ingestion.DecodeEvent(evt.EventType().String(), data)
		if err != nil {
			t.Fatalf("decode %s: %v", evt.EventType(), err)
		}
		if decoded.EventType() != evt.EventType() {
			t.Fatalf("type: got %s, want %s", decoded.EventType(), evt.EventType())
		}
		if decoded.IdempotencyKey() != evt.IdempotencyKey() {
			t.Errorf("%s key: got %s, want %s", evt.EventType(), decoded.IdempotencyKey(), evt.IdempotencyKey())
		}
		if !decoded.EventTime().Equal(evt.EventTime()) {
			t.Errorf("%s time: got %v, want %v", evt.EventType(), decoded.EventTime(), evt.EventTime())
		}
		again, err := ingestion.EncodeEvent(decoded)
		if err != nil {
			t.Fatalf("re-encode %s: %v", evt.EventType(), err)
		}
		if !bytes.Equal(data, again) {
			t.Errorf("%s payload changed across decode:\n%s\n%s", evt.EventType(), data, again)
		}
	}
}

func TestSubjectResolver_LongestPrefix(t *testing.T) {
	r := ingestion.NewSubjectResolver(ingestion.DefaultSubjects())

	cases := map[string]string{
		"ypool.deposits.137":          "Deposit",
		"ypool.swaps.initiated.1":     "SwapInitiated",
		"ypool.swaps.settled.1":       "SwapSettled",
		"ypool.swaps.timedout.56":     "SwapTimedOut",
		"ypool.admin.threshold.pool":  "RewardThresholdSet",
		"ypool.admin.decimals.pool":   "RewardDecimalsSet",
		"ypool.unknown.1":             "",
		"ypool.swapsettled.1":         "",
		"ypool.ledger.records.settle": "",
	}
	for subject, want := range cases {
		if got := r.Resolve(subject); got != want {
			t.Errorf("Resolve(%q): got %q, want %q", subject, got, want)
		}
	}
}

func TestDefaultSubjects_CoverEveryEventType(t *testing.T) {
	seen := make(map[string]bool)
	for _, cfg := range ingestion.DefaultSubjects() {
		if _, ok := event.ParseEventType(cfg.EventType); !ok {
			t.Errorf("subject %s maps to unknown type %s", cfg.Subject, cfg.EventType)
		}
		seen[cfg.EventType] = true
	}
	for et := event.EventTypeDeposit; et <= event.EventTypeRewardDecimalsSet; et++ {
		if !seen[et.String()] {
			t.Errorf("no subject for %s", et)
		}
	}
}

// --- gRPC ingest ---

func TestGRPCIngest_SubmitWaitsForCore(t *testing.T) {
	subs := make(chan ingestion.Submission, 1)
	svc := ingestion.NewGRPCIngestService(subs)

	go func() {
		s := <-subs
		s.Done <- ingestion.SubmitResult{Record: &ledger.Record{Sequence: 42, Kind: ledger.RecordKindAdmin}}
	}()

	rec, err := svc.Submit(context.Background(), "RewardThresholdSet", []byte(`{"threshold":5,"timestamp_us":0}`))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.Sequence != 42 {
		t.Errorf("sequence: got %d, want 42", rec.Sequence)
	}
}

func TestGRPCIngest_MalformedPayloadNotEnqueued(t *testing.T) {
	subs := make(chan ingestion.Submission, 1)
	svc := ingestion.NewGRPCIngestService(subs)

	_, err := svc.Submit(context.Background(), "Deposit", []byte(`{"chain_id":1}`))
	if !errors.Is(err, ingestion.ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}
	if len(subs) != 0 {
		t.Fatal("malformed payload must not reach the core")
	}
}

func TestGRPCIngest_ContextCancelled(t *testing.T) {
	subs := make(chan ingestion.Submission) // nobody reads
	svc := ingestion.NewGRPCIngestService(subs)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := svc.SubmitEvent(ctx, event.NewRewardDecimalsSet(6, time.Unix(0, 0)))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
