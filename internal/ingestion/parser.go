package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"YPoolLedger/internal/event"
	"YPoolLedger/internal/state"

	"github.com/holiman/uint256"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a typed event.Event.
// The shell validates, parses, and converts raw events before sending them to the core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	return DecodeEvent(eventType, raw.Data)
}

// DecodeEvent parses a wire payload for the named event type. It is also used
// to rebuild events from the event log during replay.
func DecodeEvent(eventType string, data []byte) (event.Event, error) {
	switch eventType {
	case "Deposit":
		return parseDeposit(data)
	case "Withdraw":
		return parseWithdraw(data)
	case "SwapInitiated":
		return parseSwapInitiated(data)
	case "SwapSettled":
		return parseSwapSettled(data)
	case "SwapInvalidated":
		return parseSwapInvalidated(data)
	case "SwapTimedOut":
		return parseSwapTimedOut(data)
	case "RewardClaimed":
		return parseRewardClaimed(data)
	case "FeeStructureSet":
		return parseFeeStructureSet(data)
	case "RewardThresholdSet":
		return parseRewardThresholdSet(data)
	case "EpochConfigSet":
		return parseEpochConfigSet(data)
	case "ChainWeightSet":
		return parseChainWeightSet(data)
	case "ChainPCVCorrected":
		return parseChainPCVCorrected(data)
	case "TotalSharesCorrected":
		return parseTotalSharesCorrected(data)
	case "RewardDecimalsSet":
		return parseRewardDecimalsSet(data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS and stored in
// the event log. Field names use snake_case to match upstream relayers.
// 256-bit quantities travel as decimal strings ("0x" hex is also accepted).

type depositJSON struct {
	ChainID     uint32 `json:"chain_id"`
	Nonce       string `json:"nonce"`
	Account     string `json:"account"`
	Amount      string `json:"amount"`
	TimestampUs int64  `json:"timestamp_us"`
}

type withdrawJSON struct {
	ChainID     uint32 `json:"chain_id"`
	Nonce       string `json:"nonce"`
	Account     string `json:"account"`
	ShareAmount string `json:"share_amount"`
	TimestampUs int64  `json:"timestamp_us"`
}

type swapInitiatedJSON struct {
	FromChainID uint32 `json:"from_chain_id"`
	Nonce       string `json:"nonce"`
	ToChainID   uint32 `json:"to_chain_id"`
	Account     string `json:"account"`
	AmountIn    string `json:"amount_in"`
	AmountOut   string `json:"amount_out"`
	GasFee      string `json:"gas_fee"`
	TimestampUs int64  `json:"timestamp_us"`
}

type swapSettledJSON struct {
	FromChainID   uint32 `json:"from_chain_id"`
	Nonce         string `json:"nonce"`
	TokenUSDValue string `json:"token_usd_value"`
	TimestampUs   int64  `json:"timestamp_us"`
}

type swapInvalidatedJSON struct {
	FromChainID     uint32 `json:"from_chain_id"`
	Nonce           string `json:"nonce"`
	ActualAmountOut string `json:"actual_amount_out"`
	TimestampUs     int64  `json:"timestamp_us"`
}

type swapTimedOutJSON struct {
	FromChainID uint32 `json:"from_chain_id"`
	Nonce       string `json:"nonce"`
	TimestampUs int64  `json:"timestamp_us"`
}

type rewardClaimedJSON struct {
	ChainID     uint32 `json:"chain_id"`
	Nonce       string `json:"nonce"`
	Account     string `json:"account"`
	TimestampUs int64  `json:"timestamp_us"`
}

type feeStructureSetJSON struct {
	ChainID     uint32 `json:"chain_id"`
	Min         string `json:"min"`
	Max         string `json:"max"`
	Rate        string `json:"rate"`
	Decimals    uint8  `json:"decimals"`
	TimestampUs int64  `json:"timestamp_us"`
}

type rewardThresholdSetJSON struct {
	Threshold   uint64 `json:"threshold"`
	TimestampUs int64  `json:"timestamp_us"`
}

type epochConfigSetJSON struct {
	Period        string `json:"period"`
	LimitPerEpoch string `json:"limit_per_epoch"`
	TimestampUs   int64  `json:"timestamp_us"`
}

type chainWeightSetJSON struct {
	ChainID     uint32 `json:"chain_id"`
	Weight      uint8  `json:"weight"`
	TimestampUs int64  `json:"timestamp_us"`
}

type chainPCVCorrectedJSON struct {
	ChainID     uint32 `json:"chain_id"`
	PCV         string `json:"pcv"`
	TimestampUs int64  `json:"timestamp_us"`
}

type totalSharesCorrectedJSON struct {
	TotalShares string `json:"total_shares"`
	TimestampUs int64  `json:"timestamp_us"`
}

type rewardDecimalsSetJSON struct {
	Decimals    uint8 `json:"decimals"`
	TimestampUs int64 `json:"timestamp_us"`
}

// --- field helpers ---

func parseUint256(field, s string) (uint256.Int, error) {
	var v uint256.Int
	if s == "" {
		return v, fmt.Errorf("parse %s: missing", field)
	}
	var err error
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		err = v.SetFromHex(s)
	} else {
		err = v.SetFromDecimal(s)
	}
	if err != nil {
		return v, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return v, nil
}

func parseTimestamp(us int64) (time.Time, error) {
	if us < 0 {
		return time.Time{}, fmt.Errorf("parse timestamp_us: negative value %d", us)
	}
	return time.UnixMicro(us).UTC(), nil
}

func parseOrigin(chainID uint32, nonce string) (event.Origin, error) {
	n, err := parseUint256("nonce", nonce)
	if err != nil {
		return event.Origin{}, err
	}
	return event.Origin{ChainID: chainID, Nonce: n}, nil
}

func parseAccount(s string) (state.AccountID, error) {
	if s == "" {
		return state.AccountID{}, fmt.Errorf("parse account: missing")
	}
	return state.ParseAccountID(s)
}

// --- parsers ---

func parseDeposit(data []byte) (*event.Deposit, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Deposit: %w", err)
	}
	origin, err := parseOrigin(j.ChainID, j.Nonce)
	if err != nil {
		return nil, err
	}
	account, err := parseAccount(j.Account)
	if err != nil {
		return nil, err
	}
	amount, err := parseUint256("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	ts, err := parseTimestamp(j.TimestampUs)
	if err != nil {
		return nil, err
	}
	return &event.Deposit{Origin: origin, Account: account, Amount: amount, Timestamp: ts}, nil
}

func parseWithdraw(data []byte) (*event.Withdraw, error) {
	var j withdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Withdraw: %w", err)
	}
	origin, err := parseOrigin(j.ChainID, j.Nonce)
	if err != nil {
		return nil, err
	}
	account, err := parseAccount(j.Account)
	if err != nil {
		return nil, err
	}
	shares, err := parseUint256("share_amount", j.ShareAmount)
	if err != nil {
		return nil, err
	}
	ts, err := parseTimestamp(j.TimestampUs)
	if err != nil {
		return nil, err
	}
	return &event.Withdraw{Origin: origin, Account: account, ShareAmount: shares, Timestamp: ts}, nil
}

func parseSwapInitiated(data []byte) (*event.SwapInitiated, error) {
	var j swapInitiatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SwapInitiated: %w", err)
	}
	origin, err := parseOrigin(j.FromChainID, j.Nonce)
	if err != nil {
		return nil, err
	}
	account, err := parseAccount(j.Account)
	if err != nil {
		return nil, err
	}
	amountIn, err := parseUint256("amount_in", j.AmountIn)
	if err != nil {
		return nil, err
	}
	amountOut, err := parseUint256("amount_out", j.AmountOut)
	if err != nil {
		return nil, err
	}
	// A swap without relayer gas is legal; an absent field means zero.
	var gasFee uint256.Int
	if j.GasFee != "" {
		if gasFee, err = parseUint256("gas_fee", j.GasFee); err != nil {
			return nil, err
		}
	}
	ts, err := parseTimestamp(j.TimestampUs)
	if err != nil {
		return nil, err
	}
	return &event.SwapInitiated{
		Origin:    origin,
		ToChainID: j.ToChainID,
		Account:   account,
		AmountIn:  amountIn,
		AmountOut: amountOut,
		GasFee:    gasFee,
		Timestamp: ts,
	}, nil
}

func parseSwapSettled(data []byte) (*event.SwapSettled, error) {
	var j swapSettledJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SwapSettled: %w", err)
	}
	origin, err := parseOrigin(j.FromChainID, j.Nonce)
	if err != nil {
		return nil, err
	}
	value, err := parseUint256("token_usd_value", j.TokenUSDValue)
	if err != nil {
		return nil, err
	}
	ts, err := parseTimestamp(j.TimestampUs)
	if err != nil {
		return nil, err
	}
	return &event.SwapSettled{Origin: origin, TokenUSDValue: value, Timestamp: ts}, nil
}

func parseSwapInvalidated(data []byte) (*event.SwapInvalidated, error) {
	var j swapInvalidatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SwapInvalidated: %w", err)
	}
	origin, err := parseOrigin(j.FromChainID, j.Nonce)
	if err != nil {
		return nil, err
	}
	actual, err := parseUint256("actual_amount_out", j.ActualAmountOut)
	if err != nil {
		return nil, err
	}
	ts, err := parseTimestamp(j.TimestampUs)
	if err != nil {
		return nil, err
	}
	return &event.SwapInvalidated{Origin: origin, ActualAmountOut: actual, Timestamp: ts}, nil
}

func parseSwapTimedOut(data []byte) (*event.SwapTimedOut, error) {
	var j swapTimedOutJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SwapTimedOut: %w", err)
	}
	origin, err := parseOrigin(j.FromChainID, j.Nonce)
	if err != nil {
		return nil, err
	}
	ts, err := parseTimestamp(j.TimestampUs)
	if err != nil {
		return nil, err
	}
	return &event.SwapTimedOut{Origin: origin, Timestamp: ts}, nil
}

func parseRewardClaimed(data []byte) (*event.RewardClaimed, error) {
	var j rewardClaimedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RewardClaimed: %w", err)
	}
	origin, err := parseOrigin(j.ChainID, j.Nonce)
	if err != nil {
		return nil, err
	}
	account, err := parseAccount(j.Account)
	if err != nil {
		return nil, err
	}
	ts, err := parseTimestamp(j.TimestampUs)
	if err != nil {
		return nil, err
	}
	return &event.RewardClaimed{Origin: origin, Account: account, Timestamp: ts}, nil
}

func parseFeeStructureSet(data []byte) (*event.FeeStructureSet, error) {
	var j feeStructureSetJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FeeStructureSet: %w", err)
	}
	minFee, err := parseUint256("min", j.Min)
	if err != nil {
		return nil, err
	}
	maxFee, err := parseUint256("max", j.Max)
	if err != nil {
		return nil, err
	}
	rate, err := parseUint256("rate", j.Rate)
	if err != nil {
		return nil, err
	}
	ts, err := parseTimestamp(j.TimestampUs)
	if err != nil {
		return nil, err
	}
	return event.NewFeeStructureSet(j.ChainID, &minFee, &maxFee, &rate, j.Decimals, ts), nil
}

func parseRewardThresholdSet(data []byte) (*event.RewardThresholdSet, error) {
	var j rewardThresholdSetJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RewardThresholdSet: %w", err)
	}
	ts, err := parseTimestamp(j.TimestampUs)
	if err != nil {
		return nil, err
	}
	return event.NewRewardThresholdSet(j.Threshold, ts), nil
}

func parseEpochConfigSet(data []byte) (*event.EpochConfigSet, error) {
	var j epochConfigSetJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse EpochConfigSet: %w", err)
	}
	period, err := parseUint256("period", j.Period)
	if err != nil {
		return nil, err
	}
	limit, err := parseUint256("limit_per_epoch", j.LimitPerEpoch)
	if err != nil {
		return nil, err
	}
	ts, err := parseTimestamp(j.TimestampUs)
	if err != nil {
		return nil, err
	}
	return event.NewEpochConfigSet(&period, &limit, ts), nil
}

func parseChainWeightSet(data []byte) (*event.ChainWeightSet, error) {
	var j chainWeightSetJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ChainWeightSet: %w", err)
	}
	ts, err := parseTimestamp(j.TimestampUs)
	if err != nil {
		return nil, err
	}
	return event.NewChainWeightSet(j.ChainID, j.Weight, ts), nil
}

func parseChainPCVCorrected(data []byte) (*event.ChainPCVCorrected, error) {
	var j chainPCVCorrectedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ChainPCVCorrected: %w", err)
	}
	pcv, err := parseUint256("pcv", j.PCV)
	if err != nil {
		return nil, err
	}
	ts, err := parseTimestamp(j.TimestampUs)
	if err != nil {
		return nil, err
	}
	return event.NewChainPCVCorrected(j.ChainID, &pcv, ts), nil
}

func parseTotalSharesCorrected(data []byte) (*event.TotalSharesCorrected, error) {
	var j totalSharesCorrectedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TotalSharesCorrected: %w", err)
	}
	shares, err := parseUint256("total_shares", j.TotalShares)
	if err != nil {
		return nil, err
	}
	ts, err := parseTimestamp(j.TimestampUs)
	if err != nil {
		return nil, err
	}
	return event.NewTotalSharesCorrected(&shares, ts), nil
}

func parseRewardDecimalsSet(data []byte) (*event.RewardDecimalsSet, error) {
	var j rewardDecimalsSetJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RewardDecimalsSet: %w", err)
	}
	ts, err := parseTimestamp(j.TimestampUs)
	if err != nil {
		return nil, err
	}
	return event.NewRewardDecimalsSet(j.Decimals, ts), nil
}

// --- encoding ---

// EncodeEvent renders an event in the wire format accepted by DecodeEvent.
// The persistence bridge stores this as the event-log payload.
func EncodeEvent(evt event.Event) ([]byte, error) {
	var v any
	switch e := evt.(type) {
	case *event.Deposit:
		v = depositJSON{
			ChainID:     e.ChainID,
			Nonce:       e.Nonce.Dec(),
			Account:     e.Account.String(),
			Amount:      e.Amount.Dec(),
			TimestampUs: e.Timestamp.UnixMicro(),
		}
	case *event.Withdraw:
		v = withdrawJSON{
			ChainID:     e.ChainID,
			Nonce:       e.Nonce.Dec(),
			Account:     e.Account.String(),
			ShareAmount: e.ShareAmount.Dec(),
			TimestampUs: e.Timestamp.UnixMicro(),
		}
	case *event.SwapInitiated:
		v = swapInitiatedJSON{
			FromChainID: e.ChainID,
			Nonce:       e.Nonce.Dec(),
			ToChainID:   e.ToChainID,
			Account:     e.Account.String(),
			AmountIn:    e.AmountIn.Dec(),
			AmountOut:   e.AmountOut.Dec(),
			GasFee:      e.GasFee.Dec(),
			TimestampUs: e.Timestamp.UnixMicro(),
		}
	case *event.SwapSettled:
		v = swapSettledJSON{
			FromChainID:   e.ChainID,
			Nonce:         e.Nonce.Dec(),
			TokenUSDValue: e.TokenUSDValue.Dec(),
			TimestampUs:   e.Timestamp.UnixMicro(),
		}
	case *event.SwapInvalidated:
		v = swapInvalidatedJSON{
			FromChainID:     e.ChainID,
			Nonce:           e.Nonce.Dec(),
			ActualAmountOut: e.ActualAmountOut.Dec(),
			TimestampUs:     e.Timestamp.UnixMicro(),
		}
	case *event.SwapTimedOut:
		v = swapTimedOutJSON{
			FromChainID: e.ChainID,
			Nonce:       e.Nonce.Dec(),
			TimestampUs: e.Timestamp.UnixMicro(),
		}
	case *event.RewardClaimed:
		v = rewardClaimedJSON{
			ChainID:     e.ChainID,
			Nonce:       e.Nonce.Dec(),
			Account:     e.Account.String(),
			TimestampUs: e.Timestamp.UnixMicro(),
		}
	case *event.FeeStructureSet:
		v = feeStructureSetJSON{
			ChainID:     e.ChainID,
			Min:         e.Min.Dec(),
			Max:         e.Max.Dec(),
			Rate:        e.Rate.Dec(),
			Decimals:    e.Decimals,
			TimestampUs: e.Timestamp.UnixMicro(),
		}
	case *event.RewardThresholdSet:
		v = rewardThresholdSetJSON{Threshold: e.Threshold, TimestampUs: e.Timestamp.UnixMicro()}
	case *event.EpochConfigSet:
		v = epochConfigSetJSON{
			Period:        e.Period.Dec(),
			LimitPerEpoch: e.LimitPerEpoch.Dec(),
			TimestampUs:   e.Timestamp.UnixMicro(),
		}
	case *event.ChainWeightSet:
		v = chainWeightSetJSON{ChainID: e.ChainID, Weight: e.Weight, TimestampUs: e.Timestamp.UnixMicro()}
	case *event.ChainPCVCorrected:
		v = chainPCVCorrectedJSON{ChainID: e.ChainID, PCV: e.PCV.Dec(), TimestampUs: e.Timestamp.UnixMicro()}
	case *event.TotalSharesCorrected:
		v = totalSharesCorrectedJSON{TotalShares: e.TotalShares.Dec(), TimestampUs: e.Timestamp.UnixMicro()}
	case *event.RewardDecimalsSet:
		v = rewardDecimalsSetJSON{Decimals: e.Decimals, TimestampUs: e.Timestamp.UnixMicro()}
	default:
		return nil, fmt.Errorf("encode event: unsupported type %T", evt)
	}
	return json.Marshal(v)
}
