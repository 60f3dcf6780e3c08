package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"YPoolLedger/internal/core"
	"YPoolLedger/internal/ingestion"
	"YPoolLedger/internal/ledger"
	"YPoolLedger/internal/persistence"
	"YPoolLedger/internal/projection"
	"YPoolLedger/internal/query"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "ypool.ledger.v1.LedgerService"

// ============================================================================
// Messages
// ============================================================================

type Empty struct{}

type GetChainRequest struct {
	ChainID uint32 `json:"chain_id"`
}

type GetSwapRequest struct {
	FromChainID uint32 `json:"from_chain_id"`
	Nonce       string `json:"nonce"`
}

type AccountRequest struct {
	Account        string `json:"account"`
	Limit          int    `json:"limit,omitempty"`
	BeforeSequence *int64 `json:"before_sequence,omitempty"`
}

type ListChainsResponse struct {
	Chains []query.ChainResponse `json:"chains"`
}

// SubmitEventRequest carries one event in its wire form. EventType is the
// event name, e.g. "SwapInitiated".
type SubmitEventRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type SubmitEventResponse struct {
	Record ledger.RecordJSON `json:"record"`
}

type TakeSnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

type RebuildProjectionsResponse struct {
	Completed bool `json:"completed"`
}

type EventLogInfoResponse struct {
	PersistedSequence int64  `json:"persisted_sequence"`
	AppliedSequence   int64  `json:"applied_sequence"`
	StateHash         string `json:"state_hash"`
	Uptime            string `json:"uptime"`
}

// LedgerServer is the gRPC surface of the ledger.
type LedgerServer interface {
	GetPool(context.Context, *Empty) (*query.PoolResponse, error)
	ListChains(context.Context, *Empty) (*ListChainsResponse, error)
	GetChain(context.Context, *GetChainRequest) (*query.ChainResponse, error)
	GetSwap(context.Context, *GetSwapRequest) (*query.SwapResponse, error)
	GetReward(context.Context, *AccountRequest) (*query.RewardResponse, error)
	GetRewardHistory(context.Context, *AccountRequest) (*query.RewardHistoryResponse, error)
	ListAccountSwaps(context.Context, *AccountRequest) (*query.AccountSwapsResponse, error)
	ListAccountRecords(context.Context, *AccountRequest) (*query.AccountRecordsResponse, error)
	GetEpoch(context.Context, *Empty) (*query.EpochResponse, error)
	SubmitEvent(context.Context, *SubmitEventRequest) (*SubmitEventResponse, error)

	// Admin
	TakeSnapshot(context.Context, *Empty) (*TakeSnapshotResponse, error)
	RebuildProjections(context.Context, *Empty) (*RebuildProjectionsResponse, error)
	GetEventLogInfo(context.Context, *Empty) (*EventLogInfoResponse, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
}

// ledgerServiceDesc is registered in place of protoc output; messages travel
// through the JSON codec.
var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetPool", LedgerServer.GetPool),
		unary("ListChains", LedgerServer.ListChains),
		unary("GetChain", LedgerServer.GetChain),
		unary("GetSwap", LedgerServer.GetSwap),
		unary("GetReward", LedgerServer.GetReward),
		unary("GetRewardHistory", LedgerServer.GetRewardHistory),
		unary("ListAccountSwaps", LedgerServer.ListAccountSwaps),
		unary("ListAccountRecords", LedgerServer.ListAccountRecords),
		unary("GetEpoch", LedgerServer.GetEpoch),
		unary("SubmitEvent", LedgerServer.SubmitEvent),
		unary("TakeSnapshot", LedgerServer.TakeSnapshot),
		unary("RebuildProjections", LedgerServer.RebuildProjections),
		unary("GetEventLogInfo", LedgerServer.GetEventLogInfo),
		unary("VerifyIntegrity", LedgerServer.VerifyIntegrity),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ypool/ledger/v1/ledger.json",
}

// RegisterLedgerServer registers srv on s.
func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&ledgerServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				resp, err := call(srv.(LedgerServer), ctx, req.(*Req))
				if err != nil {
					return nil, err
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ============================================================================
// LedgerService implementation
// ============================================================================

type ledgerService struct {
	db           *sql.DB
	qs           *query.QueryService
	ingest       *ingestion.GRPCIngestService
	snapMgr      *persistence.SnapshotManager
	history      *projection.RewardHistoryProjection
	takeSnapshot func(context.Context) (int64, error)
	startTime    time.Time
}

func newLedgerService(deps *ServerDeps) *ledgerService {
	return &ledgerService{
		db:           deps.DB,
		qs:           deps.QueryService,
		ingest:       deps.IngestService,
		snapMgr:      deps.SnapshotMgr,
		history:      deps.RewardHistory,
		takeSnapshot: deps.TakeSnapshot,
		startTime:    deps.StartTime,
	}
}

func (s *ledgerService) GetPool(ctx context.Context, _ *Empty) (*query.PoolResponse, error) {
	resp, err := s.qs.GetPool(ctx)
	return resp, toStatus(err)
}

func (s *ledgerService) ListChains(ctx context.Context, _ *Empty) (*ListChainsResponse, error) {
	chains, err := s.qs.ListChains(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListChainsResponse{Chains: chains}, nil
}

func (s *ledgerService) GetChain(ctx context.Context, req *GetChainRequest) (*query.ChainResponse, error) {
	resp, err := s.qs.GetChain(ctx, req.ChainID)
	return resp, toStatus(err)
}

func (s *ledgerService) GetSwap(ctx context.Context, req *GetSwapRequest) (*query.SwapResponse, error) {
	if req.Nonce == "" {
		return nil, status.Error(codes.InvalidArgument, "nonce is required")
	}
	resp, err := s.qs.GetSwap(ctx, req.FromChainID, req.Nonce)
	return resp, toStatus(err)
}

func (s *ledgerService) GetReward(ctx context.Context, req *AccountRequest) (*query.RewardResponse, error) {
	if req.Account == "" {
		return nil, status.Error(codes.InvalidArgument, "account is required")
	}
	resp, err := s.qs.GetReward(ctx, req.Account)
	return resp, toStatus(err)
}

func (s *ledgerService) GetRewardHistory(ctx context.Context, req *AccountRequest) (*query.RewardHistoryResponse, error) {
	if req.Account == "" {
		return nil, status.Error(codes.InvalidArgument, "account is required")
	}
	resp, err := s.qs.GetRewardHistory(ctx, req.Account, req.Limit)
	return resp, toStatus(err)
}

func (s *ledgerService) ListAccountSwaps(ctx context.Context, req *AccountRequest) (*query.AccountSwapsResponse, error) {
	if req.Account == "" {
		return nil, status.Error(codes.InvalidArgument, "account is required")
	}
	resp, err := s.qs.ListAccountSwaps(ctx, req.Account, req.Limit, req.BeforeSequence)
	return resp, toStatus(err)
}

func (s *ledgerService) ListAccountRecords(ctx context.Context, req *AccountRequest) (*query.AccountRecordsResponse, error) {
	if req.Account == "" {
		return nil, status.Error(codes.InvalidArgument, "account is required")
	}
	resp, err := s.qs.ListAccountRecords(ctx, req.Account, req.Limit, req.BeforeSequence)
	return resp, toStatus(err)
}

func (s *ledgerService) GetEpoch(ctx context.Context, _ *Empty) (*query.EpochResponse, error) {
	resp, err := s.qs.GetEpoch(ctx)
	return resp, toStatus(err)
}

func (s *ledgerService) SubmitEvent(ctx context.Context, req *SubmitEventRequest) (*SubmitEventResponse, error) {
	if req.EventType == "" {
		return nil, status.Error(codes.InvalidArgument, "event_type is required")
	}
	if s.ingest == nil {
		return nil, status.Error(codes.Unavailable, "ingestion disabled")
	}
	record, err := s.ingest.Submit(ctx, req.EventType, req.Payload)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SubmitEventResponse{Record: record.Wire()}, nil
}

func (s *ledgerService) TakeSnapshot(ctx context.Context, _ *Empty) (*TakeSnapshotResponse, error) {
	if s.takeSnapshot == nil {
		return nil, status.Error(codes.Unavailable, "snapshots disabled")
	}
	seq, err := s.takeSnapshot(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "snapshot: %v", err)
	}
	return &TakeSnapshotResponse{Sequence: seq}, nil
}

func (s *ledgerService) RebuildProjections(ctx context.Context, _ *Empty) (*RebuildProjectionsResponse, error) {
	if s.db == nil {
		return nil, status.Error(codes.Unavailable, "projection database not configured")
	}
	if err := projection.RebuildProjections(ctx, s.db, s.history); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &RebuildProjectionsResponse{Completed: true}, nil
}

func (s *ledgerService) GetEventLogInfo(ctx context.Context, _ *Empty) (*EventLogInfoResponse, error) {
	pool, err := s.qs.GetPool(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &EventLogInfoResponse{
		PersistedSequence: -1,
		AppliedSequence:   pool.AsOfSequence,
		StateHash:         pool.StateHash,
		Uptime:            time.Since(s.startTime).Truncate(time.Second).String(),
	}
	if s.snapMgr != nil {
		latestSeq, err := s.snapMgr.GetLatestSequence(ctx)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
		}
		resp.PersistedSequence = latestSeq
	}
	return resp, nil
}

func (s *ledgerService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	report, err := s.qs.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	return report, nil
}

// ============================================================================
// Helpers
// ============================================================================

// toStatus maps ledger and query errors onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Internal
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, query.ErrNotFound), errors.Is(err, core.ErrSwapNotFound):
		code = codes.NotFound
	case errors.Is(err, query.ErrInvalidArgument),
		errors.Is(err, ingestion.ErrMalformedEvent),
		errors.Is(err, core.ErrUnknownEvent):
		code = codes.InvalidArgument
	case errors.Is(err, core.ErrDuplicate), errors.Is(err, core.ErrSwapExists):
		code = codes.AlreadyExists
	case errors.Is(err, query.ErrNoDatabase), errors.Is(err, core.ErrIdempotencyUnavailable):
		code = codes.Unavailable
	case core.RejectReason(err) != "other":
		code = codes.FailedPrecondition
	}
	return status.Error(code, err.Error())
}
