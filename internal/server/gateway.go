package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxSubmitBody = 1 << 20

type route struct {
	method  string
	pattern string
	handle  func(ctx context.Context, r *http.Request, params map[string]string) (any, error)
}

// newGatewayMux maps REST paths onto the LedgerService handlers.
func newGatewayMux(svc LedgerServer) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []route{
		{http.MethodGet, "/v1/pool", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return svc.GetPool(ctx, &Empty{})
		}},
		{http.MethodGet, "/v1/chains", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return svc.ListChains(ctx, &Empty{})
		}},
		{http.MethodGet, "/v1/chains/{chain_id}", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			id, err := chainIDParam(p, "chain_id")
			if err != nil {
				return nil, err
			}
			return svc.GetChain(ctx, &GetChainRequest{ChainID: id})
		}},
		{http.MethodGet, "/v1/swaps/{from_chain_id}/{nonce}", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			id, err := chainIDParam(p, "from_chain_id")
			if err != nil {
				return nil, err
			}
			return svc.GetSwap(ctx, &GetSwapRequest{FromChainID: id, Nonce: p["nonce"]})
		}},
		{http.MethodGet, "/v1/epoch", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return svc.GetEpoch(ctx, &Empty{})
		}},
		{http.MethodGet, "/v1/accounts/{account}/reward", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
			return svc.GetReward(ctx, &AccountRequest{Account: p["account"]})
		}},
		{http.MethodGet, "/v1/accounts/{account}/reward-history", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
			req, err := accountRequest(r, p)
			if err != nil {
				return nil, err
			}
			return svc.GetRewardHistory(ctx, req)
		}},
		{http.MethodGet, "/v1/accounts/{account}/swaps", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
			req, err := accountRequest(r, p)
			if err != nil {
				return nil, err
			}
			return svc.ListAccountSwaps(ctx, req)
		}},
		{http.MethodGet, "/v1/accounts/{account}/records", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
			req, err := accountRequest(r, p)
			if err != nil {
				return nil, err
			}
			return svc.ListAccountRecords(ctx, req)
		}},
		{http.MethodPost, "/v1/events/{event_type}", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSubmitBody))
			if err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "read body: %v", err)
			}
			return svc.SubmitEvent(ctx, &SubmitEventRequest{EventType: p["event_type"], Payload: body})
		}},

		// Admin
		{http.MethodPost, "/v1/admin/snapshot", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return svc.TakeSnapshot(ctx, &Empty{})
		}},
		{http.MethodPost, "/v1/admin/projections/rebuild", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return svc.RebuildProjections(ctx, &Empty{})
		}},
		{http.MethodGet, "/v1/admin/event-log", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return svc.GetEventLogInfo(ctx, &Empty{})
		}},
		{http.MethodGet, "/v1/admin/integrity", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return svc.VerifyIntegrity(ctx, &Empty{})
		}},
	}

	for _, rt := range routes {
		handle := rt.handle
		if err := mux.HandlePath(rt.method, rt.pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			resp, err := handle(r.Context(), r, params)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		}); err != nil {
			return nil, fmt.Errorf("%s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

func chainIDParam(p map[string]string, name string) (uint32, error) {
	id, err := strconv.ParseUint(p[name], 10, 32)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "invalid %s: %q", name, p[name])
	}
	return uint32(id), nil
}

func accountRequest(r *http.Request, p map[string]string) (*AccountRequest, error) {
	req := &AccountRequest{Account: p["account"]}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid limit: %q", v)
		}
		req.Limit = n
	}
	if v := q.Get("before_sequence"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid before_sequence: %q", v)
		}
		req.BeforeSequence = &seq
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(toStatus(err))
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), map[string]any{
		"code":    st.Code().String(),
		"message": st.Message(),
	})
}
