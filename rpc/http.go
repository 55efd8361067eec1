package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"gavel/core/events"
	"gavel/core/state"
	"gavel/native/auction"
	nativecommon "gavel/native/common"
	"gavel/native/dispute"
	"gavel/native/escrow"
	"gavel/native/reputation"
	"gavel/native/workorder"
	"gavel/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeNotFound       = -32004
	codePaused         = -32030
	codeQuotaExceeded  = -32031
)

// Services bundles everything the RPC surface needs. All fields except the
// logger are required.
type Services struct {
	WorkOrders *workorder.Engine
	Escrows    *escrow.Engine
	Auctions   *auction.Engine
	Disputes   *dispute.Engine
	Reputation *reputation.Engine
	State      *state.Manager
	Events     *events.Log
	Logger     *slog.Logger
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

// Server exposes the settlement engines over JSON-RPC. Mutating methods can
// be gated behind a bearer token; reads are always open.
type Server struct {
	svc       Services
	authToken string
	logger    *slog.Logger
	methods   map[string]handlerFunc
	mutating  map[string]bool
}

func NewServer(svc Services) *Server {
	logger := svc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:       svc,
		authToken: strings.TrimSpace(os.Getenv("GAVEL_RPC_TOKEN")),
		logger:    logger,
	}
	s.methods = map[string]handlerFunc{
		"workorder_create":   s.handleWorkOrderCreate,
		"workorder_amend":    s.handleWorkOrderAmend,
		"workorder_assign":   s.handleWorkOrderAssign,
		"workorder_start":    s.handleWorkOrderStart,
		"workorder_submit":   s.handleWorkOrderSubmit,
		"workorder_cancel":   s.handleWorkOrderCancel,
		"workorder_get":      s.handleWorkOrderGet,
		"workorder_list":     s.handleWorkOrderList,
		"escrow_create":      s.handleEscrowCreate,
		"escrow_fund":        s.handleEscrowFund,
		"escrow_submit":      s.handleEscrowSubmitMilestone,
		"escrow_approve":     s.handleEscrowApproveMilestone,
		"escrow_reject":      s.handleEscrowRejectMilestone,
		"escrow_cancel":      s.handleEscrowCancel,
		"escrow_touch":       s.handleEscrowTouch,
		"escrow_get":         s.handleEscrowGet,
		"escrow_list":        s.handleEscrowList,
		"auction_create":     s.handleAuctionCreate,
		"auction_bid":        s.handleAuctionBid,
		"auction_commit":     s.handleAuctionCommit,
		"auction_reveal":     s.handleAuctionReveal,
		"auction_close":      s.handleAuctionClose,
		"auction_cancel":     s.handleAuctionCancel,
		"auction_touch":      s.handleAuctionTouch,
		"auction_get":        s.handleAuctionGet,
		"auction_list":       s.handleAuctionList,
		"dispute_open":       s.handleDisputeOpen,
		"dispute_respond":    s.handleDisputeRespond,
		"dispute_propose":    s.handleDisputePropose,
		"dispute_resolve":    s.handleDisputeResolve,
		"dispute_tryTimeout": s.handleDisputeTryTimeout,
		"dispute_get":        s.handleDisputeGet,
		"dispute_list":       s.handleDisputeList,
		"reputation_get":     s.handleReputationGet,
		"gavel_events":       s.handleEvents,
		"gavel_balance":      s.handleBalance,
	}
	s.mutating = map[string]bool{
		"workorder_create": true, "workorder_amend": true, "workorder_assign": true,
		"workorder_start": true, "workorder_submit": true, "workorder_cancel": true,
		"escrow_create": true, "escrow_fund": true, "escrow_submit": true,
		"escrow_approve": true, "escrow_reject": true, "escrow_cancel": true,
		"escrow_touch":   true,
		"auction_create": true, "auction_bid": true, "auction_commit": true,
		"auction_reveal": true, "auction_close": true, "auction_cancel": true,
		"auction_touch": true,
		"dispute_open":  true, "dispute_respond": true, "dispute_propose": true,
		"dispute_resolve": true, "dispute_tryTimeout": true,
	}
	return s
}

// Handler returns the HTTP handler serving the RPC endpoint and the websocket
// event stream.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/events", s.handleEventStream)
	return mux
}

// Start serves the RPC surface until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON request", err.Error())
		return
	}
	handler, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
		return
	}
	if s.mutating[req.Method] {
		if rpcErr := s.requireAuth(r); rpcErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
			return
		}
	}
	started := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	handler(recorder, r, &req)
	failed := recorder.status >= http.StatusBadRequest
	observability.RPC().Observe(req.Method, failed, recorder.status, started)
	if failed {
		s.logger.Warn("rpc call failed", "method", req.Method, "status", recorder.status)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) || strings.TrimSpace(header[len(prefix):]) != s.authToken {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized"}
	}
	return nil
}

// writeEngineError maps engine sentinel errors to RPC error codes.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		writeError(w, http.StatusServiceUnavailable, id, codePaused, err.Error(), nil)
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded),
		errors.Is(err, nativecommon.ErrQuotaOutstandingExceeded):
		writeError(w, http.StatusTooManyRequests, id, codeQuotaExceeded, err.Error(), nil)
	case errors.Is(err, workorder.ErrNotFound),
		errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, auction.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, reputation.ErrNotFound):
		writeError(w, http.StatusNotFound, id, codeNotFound, err.Error(), nil)
	case errors.Is(err, escrow.ErrIntegrity):
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	default:
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	}
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) == 0 {
		return fmt.Errorf("params required")
	}
	return json.Unmarshal(req.Params[0], out)
}
