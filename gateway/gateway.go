package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config wires the read-only REST gateway. Target is the base URL of the
// JSON-RPC endpoint the gateway translates queries against.
type Config struct {
	Target string
	Logger *slog.Logger
	CORS   CORSConfig
}

// Server translates REST style queries into JSON-RPC calls. It exposes no
// mutating routes; writes go through the RPC surface directly.
type Server struct {
	target string
	client *http.Client
	logger *slog.Logger
	obs    *Observability
	router chi.Router
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		target: cfg.Target,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
		obs:    NewObservability(logger),
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(CORS(cfg.CORS))
	r.Use(s.obs.Middleware("gateway"))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.obs.Registry(), promhttp.HandlerOpts{}))

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/workorders", s.listRoute("workorder_list", "party"))
		v1.Get("/workorders/{id}", s.getRoute("workorder_get"))
		v1.Get("/escrows", s.listRoute("escrow_list", "party"))
		v1.Get("/escrows/{id}", s.getRoute("escrow_get"))
		v1.Get("/auctions", s.listRoute("auction_list", "owner"))
		v1.Get("/auctions/{id}", s.getRoute("auction_get"))
		v1.Get("/disputes", s.listRoute("dispute_list", "party"))
		v1.Get("/disputes/{id}", s.getRoute("dispute_get"))
		v1.Get("/reputation/{subject}", s.reputationRoute())
		v1.Get("/balances/{address}/{token}", s.balanceRoute())
		v1.Get("/events", s.eventsRoute())
	})
	s.router = r
	return s
}

// Handler returns the gateway's HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves the gateway until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", addr)
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

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int         `json:"code"`
		Message string      `json:"message"`
		Data    interface{} `json:"data,omitempty"`
	} `json:"error"`
}

// forward issues the JSON-RPC call and relays the result or error payload.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, method string, params interface{}) {
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		body["params"] = []interface{}{params}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "encode request")
		return
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.target, bytes.NewReader(raw))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "build request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("rpc upstream unreachable", "method", method, "err", err)
		writeJSONError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "read upstream response")
		return
	}
	var envelope rpcEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		writeJSONError(w, http.StatusBadGateway, "decode upstream response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if envelope.Error != nil {
		status := resp.StatusCode
		if status < http.StatusBadRequest {
			status = http.StatusBadRequest
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": envelope.Error.Message,
			"code":  envelope.Error.Code,
		})
		return
	}
	_, _ = w.Write(envelope.Result)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) getRoute(method string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		s.forward(w, r, method, map[string]string{"id": id})
	}
}

// listRoute forwards an optional filter query parameter to the list method.
func (s *Server) listRoute(method, filterKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params interface{}
		if value := r.URL.Query().Get(filterKey); value != "" {
			params = map[string]string{filterKey: value}
		}
		s.forward(w, r, method, params)
	}
}

func (s *Server) reputationRoute() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := chi.URLParam(r, "subject")
		s.forward(w, r, "reputation_get", map[string]string{"subject": subject})
	}
}

func (s *Server) balanceRoute() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.forward(w, r, "gavel_balance", map[string]string{
			"address": chi.URLParam(r, "address"),
			"token":   chi.URLParam(r, "token"),
		})
	}
}

func (s *Server) eventsRoute() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var after uint64
		if cursor := r.URL.Query().Get("after"); cursor != "" {
			if _, err := fmt.Sscanf(cursor, "%d", &after); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid after cursor")
				return
			}
		}
		s.forward(w, r, "gavel_events", map[string]uint64{"after": after})
	}
}
