// Package mgmt implements the management API: the JSON-RPC 2.0 control
// surface, the RS-delimited event stream, and the two static resources,
// all behind a slot-bounded HTTP/1.1 listener.
package mgmt

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"github.com/Logan007/n3n/internal/config"
	"github.com/Logan007/n3n/internal/corelog"
	"github.com/Logan007/n3n/internal/metrics"
	"github.com/Logan007/n3n/internal/peer"
	"github.com/Logan007/n3n/internal/registry"
	"github.com/Logan007/n3n/internal/session"
)

// Server is the management API. It holds only read references into the
// rest of the core plus a Broker for the event stream; it never mutates
// peer/community state directly except through the session/registry
// methods designed for cross-goroutine use (ReloadACL, etc).
type Server struct {
	Cfg      config.Core
	Reg      *registry.Registry
	Log      *corelog.StdLogger
	Counters *metrics.Counters
	Broker   *Broker
	Stop     context.CancelFunc

	PromGatherer prometheus.Gatherer

	SelfSocket netip.AddrPort
	SelfMAC    peer.MAC
	BuildDate  string
	StartedAt  time.Time
}

// ListenAndServe binds the management TCP listener, wraps it with
// netutil.LimitListener to bound concurrent connections at
// config.DefaultMgmtSlots, and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.Cfg.BindAddress, s.Cfg.MgmtPort))
	if err != nil {
		return err
	}
	bounded := netutil.LimitListener(ln, config.DefaultMgmtSlots)

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/script.js", s.handleScript)
	mux.HandleFunc("/v1", s.handleRPC)
	mux.HandleFunc("/events/", s.handleEvents)
	mux.Handle("/metrics", promhttp.HandlerFor(s.PromGatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{Handler: mux, IdleTimeout: config.DefaultMgmtIdleTimeout}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(bounded) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) authorized(password string) bool {
	return subtle.ConstantTimeCompare([]byte(password), []byte(s.Cfg.MgmtPassword)) == 1
}

// rpcRequest is a JSON-RPC 2.0 request; Password carries the management
// password out-of-band of the JSON-RPC 2.0 envelope proper, so mutating
// methods can require it without inventing a second auth header scheme.
type rpcRequest struct {
	JSONRPC  string          `json:"jsonrpc"`
	ID       json.RawMessage `json:"id,omitempty"`
	Method   string          `json:"method"`
	Params   json.RawMessage `json:"params,omitempty"`
	Password string          `json:"password,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, http.StatusBadRequest, -32700, "parse error")
		return
	}

	m, ok := methodTable[req.Method]
	if !ok {
		writeRPCError(w, req.ID, http.StatusOK, -32601, "method not found")
		return
	}
	if m.mutating && !s.authorized(req.Password) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	result, err := m.handle(s, req.Params)
	if err != nil {
		writeRPCError(w, req.ID, http.StatusOK, -32000, err.Error())
		return
	}
	writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, status, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// handleEvents serves GET /events/<topic>, upgrading the response into
// an RS (\x1e)-delimited JSON event stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Path[len("/events/"):]
	if topic == "" {
		http.NotFound(w, r)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, unsubscribe := s.Broker.Subscribe(topic)
	defer unsubscribe()

	w.Header().Set("Content-Type", "application/json-seq")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case data, open := <-ch:
			if !open {
				return
			}
			_, _ = w.Write([]byte{0x1e})
			_, _ = w.Write(data)
			_, _ = w.Write([]byte("\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	_, _ = w.Write([]byte(scriptJS))
}

// session is imported for this compile-time assertion that *Broker
// satisfies session.EventBus; kept as a typed reference so the package
// boundary between session and mgmt stays explicit.
var _ session.EventBus = (*Broker)(nil)
