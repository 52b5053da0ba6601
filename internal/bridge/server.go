// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"

	"github.com/jeranaias/codepilot/internal/assistant"
	"github.com/jeranaias/codepilot/internal/logger"
)

// Pinger reports whether the model server is reachable.
type Pinger interface {
	CheckRunning(ctx context.Context) error
}

// Config configures a Server.
type Config struct {
	// Token must be presented by "auth"; empty accepts any token.
	Token string

	// NewAssistant builds the assistant for a new connection.
	NewAssistant func() *assistant.Assistant

	// Health, when set, is checked by /healthz.
	Health Pinger

	// Registerer and Gatherer back the bridge metrics and /metrics. Nil
	// disables both.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	// InsecureSkipVerify disables the WebSocket origin check.
	InsecureSkipVerify bool

	Logger *zap.Logger
}

// Server serves the bridge endpoints.
type Server struct {
	cfg     Config
	log     *zap.Logger
	metrics *metrics

	mu    sync.Mutex
	conns map[string]*jsonrpc2.Conn
}

// NewServer creates a Server.
func NewServer(cfg Config) *Server {
	return &Server{
		cfg:     cfg,
		log:     logger.OrNop(cfg.Logger),
		metrics: newMetrics(cfg.Registerer),
		conns:   make(map[string]*jsonrpc2.Conn),
	}
}

// Handler returns the HTTP handler for /ws, /healthz and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. ready, when non-nil, receives the bound address.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if ready != nil {
		ready(ln.Addr())
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("bridge_listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.closeAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("bridge_stopped")
	return nil
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := make([]*jsonrpc2.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

type healthResult struct {
	Status      string `json:"status"`
	Ollama      string `json:"ollama,omitempty"`
	Connections int    `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	res := healthResult{Status: "ok", Connections: s.Connections()}
	code := http.StatusOK
	if s.cfg.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.cfg.Health.CheckRunning(ctx); err != nil {
			res.Status = "degraded"
			res.Ollama = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			res.Ollama = "up"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(res)
}

// =============================================================================
// WEBSOCKET CONNECTIONS
// =============================================================================

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	})
	if err != nil {
		s.log.Error("websocket_accept_failed", zap.Error(err))
		return
	}
	s.handleConnection(r.Context(), conn)
}

func (s *Server) handleConnection(ctx context.Context, wsConn *websocket.Conn) {
	connID := uuid.NewString()
	log := s.log.With(zap.String("conn_id", connID))
	log.Info("connection_opened")

	h := &rpcHandler{
		server:    s,
		assistant: s.cfg.NewAssistant(),
		log:       log,
	}

	rpcConn := jsonrpc2.NewConn(ctx, newWebSocketStream(wsConn), jsonrpc2.AsyncHandler(h))
	s.track(connID, rpcConn)

	<-rpcConn.DisconnectNotify()

	s.untrack(connID)
	stopped := h.assistant.Stop()
	log.Info("connection_closed", zap.Bool("aborted_request", stopped))
}

func (s *Server) track(id string, c *jsonrpc2.Conn) {
	s.mu.Lock()
	s.conns[id] = c
	s.mu.Unlock()
	s.metrics.connOpened()
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
	s.metrics.connClosed()
}

// webSocketStream adapts a WebSocket connection to jsonrpc2.ObjectStream.
type webSocketStream struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWebSocketStream(conn *websocket.Conn) *webSocketStream {
	return &webSocketStream{conn: conn}
}

func (s *webSocketStream) ReadObject(v any) error {
	_, data, err := s.conn.Read(context.Background())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *webSocketStream) WriteObject(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(context.Background(), websocket.MessageText, data)
}

func (s *webSocketStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

var _ jsonrpc2.ObjectStream = (*webSocketStream)(nil)
