// Package httpserver exposes the observability surface of a running
// monitor: health and readiness probes, a live sample stream over
// WebSocket, and optional Prometheus and pprof endpoints.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/kvisser/memtrack"
	"github.com/kvisser/memtrack/internal/api"
	"github.com/kvisser/memtrack/internal/config"
	"github.com/kvisser/memtrack/internal/version"
)

const (
	readHeaderTimeout = 5 * time.Second
	wsSendQueueSize   = 16
)

// Server wraps the HTTP surface area of the application.
type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	monitor    *memtrack.Monitor

	maxWSClients int64
	wsActive     atomic.Int64
	wsTotal      atomic.Uint64
	wsRejected   atomic.Uint64
	wsSent       atomic.Uint64
	wsDropped    atomic.Uint64
	wsConnIDs    atomic.Uint64
	requestIDs   atomic.Uint64
}

// New assembles a Server with its handlers.
func New(cfg config.Config, logger *slog.Logger, monitor *memtrack.Monitor) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		monitor: monitor,
	}

	if cfg.WS.MaxClients > 0 {
		s.maxWSClients = int64(cfg.WS.MaxClients)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)

	if cfg.EnablePrometheus {
		s.registerPrometheus(mux)
	}
	if cfg.EnablePprof {
		registerPprof(mux)
	}

	handler := s.withRequestLogging(mux)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Start begins serving HTTP until shutdown is requested.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("listener stopped")
	return nil
}

// Shutdown attempts a graceful shutdown within the supplied context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := s.readiness()
	logger := s.loggerFromContext(r.Context())

	statusCode := http.StatusOK
	if info.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(info); err != nil {
		logger.Error("failed to encode readyz response", "err", err)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := version.Current()
	logger := s.loggerFromContext(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		logger.Error("failed to encode version response", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
}

type statusResponse struct {
	PID        int              `json:"pid"`
	Output     string           `json:"output"`
	IntervalMS int              `json:"interval_ms"`
	Stats      memtrack.Stats   `json:"stats"`
	Latest     *memtrack.Sample `json:"latest,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.monitor == nil {
		http.Error(w, "monitor unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := statusResponse{
		PID:        s.monitor.PID(),
		Output:     s.monitor.Path(),
		IntervalMS: int(s.monitor.Granularity() / time.Millisecond),
		Stats:      s.monitor.Stats(),
	}
	if sample, ok := s.monitor.Latest(); ok {
		resp.Latest = &sample
	}

	logger := s.loggerFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("failed to encode status response", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	reqLogger := s.loggerFromContext(r.Context())
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.monitor == nil {
		http.Error(w, "monitor unavailable", http.StatusServiceUnavailable)
		return
	}

	if !s.reserveWS() {
		reqLogger.Warn("websocket rejected", "reason", "capacity")
		http.Error(w, "websocket capacity reached", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseWS()

	opts := &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.AllowedOrigins),
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		reqLogger.Warn("websocket accept failed", "err", err)
		return
	}
	defer closeWebsocket(reqLogger, conn)

	connID := s.wsConnIDs.Add(1)
	s.wsTotal.Add(1)
	logger := reqLogger.With("ws_id", connID)

	outbound := newWSOutbound(wsSendQueueSize, &s.wsDropped)

	ctx, cancel := context.WithCancel(r.Context())

	writerDone := make(chan struct{})
	go s.wsWriter(ctx, conn, outbound, cancel, logger, writerDone)

	sampleCh, unsubscribe := s.monitor.Subscribe()

	defer func() {
		unsubscribe()
		outbound.close()
		cancel()
		<-writerDone
	}()

	hello := api.NewHelloMessage(
		int(s.monitor.Granularity()/time.Millisecond),
		s.monitor.PID(),
		s.monitor.Path(),
	)
	if !s.enqueueMessage(outbound, hello, logger) {
		return
	}

	messageCh := make(chan []byte, 8)
	readErrCh := make(chan error, 1)
	go s.readMessages(ctx, conn, messageCh, readErrCh)

	for {
		select {
		case sample, ok := <-sampleCh:
			if !ok {
				// Monitor closed; nothing more to stream.
				return
			}
			if !s.enqueueMessage(outbound, api.NewSampleMessage(sample), logger) {
				return
			}
		case data, ok := <-messageCh:
			if !ok {
				messageCh = nil
				continue
			}
			if !s.handleClientMessage(outbound, data, logger) {
				return
			}
		case err := <-readErrCh:
			if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				logger.Warn("websocket read error", "err", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) readMessages(ctx context.Context, conn *websocket.Conn, out chan<- []byte, errCh chan<- error) {
	defer close(out)
	for {
		readCtx := ctx
		var cancel context.CancelFunc
		if s.cfg.WS.ReadTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, s.cfg.WS.ReadTimeout)
		}
		msgType, data, err := conn.Read(readCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			errCh <- err
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		select {
		case out <- data:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleClientMessage(outbound *wsOutbound, data []byte, logger *slog.Logger) bool {
	var envelope api.ClientMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		logger.Debug("invalid client message", "err", err)
		return true
	}

	switch envelope.Type {
	case "ping":
		return s.enqueueMessage(outbound, api.PongMessage{Type: "pong"}, logger)
	case "stats":
		return s.enqueueMessage(outbound, api.NewStatsMessage(s.monitor.Stats()), logger)
	default:
		logger.Debug("unknown message type", "type", envelope.Type)
		return s.enqueueError(outbound, fmt.Sprintf("unknown message type %q", envelope.Type), logger)
	}
}

func (s *Server) wsWriter(ctx context.Context, conn *websocket.Conn, outbound *wsOutbound, cancel context.CancelFunc, logger *slog.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-outbound.channel():
			if !ok {
				return
			}
			if err := s.writeRaw(ctx, conn, msg); err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					logger.Warn("websocket write failed", "err", err)
				}
				cancel()
				return
			}
			s.wsSent.Add(1)
		}
	}
}

func (s *Server) writeRaw(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.WS.WriteTimeout > 0 {
		writeCtx, cancel = context.WithTimeout(ctx, s.cfg.WS.WriteTimeout)
	}
	if cancel != nil {
		defer cancel()
	}
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (s *Server) enqueueMessage(outbound *wsOutbound, payload any, logger *slog.Logger) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal websocket payload", "err", err)
		return false
	}
	if !outbound.enqueue(data) {
		logger.Warn("websocket outbound queue unavailable")
		return false
	}
	return true
}

func (s *Server) enqueueError(outbound *wsOutbound, msg string, logger *slog.Logger) bool {
	return s.enqueueMessage(outbound, api.ErrorMessage{Type: "error", Message: msg}, logger)
}

func (s *Server) reserveWS() bool {
	if s.maxWSClients <= 0 {
		s.wsActive.Add(1)
		return true
	}

	for {
		current := s.wsActive.Load()
		if current >= s.maxWSClients {
			s.wsRejected.Add(1)
			return false
		}
		if s.wsActive.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (s *Server) releaseWS() {
	s.wsActive.Add(-1)
}

func registerPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

func originPatterns(origins []string) []string {
	for _, origin := range origins {
		if origin == "*" {
			return nil
		}
	}
	dst := make([]string, len(origins))
	copy(dst, origins)
	return dst
}

func (s *Server) readiness() readyResponse {
	resp := readyResponse{}

	if s.monitor == nil {
		resp.Status = "degraded"
		resp.Reason = "monitor_not_configured"
		return resp
	}

	stats := s.monitor.Stats()
	resp.Samples = stats.SamplesTotal

	if _, ok := s.monitor.Latest(); ok {
		resp.Status = "ok"
		return resp
	}

	resp.Status = "initializing"
	resp.Reason = "waiting_for_samples"
	return resp
}

type readyResponse struct {
	Status  string `json:"status"`
	Samples uint64 `json:"samples"`
	Reason  string `json:"reason,omitempty"`
}

type wsOutbound struct {
	ch     chan []byte
	closed atomic.Bool
	drops  *atomic.Uint64
}

func newWSOutbound(size int, dropCounter *atomic.Uint64) *wsOutbound {
	if size <= 0 {
		size = 1
	}
	return &wsOutbound{
		ch:    make(chan []byte, size),
		drops: dropCounter,
	}
}

func (o *wsOutbound) enqueue(msg []byte) bool {
	if o.closed.Load() {
		o.countDrop()
		return false
	}

	select {
	case o.ch <- msg:
		return true
	default:
	}

	droppedOld := false
	select {
	case <-o.ch:
		droppedOld = true
	default:
	}
	if droppedOld {
		o.countDrop()
	}

	if o.closed.Load() {
		o.countDrop()
		return false
	}

	select {
	case o.ch <- msg:
		return true
	default:
		o.countDrop()
		return false
	}
}

func (o *wsOutbound) close() {
	if o.closed.CompareAndSwap(false, true) {
		close(o.ch)
	}
}

func (o *wsOutbound) channel() <-chan []byte {
	return o.ch
}

func (o *wsOutbound) countDrop() {
	if o.drops != nil {
		o.drops.Add(1)
	}
}
