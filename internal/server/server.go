// Package server exposes the exchange engine over HTTP: a Server-Sent Events
// chat endpoint, a WebSocket chat endpoint, the tool listing, persisted
// session history, health probes and Prometheus metrics.
//
//	srv := server.New(eng,
//	    server.WithTools(registry),
//	    server.WithHistory(store),
//	    server.WithMetrics(metrics),
//	)
//	http.ListenAndServe(":8080", srv.Handler())
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/toolweave/internal/engine"
	"github.com/MrWong99/toolweave/internal/health"
	"github.com/MrWong99/toolweave/internal/history"
	"github.com/MrWong99/toolweave/internal/observe"
	"github.com/MrWong99/toolweave/internal/stream"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// maxBodySize caps a chat request body.
const maxBodySize = 1 << 20

// SessionHeader carries the session ID of an SSE exchange.
const SessionHeader = "X-Session-ID"

// ToolLister provides the definitions served by GET /api/tools.
// *tool.Registry implements it.
type ToolLister interface {
	Definitions() []llm.ToolDefinition
}

// Server routes HTTP requests to the engine. It is safe for concurrent use.
type Server struct {
	ex             engine.Exchanger
	tools          ToolLister
	history        history.Store
	metrics        *observe.Metrics
	health         *health.Handler
	metricsHandler http.Handler

	streamOpts atomic.Pointer[stream.Options]
}

// Option configures a [Server].
type Option func(*Server)

// WithTools enables GET /api/tools.
func WithTools(t ToolLister) Option {
	return func(s *Server) { s.tools = t }
}

// WithHistory enables GET /api/sessions/{id}/messages.
func WithHistory(h history.Store) Option {
	return func(s *Server) { s.history = h }
}

// WithMetrics records requests and open streams on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth serves /healthz and /readyz from h. Without it only the
// liveness probe is served.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler overrides the /metrics handler. The default is
// [promhttp.Handler].
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithStreamOptions sets the initial content chunking.
func WithStreamOptions(o stream.Options) Option {
	return func(s *Server) { s.streamOpts.Store(&o) }
}

// New returns a server answering chat requests with ex.
func New(ex engine.Exchanger, opts ...Option) *Server {
	s := &Server{ex: ex}
	s.streamOpts.Store(&stream.Options{})
	for _, o := range opts {
		o(s)
	}
	if s.health == nil {
		s.health = health.New(nil)
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}
	return s
}

// SetStreamOptions replaces the content chunking for subsequent exchanges.
func (s *Server) SetStreamOptions(o stream.Options) {
	s.streamOpts.Store(&o)
}

// StreamOptions returns the current content chunking.
func (s *Server) StreamOptions() stream.Options {
	return *s.streamOpts.Load()
}

// Handler returns the routed handler, wrapped in [observe.Middleware] when
// metrics are configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat/ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/tools", s.handleTools)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleSessionMessages)
	mux.Handle("GET /metrics", s.metricsHandler)
	s.health.Register(mux)

	if s.metrics == nil {
		return mux
	}
	return observe.Middleware(s.metrics)(mux)
}

// ─── Chat (SSE) ──────────────────────────────────────────────────────────────

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := s.ex.Exchange(r.Context(), req)
	if err != nil {
		if errors.Is(err, engine.ErrEmptyMessage) {
			writeError(w, http.StatusBadRequest, "message must not be empty")
			return
		}
		observe.Logger(r.Context()).Error("exchange failed", "err", err)
		writeError(w, http.StatusInternalServerError, "exchange failed")
		return
	}

	sink := stream.NewSSE(w)
	if reply.SessionID != "" {
		w.Header().Set(SessionHeader, reply.SessionID)
	}
	w.WriteHeader(http.StatusOK)

	s.stream(r.Context(), stream.NewEmitter(sink), reply.Outcome, "sse")
}

// stream emits an outcome and keeps the open-stream gauge current.
func (s *Server) stream(ctx context.Context, em *stream.Emitter, o stream.Outcome, transport string) {
	if s.metrics != nil {
		attr := observe.Attr("transport", transport)
		s.metrics.ActiveStreams.Add(ctx, 1, metric.WithAttributes(attr))
		defer s.metrics.ActiveStreams.Add(ctx, -1, metric.WithAttributes(attr))
	}
	if err := stream.Stream(ctx, em, o, s.StreamOptions()); err != nil {
		observe.Logger(ctx).Debug("stream ended early", "transport", transport, "err", err)
	}
}

// ─── Chat (WebSocket) ────────────────────────────────────────────────────────

// handleWebSocket serves one exchange per text message until the client
// closes the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxBodySize)

	ctx := r.Context()
	sink := stream.NewWebSocket(conn)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
				websocket.CloseStatus(err) != websocket.StatusGoingAway {
				observe.Logger(ctx).Debug("websocket read ended", "err", err)
			}
			return
		}
		em := stream.NewEmitter(sink)
		if typ != websocket.MessageText {
			_ = fail(ctx, em, "expected a JSON text message")
			continue
		}

		var req engine.Request
		if err := json.Unmarshal(data, &req); err != nil {
			if fail(ctx, em, "invalid request: "+err.Error()) != nil {
				return
			}
			continue
		}
		reply, err := s.ex.Exchange(ctx, req)
		if err != nil {
			msg := "exchange failed"
			if errors.Is(err, engine.ErrEmptyMessage) {
				msg = "message must not be empty"
			}
			if fail(ctx, em, msg) != nil {
				return
			}
			continue
		}
		s.stream(ctx, em, reply.Outcome, "websocket")
		if em.Err() != nil {
			return
		}
	}
}

// fail emits an error event followed by done.
func fail(ctx context.Context, em *stream.Emitter, message string) error {
	if err := em.Emit(ctx, stream.Error(message)); err != nil {
		return err
	}
	return em.Emit(ctx, stream.Done())
}

// ─── Listing ─────────────────────────────────────────────────────────────────

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	if s.tools == nil {
		writeJSON(w, http.StatusOK, map[string]any{"tools": []llm.ToolDefinition{}})
		return
	}
	defs := s.tools.Definitions()
	if defs == nil {
		defs = []llm.ToolDefinition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": defs})
}

type sessionMessages struct {
	SessionID string          `json:"session_id"`
	Messages  []history.Entry `json:"messages"`
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}
	id := r.PathValue("id")
	entries, err := s.history.Load(r.Context(), id, 0)
	if err != nil {
		if errors.Is(err, history.ErrNoSession) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		observe.Logger(r.Context()).Error("load history failed", "session_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "load history failed")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, sessionMessages{SessionID: id, Messages: entries})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
