package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/toolweave/internal/engine"
	enginemock "github.com/MrWong99/toolweave/internal/engine/mock"
	"github.com/MrWong99/toolweave/internal/health"
	"github.com/MrWong99/toolweave/internal/history"
	"github.com/MrWong99/toolweave/internal/server"
	"github.com/MrWong99/toolweave/internal/stream"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

func toolOutcome() stream.Outcome {
	var o stream.Outcome
	o.RecordCall("calculate", map[string]any{"expression": "2+3*4"})
	o.RecordResult("calculate", map[string]any{"result": 14})
	o.Answer = "Result: 14"
	return o
}

// readSSE collects the JSON events of an SSE body and reports whether the
// [DONE] sentinel terminated it.
func readSSE(t *testing.T, body io.Reader) ([]stream.Event, bool) {
	t.Helper()
	var (
		events []stream.Event
		done   bool
	)
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		if line == stream.DoneSentinel {
			done = true
			continue
		}
		var ev stream.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events, done
}

func types(events []stream.Event) []stream.Type {
	out := make([]stream.Type, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func equalTypes(a, b []stream.Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type listedTools []llm.ToolDefinition

func (l listedTools) Definitions() []llm.ToolDefinition { return l }

// ─── SSE ─────────────────────────────────────────────────────────────────────

func TestChat_SSE(t *testing.T) {
	t.Parallel()

	ex := &enginemock.Exchanger{Reply: &engine.Reply{SessionID: "s-1", Outcome: toolOutcome()}}
	srv := server.New(ex, server.WithStreamOptions(stream.Options{ChunkSize: 4}))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body := `{"message":"what is 2+3*4","history":[{"role":"user","content":"hi"}],"session_id":"s-1"}`
	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := resp.Header.Get(server.SessionHeader); got != "s-1" {
		t.Errorf("%s = %q", server.SessionHeader, got)
	}

	events, done := readSSE(t, resp.Body)
	want := []stream.Type{
		stream.TypeToolCall, stream.TypeToolResult, stream.TypeFinalResponse,
		stream.TypeContent, stream.TypeContent, stream.TypeContent, stream.TypeDone,
	}
	if !equalTypes(types(events), want) {
		t.Fatalf("event types = %v, want %v", types(events), want)
	}
	if !done {
		t.Error("missing [DONE] sentinel")
	}
	if got := stream.Text(events); got != "Result: 14" {
		t.Errorf("content = %q", got)
	}

	reqs := ex.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d", len(reqs))
	}
	if reqs[0].Message != "what is 2+3*4" || reqs[0].SessionID != "s-1" || len(reqs[0].History) != 1 {
		t.Errorf("request = %+v", reqs[0])
	}
}

func TestChat_SSEFailure(t *testing.T) {
	t.Parallel()

	ex := &enginemock.Exchanger{Reply: &engine.Reply{Outcome: stream.Outcome{Failure: engine.ModelFailureMessage}}}
	ts := httptest.NewServer(server.New(ex).Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(`{"message":"hello"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	events, _ := readSSE(t, resp.Body)
	want := []stream.Type{stream.TypeError, stream.TypeDone}
	if !equalTypes(types(events), want) {
		t.Fatalf("event types = %v, want %v", types(events), want)
	}
	if events[0].Message != engine.ModelFailureMessage {
		t.Errorf("message = %q", events[0].Message)
	}
}

func TestChat_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ex     *enginemock.Exchanger
		body   string
		status int
	}{
		{"malformed json", &enginemock.Exchanger{}, `{"message":`, http.StatusBadRequest},
		{"empty message", &enginemock.Exchanger{Err: engine.ErrEmptyMessage}, `{"message":"  "}`, http.StatusBadRequest},
		{"engine error", &enginemock.Exchanger{Err: errors.New("boom")}, `{"message":"hi"}`, http.StatusInternalServerError},
		{"too large", &enginemock.Exchanger{}, `{"message":"` + strings.Repeat("a", 2<<20) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body))
			server.New(tt.ex).Handler().ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Errorf("body = %q, want a JSON error", rec.Body.String())
			}
		})
	}
}

func TestChat_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	server.New(&enginemock.Exchanger{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rec.Code)
	}
}

// ─── WebSocket ───────────────────────────────────────────────────────────────

func readWS(t *testing.T, ctx context.Context, conn *websocket.Conn) []stream.Event {
	t.Helper()
	var events []stream.Event
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(data) == stream.DoneSentinel {
			return events
		}
		var ev stream.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("bad message %q: %v", data, err)
		}
		events = append(events, ev)
	}
}

func TestChat_WebSocket(t *testing.T) {
	t.Parallel()

	ex := &enginemock.Exchanger{Reply: &engine.Reply{Outcome: toolOutcome()}}
	ts := httptest.NewServer(server.New(ex).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/chat/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.CloseNow()

	// Two exchanges on one connection.
	for i := range 2 {
		if err := conn.Write(ctx, websocket.MessageText, []byte(`{"message":"what is 2+3*4"}`)); err != nil {
			t.Fatal(err)
		}
		events := readWS(t, ctx, conn)
		if events[0].Type != stream.TypeToolCall || events[len(events)-1].Type != stream.TypeDone {
			t.Errorf("exchange %d: event types = %v", i, types(events))
		}
		if got := stream.Text(events); got != "Result: 14" {
			t.Errorf("exchange %d: content = %q", i, got)
		}
	}

	// A malformed request yields error then done and keeps the connection.
	if err := conn.Write(ctx, websocket.MessageText, []byte(`not json`)); err != nil {
		t.Fatal(err)
	}
	events := readWS(t, ctx, conn)
	if !equalTypes(types(events), []stream.Type{stream.TypeError, stream.TypeDone}) {
		t.Errorf("event types = %v", types(events))
	}

	conn.Close(websocket.StatusNormalClosure, "bye")
	if got := len(ex.Requests()); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
}

// ─── Listing ─────────────────────────────────────────────────────────────────

func TestTools(t *testing.T) {
	t.Parallel()

	defs := listedTools{{Name: "calculate", Description: "Evaluate arithmetic"}}
	rec := httptest.NewRecorder()
	server.New(&enginemock.Exchanger{}, server.WithTools(defs)).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tools", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Tools []llm.ToolDefinition `json:"tools"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Tools) != 1 || body.Tools[0].Name != "calculate" {
		t.Errorf("tools = %+v", body.Tools)
	}
}

func TestSessionMessages(t *testing.T) {
	t.Parallel()

	store := history.NewMemory()
	ctx := context.Background()
	if err := store.Append(ctx, "abc",
		history.Entry{Role: llm.RoleUser, Content: "hi"},
		history.Entry{Role: llm.RoleAssistant, Content: "hello"},
	); err != nil {
		t.Fatal(err)
	}

	h := server.New(&enginemock.Exchanger{}, server.WithHistory(store)).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/abc/messages", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		SessionID string          `json:"session_id"`
		Messages  []history.Entry `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.SessionID != "abc" || len(body.Messages) != 2 || body.Messages[1].Content != "hello" {
		t.Errorf("body = %+v", body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/unknown/messages", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"messages":[]`) {
		t.Errorf("unknown session: %d %s", rec.Code, rec.Body.String())
	}
}

func TestSessionMessages_Disabled(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	server.New(&enginemock.Exchanger{}).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/abc/messages", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

// ─── Probes ──────────────────────────────────────────────────────────────────

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()

	failing := health.Checker{Name: "model", Check: func(context.Context) error { return errors.New("down") }}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "toolweave_up 1\n")
	})
	h := server.New(&enginemock.Exchanger{},
		server.WithHealth(health.New([]health.Checker{failing})),
		server.WithMetricsHandler(metrics),
	).Handler()

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/healthz", http.StatusOK, `"ok"`},
		{"/readyz", http.StatusServiceUnavailable, "down"},
		{"/metrics", http.StatusOK, "toolweave_up"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.status {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.status)
		}
		if !strings.Contains(rec.Body.String(), tt.body) {
			t.Errorf("%s: body = %q, want it to contain %q", tt.path, rec.Body.String(), tt.body)
		}
	}
}

func TestSetStreamOptions(t *testing.T) {
	t.Parallel()

	ex := &enginemock.Exchanger{Reply: &engine.Reply{Outcome: stream.Outcome{Answer: "abcdef"}}}
	srv := server.New(ex)
	srv.SetStreamOptions(stream.Options{ChunkSize: 2})
	if got := srv.StreamOptions().ChunkSize; got != 2 {
		t.Fatalf("ChunkSize = %d", got)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"x"}`)))
	events, done := readSSE(t, rec.Body)
	if len(events) != 4 || !done {
		t.Errorf("events = %v, done = %v", types(events), done)
	}
}
