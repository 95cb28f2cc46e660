package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/toolweave/internal/adapters/calculator"
	"github.com/MrWong99/toolweave/internal/fastpath"
	"github.com/MrWong99/toolweave/internal/history"
	"github.com/MrWong99/toolweave/internal/orchestrator"
	"github.com/MrWong99/toolweave/internal/stream"
	"github.com/MrWong99/toolweave/internal/tool"
	toolmock "github.com/MrWong99/toolweave/internal/tool/mock"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
	llmmock "github.com/MrWong99/toolweave/pkg/provider/llm/mock"
)

func newEngine(model llm.Provider, store history.Store) (*Engine, *toolmock.Invoker) {
	inv := &toolmock.Invoker{
		Defs: []llm.ToolDefinition{
			{Name: calculator.ToolName, Description: "Evaluate arithmetic."},
			{Name: "get_weather", Description: "Current weather."},
		},
		Results: map[string]tool.Result{
			calculator.ToolName: {Payload: calculator.Result{Expression: "2+3*4", Result: 14}},
			"get_weather":       {Payload: map[string]any{"city": "Paris", "temperature_c": 18.0}},
		},
	}
	opts := []Option{}
	if store != nil {
		opts = append(opts, WithHistory(store))
	}
	e := New(fastpath.New(inv, model), orchestrator.New(model, inv), opts...)
	return e, inv
}

func TestExchange_FastPath(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{}
	store := history.NewMemory()
	e, inv := newEngine(model, store)

	reply, err := e.Exchange(context.Background(), Request{Message: "what is 2+3*4?"})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if reply.Path != PathFastPath {
		t.Errorf("Path = %s, want fastpath", reply.Path)
	}
	if reply.Outcome.Answer != "Result: 14" {
		t.Errorf("Answer = %q", reply.Outcome.Answer)
	}
	if len(model.Calls()) != 0 {
		t.Error("arithmetic fast path called the model")
	}
	if inv.CallCount(calculator.ToolName) != 1 {
		t.Error("calculator not invoked exactly once")
	}

	if reply.SessionID == "" {
		t.Fatal("no session ID assigned")
	}
	entries, _ := store.Load(context.Background(), reply.SessionID, 0)
	if len(entries) != 2 || entries[1].Content != "Result: 14" {
		t.Errorf("history = %+v", entries)
	}
}

func TestExchange_PlainTurn(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{Script: []llmmock.Reply{
		{Response: &llm.CompletionResponse{Content: "Why did the gopher cross the road?"}},
	}}
	e, inv := newEngine(model, nil)

	reply, err := e.Exchange(context.Background(), Request{Message: "tell me a joke"})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if reply.Path != PathLoop || reply.Outcome.ToolsFired() {
		t.Errorf("Path = %s, tools fired = %v", reply.Path, reply.Outcome.ToolsFired())
	}
	if reply.Outcome.Answer != "Why did the gopher cross the road?" {
		t.Errorf("Answer = %q", reply.Outcome.Answer)
	}
	if reply.SessionID != "" {
		t.Errorf("session ID %q assigned without a history store", reply.SessionID)
	}
	if len(inv.Calls()) != 0 {
		t.Error("plain turn invoked a tool")
	}
}

func TestExchange_MultiDomainUsesLoop(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{
		ModelCapabilities: llm.ModelCapabilities{SupportsToolCalling: true},
		Script: []llmmock.Reply{
			{Response: &llm.CompletionResponse{ToolCalls: []llm.ToolCall{
				{ID: "1", Name: "get_weather", Arguments: `{"city":"Paris"}`},
				{ID: "2", Name: calculator.ToolName, Arguments: `{"expression":"2+3"}`},
			}}},
			{Response: &llm.CompletionResponse{Content: "Paris is 18°C and 2+3 is 5."}},
		},
	}
	e, inv := newEngine(model, nil)

	reply, err := e.Exchange(context.Background(), Request{Message: "What's the weather in Paris and what is 2+3?"})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if reply.Path != PathLoop {
		t.Errorf("Path = %s, want loop", reply.Path)
	}
	if len(reply.Outcome.Events) != 4 {
		t.Errorf("events = %d, want 4", len(reply.Outcome.Events))
	}
	if inv.CallCount("get_weather") != 1 || inv.CallCount(calculator.ToolName) != 1 {
		t.Errorf("tool calls = %+v", inv.Calls())
	}
}

func TestExchange_ModelFailure(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{Script: []llmmock.Reply{{Err: errors.New("503 service unavailable")}}}
	store := history.NewMemory()
	e, _ := newEngine(model, store)

	reply, err := e.Exchange(context.Background(), Request{SessionID: "s", Message: "tell me a joke"})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if reply.Outcome.Failure != ModelFailureMessage || reply.Outcome.Answer != "" {
		t.Errorf("Outcome = %+v", reply.Outcome)
	}

	frames := stream.Frames(reply.Outcome, stream.ChunkSize)
	if len(frames) != 2 || frames[0].Type != stream.TypeError || frames[1].Type != stream.TypeDone {
		t.Errorf("frames = %+v, want error then done", frames)
	}

	entries, _ := store.Load(context.Background(), "s", 0)
	if len(entries) != 1 || entries[0].Role != llm.RoleUser {
		t.Errorf("history = %+v, want only the user turn", entries)
	}
}

func TestExchange_LoadsPersistedHistory(t *testing.T) {
	t.Parallel()

	store := history.NewMemory()
	ctx := context.Background()
	_ = store.Append(ctx, "s1",
		history.Entry{Role: llm.RoleUser, Content: "My name is Sam."},
		history.Entry{Role: llm.RoleAssistant, Content: "Nice to meet you, Sam."},
	)
	model := &llmmock.Provider{Script: []llmmock.Reply{
		{Response: &llm.CompletionResponse{Content: "You are Sam."}},
	}}
	e, _ := newEngine(model, store)

	if _, err := e.Exchange(ctx, Request{SessionID: "s1", Message: "who am I"}); err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	msgs := model.Calls()[0].Req.Messages
	if len(msgs) != 3 || msgs[0].Content != "My name is Sam." || msgs[2].Content != "who am I" {
		t.Errorf("messages = %+v", msgs)
	}

	// Client-supplied history wins over the stored session.
	if _, err := e.Exchange(ctx, Request{
		SessionID: "s1",
		Message:   "who am I",
		History:   []llm.Message{{Role: llm.RoleUser, Content: "I am Kim."}},
	}); err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	msgs = model.Calls()[1].Req.Messages
	if len(msgs) != 2 || msgs[0].Content != "I am Kim." {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestExchange_SurvivesCallerCancellation(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(ctxProvider{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reply, err := e.Exchange(ctx, Request{Message: "tell me a joke"})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if reply.Outcome.Failure != "" || reply.Outcome.Answer != "still here" {
		t.Errorf("Outcome = %+v, want the model answer despite cancellation", reply.Outcome)
	}
}

func TestExchange_EmptyMessage(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(&llmmock.Provider{}, nil)
	if _, err := e.Exchange(context.Background(), Request{Message: "  "}); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
}

// ctxProvider fails when its context is cancelled.
type ctxProvider struct{}

func (ctxProvider) Complete(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: "still here"}, nil
}

func (ctxProvider) Capabilities() llm.ModelCapabilities { return llm.ModelCapabilities{} }
