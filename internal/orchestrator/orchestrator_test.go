package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/toolweave/internal/intent"
	"github.com/MrWong99/toolweave/internal/stream"
	"github.com/MrWong99/toolweave/internal/tool"
	toolmock "github.com/MrWong99/toolweave/internal/tool/mock"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
	llmmock "github.com/MrWong99/toolweave/pkg/provider/llm/mock"
)

func newInvoker() *toolmock.Invoker {
	return &toolmock.Invoker{
		Defs: []llm.ToolDefinition{
			{Name: "calculate", Description: "Evaluate arithmetic."},
			{Name: "get_weather", Description: "Current weather for a city."},
		},
		Results: map[string]tool.Result{
			"calculate":   {Payload: map[string]any{"result": 14.0}},
			"get_weather": {Payload: map[string]any{"city": "Paris", "temperature_c": 18.0}},
		},
	}
}

func reply(content string, calls ...llm.ToolCall) llmmock.Reply {
	return llmmock.Reply{Response: &llm.CompletionResponse{Content: content, ToolCalls: calls}}
}

func eventTypes(o *stream.Outcome) []stream.Type {
	types := make([]stream.Type, len(o.Events))
	for i, e := range o.Events {
		types[i] = e.Type
	}
	return types
}

func TestRun_NoSignalsPlainTurn(t *testing.T) {
	t.Parallel()

	inv := newInvoker()
	model := &llmmock.Provider{
		ModelCapabilities: llm.ModelCapabilities{SupportsToolCalling: true},
		Script:            []llmmock.Reply{reply(`Hello! [TOOL_CALL: calculate {"expression": "1+1"}]`)},
	}
	l := New(model, inv)

	out, err := l.Run(context.Background(), intent.Signals{}, nil, "hi there")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Answer != "Hello!" {
		t.Errorf("Answer = %q, want %q", out.Answer, "Hello!")
	}
	if out.ToolsFired() || len(inv.Calls()) != 0 {
		t.Error("no tool may run without a classifier signal")
	}
	req := model.Calls()[0].Req
	if req.SystemPrompt != "" || len(req.Tools) != 0 {
		t.Errorf("plain turn got system prompt %q and %d tools", req.SystemPrompt, len(req.Tools))
	}
}

func TestRun_NativeToolCall(t *testing.T) {
	t.Parallel()

	inv := newInvoker()
	model := &llmmock.Provider{
		ModelCapabilities: llm.ModelCapabilities{SupportsToolCalling: true},
		Script: []llmmock.Reply{
			reply("", llm.ToolCall{ID: "call_1", Name: "calculate", Arguments: `{"expression":"2+3*4"}`}),
			reply("2 + 3 * 4 is 14."),
		},
	}
	l := New(model, inv)

	history := []llm.Message{{Role: llm.RoleUser, Content: "hello"}, {Role: llm.RoleAssistant, Content: "hi"}}
	out, err := l.Run(context.Background(), intent.Signals{Calculator: true}, history, "what is 2+3*4 and why")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Answer != "2 + 3 * 4 is 14." {
		t.Errorf("Answer = %q", out.Answer)
	}
	want := []stream.Type{stream.TypeToolCall, stream.TypeToolResult}
	if got := eventTypes(out); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("events = %v, want %v", got, want)
	}
	if out.Events[0].Params["expression"] != "2+3*4" {
		t.Errorf("tool_call params = %v", out.Events[0].Params)
	}

	calls := model.Calls()
	if len(calls) != 2 {
		t.Fatalf("model called %d times, want 2", len(calls))
	}
	first, second := calls[0].Req, calls[1].Req
	if len(first.Tools) != 2 {
		t.Errorf("first request has %d tools, want 2", len(first.Tools))
	}
	if len(second.Tools) != 0 {
		t.Errorf("second request has %d tools, want 0", len(second.Tools))
	}
	if !strings.Contains(first.SystemPrompt, "calculate") || !strings.Contains(first.SystemPrompt, "[TOOL_CALL:") {
		t.Errorf("system prompt lacks listing or grammar: %q", first.SystemPrompt)
	}
	if len(first.Messages) != 3 {
		t.Errorf("first request has %d messages, want history + user", len(first.Messages))
	}

	msgs := second.Messages
	if len(msgs) != 5 {
		t.Fatalf("second request has %d messages, want 5", len(msgs))
	}
	if msgs[3].Role != llm.RoleAssistant || len(msgs[3].ToolCalls) != 1 {
		t.Errorf("message 3 = %+v, want assistant tool request", msgs[3])
	}
	if msgs[4].Role != llm.RoleTool || msgs[4].ToolCallID != "call_1" || msgs[4].Content != `{"result":14}` {
		t.Errorf("message 4 = %+v, want tool result for call_1", msgs[4])
	}
}

func TestRun_TextualToolCall(t *testing.T) {
	t.Parallel()

	inv := newInvoker()
	model := &llmmock.Provider{
		Script: []llmmock.Reply{
			reply(`[TOOL_CALL: get_weather {"city": "Paris"}]`),
			reply("It is 18°C in Paris."),
		},
	}
	l := New(model, inv)

	out, err := l.Run(context.Background(), intent.Signals{Weather: true, City: "Paris"}, nil, "weather in Paris and should I bring a coat")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Answer != "It is 18°C in Paris." {
		t.Errorf("Answer = %q", out.Answer)
	}
	if got := inv.CallCount("get_weather"); got != 1 {
		t.Fatalf("get_weather invoked %d times, want 1", got)
	}
	args, _ := inv.Calls()[0].Args.(map[string]any)
	if args["city"] != "Paris" {
		t.Errorf("args = %v", args)
	}

	calls := model.Calls()
	if len(calls[0].Req.Tools) != 0 {
		t.Error("tool schemas sent to a model without native tool calling")
	}
	msgs := calls[1].Req.Messages
	toolMsg := msgs[len(msgs)-1]
	reqMsg := msgs[len(msgs)-2]
	if toolMsg.ToolCallID == "" || toolMsg.ToolCallID != reqMsg.ToolCalls[0].ID {
		t.Errorf("tool result ID %q does not match request ID", toolMsg.ToolCallID)
	}
}

func TestRun_BudgetExhaustedWithTools(t *testing.T) {
	t.Parallel()

	inv := newInvoker()
	model := &llmmock.Provider{
		ModelCapabilities: llm.ModelCapabilities{SupportsToolCalling: true},
		Script: []llmmock.Reply{
			reply("", llm.ToolCall{ID: "x", Name: "calculate", Arguments: `{"expression":"2+3*4"}`}),
		},
	}
	l := New(model, inv, WithBudget(3))

	out, err := l.Run(context.Background(), intent.Signals{Calculator: true}, nil, "keep calculating")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(model.Calls()); got != 3 {
		t.Errorf("model called %d times, want 3", got)
	}
	if got := inv.CallCount("calculate"); got != 3 {
		t.Errorf("calculate invoked %d times, want 3", got)
	}
	if !strings.Contains(out.Answer, `{"result":14}`) || !strings.Contains(out.Answer, "calculate") {
		t.Errorf("Answer = %q, want the last tool result verbatim", out.Answer)
	}
	if len(out.Events) != 6 {
		t.Errorf("events = %d, want 6", len(out.Events))
	}
}

func TestRun_NoContentNoTools(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{Script: []llmmock.Reply{reply("   ")}}
	l := New(model, newInvoker())

	out, err := l.Run(context.Background(), intent.Signals{Weather: true}, nil, "weather?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Answer != NoResponseMessage {
		t.Errorf("Answer = %q, want %q", out.Answer, NoResponseMessage)
	}
	if got := len(model.Calls()); got != 1 {
		t.Errorf("model called %d times, want 1", got)
	}
}

func TestRun_MalformedRequestIsNoToolCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp llmmock.Reply
		want string
	}{
		{
			name: "bad structured arguments with content",
			resp: reply("I can't do that.", llm.ToolCall{Name: "calculate", Arguments: "{oops"}),
			want: "I can't do that.",
		},
		{
			name: "bad structured arguments without content",
			resp: reply("", llm.ToolCall{Name: "calculate", Arguments: "{oops"}),
			want: NoResponseMessage,
		},
		{
			name: "bad textual call",
			resp: reply(`[TOOL_CALL: calculate {"expression": }] Let me think.`),
			want: "Let me think.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			inv := newInvoker()
			model := &llmmock.Provider{Script: []llmmock.Reply{tt.resp}}
			out, err := New(model, inv).Run(context.Background(), intent.Signals{Calculator: true}, nil, "calc")
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if out.Answer != tt.want {
				t.Errorf("Answer = %q, want %q", out.Answer, tt.want)
			}
			if len(inv.Calls()) != 0 {
				t.Error("malformed request must not invoke a tool")
			}
		})
	}
}

func TestRun_ModelFailureIsTerminal(t *testing.T) {
	t.Parallel()

	inv := newInvoker()
	backendErr := errors.New("connection refused")
	model := &llmmock.Provider{
		ModelCapabilities: llm.ModelCapabilities{SupportsToolCalling: true},
		Script: []llmmock.Reply{
			reply("", llm.ToolCall{ID: "c1", Name: "get_weather", Arguments: `{"city":"Paris"}`}),
			{Err: backendErr},
		},
	}

	out, err := New(model, inv).Run(context.Background(), intent.Signals{Weather: true}, nil, "weather")
	if !errors.Is(err, ErrModelBackend) || !errors.Is(err, backendErr) {
		t.Fatalf("err = %v, want ErrModelBackend wrapping the backend error", err)
	}
	if len(out.Events) != 2 {
		t.Errorf("events = %d, want the 2 recorded before the failure", len(out.Events))
	}
	if got := len(model.Calls()); got != 2 {
		t.Errorf("model called %d times, want 2", got)
	}
}

func TestRun_ToolErrorFedBack(t *testing.T) {
	t.Parallel()

	inv := newInvoker()
	model := &llmmock.Provider{
		ModelCapabilities: llm.ModelCapabilities{SupportsToolCalling: true},
		Script: []llmmock.Reply{
			reply("", llm.ToolCall{ID: "c1", Name: "no_such_tool", Arguments: `{}`}),
			reply("I couldn't find that tool."),
		},
	}

	out, err := New(model, inv).Run(context.Background(), intent.Signals{Documents: true}, nil, "search my docs")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Answer != "I couldn't find that tool." {
		t.Errorf("Answer = %q", out.Answer)
	}
	msgs := model.Calls()[1].Req.Messages
	if got := msgs[len(msgs)-1].Content; got != `{"error":"unknown tool"}` {
		t.Errorf("tool message = %q", got)
	}
	res, _ := out.Events[1].Result.(map[string]any)
	if res["error"] != tool.UnknownToolReason {
		t.Errorf("tool_result = %v", out.Events[1].Result)
	}
}

func TestSystemPrompt(t *testing.T) {
	t.Parallel()
	got := SystemPrompt("- calculate: Evaluate arithmetic.\n", []intent.Domain{intent.Calculator, intent.Weather})
	for _, want := range []string{"- calculate: Evaluate arithmetic.", "[TOOL_CALL: tool_name", "calculator, weather."} {
		if !strings.Contains(got, want) {
			t.Errorf("SystemPrompt missing %q:\n%s", want, got)
		}
	}
}
