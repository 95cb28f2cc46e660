package fastpath

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/toolweave/internal/adapters/calculator"
	"github.com/MrWong99/toolweave/internal/adapters/transcript"
	"github.com/MrWong99/toolweave/internal/adapters/weather"
	"github.com/MrWong99/toolweave/internal/intent"
	"github.com/MrWong99/toolweave/internal/stream"
	"github.com/MrWong99/toolweave/internal/tool"
	toolmock "github.com/MrWong99/toolweave/internal/tool/mock"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
	llmmock "github.com/MrWong99/toolweave/pkg/provider/llm/mock"
)

var paris = &weather.Report{
	City:         "Paris",
	Country:      "France",
	TemperatureC: 18,
	FeelsLikeC:   17,
	Humidity:     60,
	WindKmh:      12,
	Conditions:   "Partly cloudy",
}

func TestPlan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sig      intent.Signals
		wantTool string
		wantOK   bool
	}{
		{name: "arithmetic", sig: intent.Signals{Calculator: true, Expression: "2+3*4"}, wantTool: calculator.ToolName, wantOK: true},
		{name: "arithmetic without expression", sig: intent.Signals{Calculator: true}},
		{name: "weather", sig: intent.Signals{Weather: true, City: "Paris"}, wantTool: weather.ToolName, wantOK: true},
		{name: "weather without city", sig: intent.Signals{Weather: true}},
		{name: "weather and calculator", sig: intent.Signals{Weather: true, City: "Paris", Calculator: true, Expression: "1+1"}},
		{name: "weather and transcript", sig: intent.Signals{Weather: true, City: "Paris", TranscriptSearch: true, Keyword: "rain"}},
		{
			name:     "search beats mention and fetch",
			sig:      intent.Signals{TranscriptSearch: true, TranscriptMention: true, TranscriptFetch: true, Keyword: "Anna", Filename: "f.json"},
			wantTool: transcript.SearchToolName, wantOK: true,
		},
		{
			name:     "mention beats fetch",
			sig:      intent.Signals{TranscriptMention: true, TranscriptFetch: true, Keyword: "Anna", Filename: "f.json"},
			wantTool: transcript.MentionsToolName, wantOK: true,
		},
		{
			name:     "search without keyword falls to fetch",
			sig:      intent.Signals{TranscriptSearch: true, TranscriptFetch: true, Filename: "f.json"},
			wantTool: transcript.GetToolName, wantOK: true,
		},
		{
			name:     "summary of a named file",
			sig:      intent.Signals{TranscriptMention: true, Filename: "q3.json"},
			wantTool: transcript.GetToolName, wantOK: true,
		},
		{name: "mention without keyword or filename", sig: intent.Signals{TranscriptMention: true}},
		{name: "fetch without filename", sig: intent.Signals{TranscriptFetch: true}},
		{name: "listing has no fast path", sig: intent.Signals{TranscriptList: true, TranscriptFetch: true, Filename: "f.json"}},
		{name: "issues", sig: intent.Signals{Issues: true}},
		{name: "calculator with chat", sig: intent.Signals{Calculator: true, Expression: "1+1", Chat: true}},
		{name: "nothing", sig: intent.Signals{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, ok := plan(tt.sig)
			if ok != tt.wantOK {
				t.Fatalf("plan ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && r.tool != tt.wantTool {
				t.Errorf("tool = %q, want %q", r.tool, tt.wantTool)
			}
		})
	}
}

func TestPlan_SummaryRequests(t *testing.T) {
	t.Parallel()

	for _, u := range []string{
		"Summarize the meeting transcript q3.json",
		"summarize q3.json",
		"Can you summarize the recording standup.txt?",
	} {
		t.Run(u, func(t *testing.T) {
			t.Parallel()
			r, ok := plan(intent.Classify(u))
			if !ok {
				t.Fatal("summary request did not take the fast path")
			}
			if r.tool != transcript.GetToolName || r.prompt != documentPrompt {
				t.Errorf("route = %s with prompt %q", r.tool, r.prompt)
			}
		})
	}
}

func TestTry_Arithmetic(t *testing.T) {
	t.Parallel()

	inv := &toolmock.Invoker{Results: map[string]tool.Result{
		calculator.ToolName: {Payload: calculator.Result{Expression: "2+3*4", Result: 14}},
	}}
	model := &llmmock.Provider{}
	d := New(inv, model)

	out, ok := d.Try(context.Background(), intent.Signals{Calculator: true, Expression: "2+3*4"}, "What is 2 + 3 * 4?")
	if !ok {
		t.Fatal("Try did not fire")
	}
	if out.Answer != "Result: 14" {
		t.Errorf("Answer = %q, want %q", out.Answer, "Result: 14")
	}
	if len(model.Calls()) != 0 {
		t.Errorf("model called %d times, want 0", len(model.Calls()))
	}
	if got := inv.CallCount(calculator.ToolName); got != 1 {
		t.Errorf("calculate invoked %d times, want 1", got)
	}

	wantTypes := []stream.Type{stream.TypeToolCall, stream.TypeToolResult}
	if len(out.Events) != len(wantTypes) {
		t.Fatalf("events = %d, want %d", len(out.Events), len(wantTypes))
	}
	for i, e := range out.Events {
		if e.Type != wantTypes[i] {
			t.Errorf("event %d = %s, want %s", i, e.Type, wantTypes[i])
		}
	}
	if out.Events[0].Params["expression"] != "2+3*4" {
		t.Errorf("tool_call params = %v", out.Events[0].Params)
	}
}

func TestTry_WeatherPhrasedByModel(t *testing.T) {
	t.Parallel()

	inv := &toolmock.Invoker{Results: map[string]tool.Result{
		weather.ToolName: {Payload: paris},
	}}
	model := &llmmock.Provider{Script: []llmmock.Reply{
		{Response: &llm.CompletionResponse{Content: "  It's a mild 18°C in Paris right now.  "}},
	}}
	d := New(inv, model)

	out, ok := d.Try(context.Background(), intent.Signals{Weather: true, City: "Paris"}, "What's the weather in Paris?")
	if !ok {
		t.Fatal("Try did not fire")
	}
	if out.Answer != "It's a mild 18°C in Paris right now." {
		t.Errorf("Answer = %q", out.Answer)
	}

	calls := model.Calls()
	if len(calls) != 1 {
		t.Fatalf("model called %d times, want 1", len(calls))
	}
	req := calls[0].Req
	if len(req.Tools) != 0 {
		t.Error("phrasing request must not offer tools")
	}
	if !strings.Contains(req.Messages[0].Content, "What's the weather in Paris?") ||
		!strings.Contains(req.Messages[0].Content, `"temperature_c":18`) {
		t.Errorf("prompt missing question or data: %q", req.Messages[0].Content)
	}
	if _, ok := calls[0].Ctx.Deadline(); !ok {
		t.Error("phrasing call has no deadline")
	}
}

func TestTry_PhrasingFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		model llm.Provider
	}{
		{name: "model error", model: &llmmock.Provider{Script: []llmmock.Reply{{Err: errors.New("connection refused")}}}},
		{name: "empty reply", model: &llmmock.Provider{Script: []llmmock.Reply{{Response: &llm.CompletionResponse{Content: "   "}}}}},
		{name: "no model", model: nil},
		{name: "timeout", model: &slowProvider{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			inv := &toolmock.Invoker{Results: map[string]tool.Result{
				weather.ToolName: {Payload: paris},
			}}
			d := New(inv, tt.model, WithSummaryTimeout(20*time.Millisecond))

			out, ok := d.Try(context.Background(), intent.Signals{Weather: true, City: "Paris"}, "weather in Paris")
			if !ok {
				t.Fatal("Try did not fire")
			}
			if out.Answer != paris.Summary() {
				t.Errorf("Answer = %q, want template %q", out.Answer, paris.Summary())
			}
		})
	}
}

func TestTry_ToolFailureBecomesApology(t *testing.T) {
	t.Parallel()

	inv := &toolmock.Invoker{Results: map[string]tool.Result{
		weather.ToolName: {Err: "weather: no place called \"Atlantis\"."},
	}}
	model := &llmmock.Provider{}
	d := New(inv, model)

	out, ok := d.Try(context.Background(), intent.Signals{Weather: true, City: "Atlantis"}, "weather in Atlantis")
	if !ok {
		t.Fatal("Try did not fire")
	}
	want := `Sorry, I couldn't get the weather for Atlantis: weather: no place called "Atlantis".`
	if out.Answer != want {
		t.Errorf("Answer = %q, want %q", out.Answer, want)
	}
	if out.Failure != "" {
		t.Errorf("tool failure must not be a protocol error, got Failure %q", out.Failure)
	}
	res, _ := out.Events[1].Result.(map[string]any)
	if res["error"] == nil {
		t.Errorf("tool_result = %v, want error payload", out.Events[1].Result)
	}
	if len(model.Calls()) != 0 {
		t.Error("model must not be called after a tool failure")
	}
}

func TestTry_SearchIsTemplated(t *testing.T) {
	t.Parallel()

	result := &transcript.SearchResult{
		Keyword: "Anna",
		Count:   1,
		Matches: []transcript.Match{{Filename: "f.json", Speaker: "Bob", Sentence: "Anna will send the report."}},
	}
	inv := &toolmock.Invoker{Results: map[string]tool.Result{
		transcript.SearchToolName: {Payload: result},
	}}
	model := &llmmock.Provider{}
	d := New(inv, model)

	sig := intent.Signals{TranscriptSearch: true, Keyword: "Anna", Filename: "f.json"}
	out, ok := d.Try(context.Background(), sig, "find sentences with Anna in f.json")
	if !ok {
		t.Fatal("Try did not fire")
	}
	if out.Answer != result.Summary() {
		t.Errorf("Answer = %q, want %q", out.Answer, result.Summary())
	}
	if len(model.Calls()) != 0 {
		t.Error("sentence search must not call the model")
	}
	args, _ := inv.Calls()[0].Args.(map[string]any)
	if args["filename"] != "f.json" || args["keyword"] != "Anna" {
		t.Errorf("args = %v", args)
	}
}

func TestTry_MentionSummary(t *testing.T) {
	t.Parallel()

	t.Run("summarized by model", func(t *testing.T) {
		t.Parallel()
		inv := &toolmock.Invoker{Results: map[string]tool.Result{
			transcript.MentionsToolName: {Payload: &transcript.MentionResult{
				Keyword: "Anna",
				Count:   1,
				Matches: []transcript.Match{{Filename: "f.json", Speaker: "Bob", Sentence: "Anna owns the release."}},
			}},
		}}
		model := &llmmock.Provider{Script: []llmmock.Reply{
			{Response: &llm.CompletionResponse{Content: "Bob said Anna owns the release."}},
		}}
		out, _ := New(inv, model).Try(context.Background(),
			intent.Signals{TranscriptMention: true, Keyword: "Anna"}, "summarize what was said about Anna")
		if out.Answer != "Bob said Anna owns the release." {
			t.Errorf("Answer = %q", out.Answer)
		}
		if len(model.Calls()) != 1 {
			t.Errorf("model called %d times, want 1", len(model.Calls()))
		}
	})

	t.Run("no mentions skips model", func(t *testing.T) {
		t.Parallel()
		empty := &transcript.MentionResult{Keyword: "Zed"}
		inv := &toolmock.Invoker{Results: map[string]tool.Result{
			transcript.MentionsToolName: {Payload: empty},
		}}
		model := &llmmock.Provider{}
		out, _ := New(inv, model).Try(context.Background(),
			intent.Signals{TranscriptMention: true, Keyword: "Zed"}, "what was said about Zed")
		if out.Answer != empty.Summary() {
			t.Errorf("Answer = %q, want %q", out.Answer, empty.Summary())
		}
		if len(model.Calls()) != 0 {
			t.Error("model must not be called without mentions")
		}
	})
}

func TestTry_FallsThrough(t *testing.T) {
	t.Parallel()

	inv := &toolmock.Invoker{}
	d := New(inv, &llmmock.Provider{})
	sig := intent.Signals{Weather: true, City: "Paris", Calculator: true, Expression: "1+1"}

	if out, ok := d.Try(context.Background(), sig, "weather in Paris and 1+1"); ok || out != nil {
		t.Fatalf("Try fired for a multi-domain utterance: %+v", out)
	}
	if len(inv.Calls()) != 0 {
		t.Error("no tool may run when falling through")
	}
}

// slowProvider blocks until its context is done.
type slowProvider struct{}

func (slowProvider) Complete(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowProvider) Capabilities() llm.ModelCapabilities { return llm.ModelCapabilities{} }
