// Package fastpath answers single-domain utterances without the
// tool-calling loop.
//
// When the classifier attributes an utterance to exactly one supported
// domain and extracted everything the tool needs, the [Dispatcher] invokes
// that tool directly and builds the answer itself: by template for
// arithmetic and sentence search, or with one bounded model call that
// phrases weather data or summarizes transcript text. A fast path never
// re-enters the loop and makes at most one model call.
package fastpath

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/toolweave/internal/adapters/calculator"
	"github.com/MrWong99/toolweave/internal/adapters/transcript"
	"github.com/MrWong99/toolweave/internal/adapters/weather"
	"github.com/MrWong99/toolweave/internal/intent"
	"github.com/MrWong99/toolweave/internal/observe"
	"github.com/MrWong99/toolweave/internal/stream"
	"github.com/MrWong99/toolweave/internal/tool"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// DefaultSummaryTimeout bounds the phrasing model call.
const DefaultSummaryTimeout = 10 * time.Second

// Invoker runs a registered tool. *tool.Registry satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, name string, args any) tool.Result
}

// style selects how the answer text is produced.
type style int

const (
	styleTemplate style = iota
	styleArithmetic
	stylePhrase
)

// route is a planned fast path: the one tool to call and how to answer.
type route struct {
	domain intent.Domain
	tool   string
	args   map[string]any
	style  style
	prompt string
}

const (
	weatherPrompt = "You answer weather questions. Using only the data provided, reply in one or two friendly sentences. " +
		"Mention the place, the temperature in °C and the conditions. Do not invent values."
	mentionPrompt = "You summarize what meeting transcripts say about a person or topic. Using only the sentences provided, " +
		"write a short summary of who mentioned it and in what context. Note that misheard spellings refer to the same subject."
	documentPrompt = "You summarize meeting transcripts. Using only the transcript provided, write a concise summary of the " +
		"main topics, decisions and action items, naming who said what where it matters."
)

// Dispatcher plans and executes fast paths. It is safe for concurrent use.
type Dispatcher struct {
	tools   Invoker
	model   llm.Provider
	timeout time.Duration
	metrics *observe.Metrics
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithSummaryTimeout bounds the single phrasing model call.
func WithSummaryTimeout(d time.Duration) Option {
	return func(p *Dispatcher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithMetrics records fast-path hits and model calls on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Dispatcher) { p.metrics = m }
}

// New creates a Dispatcher invoking tools through tools. model may be nil,
// in which case every answer is templated.
func New(tools Invoker, model llm.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		tools:   tools,
		model:   model,
		timeout: DefaultSummaryTimeout,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Try runs the fast path for sig, if one applies. It returns false when the
// utterance must go through the tool-calling loop instead. A tool failure
// still returns true: the outcome carries an apology as its answer.
func (d *Dispatcher) Try(ctx context.Context, sig intent.Signals, utterance string) (*stream.Outcome, bool) {
	r, ok := plan(sig)
	if !ok {
		return nil, false
	}
	log := observe.Logger(ctx).With("domain", r.domain, "tool", r.tool)
	if d.metrics != nil {
		d.metrics.RecordFastPath(ctx, string(r.domain))
	}

	out := &stream.Outcome{}
	out.RecordCall(r.tool, r.args)
	res := d.tools.Invoke(ctx, r.tool, r.args)
	out.RecordResult(r.tool, res.Value())

	if !res.OK() {
		log.Info("fast path tool failed", "err", res.Err)
		out.Answer = apology(r, res.Err)
		return out, true
	}

	switch r.style {
	case styleArithmetic:
		out.Answer = arithmetic(res)
	case stylePhrase:
		if skipModel(res.Payload) {
			out.Answer = fallback(res)
			break
		}
		out.Answer = d.phrase(ctx, r, res, utterance)
	default:
		out.Answer = fallback(res)
	}
	log.Debug("fast path answered", "duration", res.Duration)
	return out, true
}

// plan maps signals to a route. Exactly one fast-path group (arithmetic,
// transcript, weather) may be set, and no domain without a fast path.
func plan(sig intent.Signals) (route, bool) {
	if sig.TranscriptList || sig.Issues || sig.Chat || sig.SCM || sig.Documents {
		return route{}, false
	}
	transcriptSet := sig.TranscriptSearch || sig.TranscriptMention || sig.TranscriptFetch
	groups := 0
	for _, set := range []bool{sig.Calculator, transcriptSet, sig.Weather} {
		if set {
			groups++
		}
	}
	if groups != 1 {
		return route{}, false
	}

	switch {
	case sig.Calculator:
		if sig.Expression == "" {
			return route{}, false
		}
		return route{
			domain: intent.Calculator,
			tool:   calculator.ToolName,
			args:   map[string]any{"expression": sig.Expression},
			style:  styleArithmetic,
		}, true
	case transcriptSet:
		return planTranscript(sig)
	default:
		if sig.City == "" {
			return route{}, false
		}
		return route{
			domain: intent.Weather,
			tool:   weather.ToolName,
			args:   map[string]any{"city": sig.City},
			style:  stylePhrase,
			prompt: weatherPrompt,
		}, true
	}
}

// planTranscript picks search over mention over fetch, skipping variants
// whose parameters were not extracted. A summary request that names a file
// but no keyword ("summarize q3.json") summarizes the whole transcript.
func planTranscript(sig intent.Signals) (route, bool) {
	keywordArgs := func() map[string]any {
		args := map[string]any{"keyword": sig.Keyword}
		if sig.Filename != "" {
			args["filename"] = sig.Filename
		}
		return args
	}
	switch {
	case sig.TranscriptSearch && sig.Keyword != "":
		return route{
			domain: intent.TranscriptSearch,
			tool:   transcript.SearchToolName,
			args:   keywordArgs(),
			style:  styleTemplate,
		}, true
	case sig.TranscriptMention && sig.Keyword != "":
		return route{
			domain: intent.TranscriptMention,
			tool:   transcript.MentionsToolName,
			args:   keywordArgs(),
			style:  stylePhrase,
			prompt: mentionPrompt,
		}, true
	case (sig.TranscriptMention || sig.TranscriptFetch) && sig.Filename != "":
		return route{
			domain: intent.TranscriptFetch,
			tool:   transcript.GetToolName,
			args:   map[string]any{"filename": sig.Filename},
			style:  stylePhrase,
			prompt: documentPrompt,
		}, true
	}
	return route{}, false
}

// phrase makes the one supplementary model call. Any failure, timeout or
// empty reply falls back to the template.
func (d *Dispatcher) phrase(ctx context.Context, r route, res tool.Result, utterance string) string {
	if d.model == nil {
		return fallback(res)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	resp, err := d.model.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: r.prompt,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Question: %s\n\nData:\n%s", utterance, res.JSON()),
		}},
		Temperature: 0.3,
	})
	ok := err == nil && resp != nil && strings.TrimSpace(resp.Content) != ""
	if d.metrics != nil {
		d.metrics.RecordModelCall(ctx, "fastpath", err == nil, time.Since(start))
	}
	if !ok {
		observe.Logger(ctx).Warn("fast path phrasing failed, using template", "tool", r.tool, "err", err)
		return fallback(res)
	}
	return strings.TrimSpace(resp.Content)
}

// skipModel reports payloads with nothing to summarize.
func skipModel(payload any) bool {
	if m, ok := payload.(*transcript.MentionResult); ok {
		return m.Count == 0
	}
	return false
}

// arithmetic renders "Result: <value>". It depends only on the calculator
// result.
func arithmetic(res tool.Result) string {
	switch p := res.Payload.(type) {
	case calculator.Result:
		return "Result: " + calculator.Format(p.Result)
	case *calculator.Result:
		return "Result: " + calculator.Format(p.Result)
	case map[string]any:
		if v, ok := p["result"].(float64); ok {
			return "Result: " + calculator.Format(v)
		}
	}
	return "Result: " + fallback(res)
}

type summarizer interface {
	Summary() string
}

// fallback is the deterministic template answer for a successful result.
func fallback(res tool.Result) string {
	if s, ok := res.Payload.(summarizer); ok {
		return s.Summary()
	}
	if s, ok := res.Payload.(string); ok {
		return s
	}
	b, err := json.MarshalIndent(res.Payload, "", "  ")
	if err != nil {
		return res.JSON()
	}
	return string(b)
}

// apology turns a tool failure into a user-readable answer.
func apology(r route, reason string) string {
	reason = strings.TrimSuffix(reason, ".")
	switch r.domain {
	case intent.Calculator:
		return fmt.Sprintf("Sorry, I couldn't calculate %v: %s.", r.args["expression"], reason)
	case intent.Weather:
		return fmt.Sprintf("Sorry, I couldn't get the weather for %v: %s.", r.args["city"], reason)
	case intent.TranscriptFetch:
		return fmt.Sprintf("Sorry, I couldn't open the transcript %v: %s.", r.args["filename"], reason)
	default:
		return fmt.Sprintf("Sorry, I couldn't search the transcripts for %q: %s.", r.args["keyword"], reason)
	}
}
