// Package orchestrator runs the bounded tool-calling loop: the model is
// asked for an answer, any tool it requests is executed through the
// registry and fed back, and the exchange repeats until the model answers
// in plain text or the iteration budget runs out.
//
// The model may request tools natively (structured ToolCalls) or, when it
// lacks native support, through the textual grammar
//
//	[TOOL_CALL: name {json-args}]
//
// Both forms are normalised to [llm.ToolCall] before dispatch. Every exit
// yields exactly one answer; only a model backend failure is surfaced as an
// error ([ErrModelBackend]).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/toolweave/internal/intent"
	"github.com/MrWong99/toolweave/internal/observe"
	"github.com/MrWong99/toolweave/internal/stream"
	"github.com/MrWong99/toolweave/internal/tool"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// ErrModelBackend wraps every failed model call. It is terminal for the
// request.
var ErrModelBackend = errors.New("orchestrator: model backend failed")

// DefaultBudget is the default number of model turns per request.
const DefaultBudget = 5

// NoResponseMessage is the answer when the model produced nothing usable and
// no tool ran.
const NoResponseMessage = "Sorry, I didn't get a response to that. Please try rephrasing your question."

// Registry is the part of *tool.Registry the loop needs.
type Registry interface {
	Invoke(ctx context.Context, name string, args any) tool.Result
	Definitions() []llm.ToolDefinition
	Describe() string
}

// Loop executes tool-calling exchanges. It holds no per-request state and is
// safe for concurrent use.
type Loop struct {
	model       llm.Provider
	tools       Registry
	budget      int
	temperature float64
	maxTokens   int
	metrics     *observe.Metrics
}

// Option is a functional option for configuring a [Loop].
type Option func(*Loop)

// WithBudget sets the maximum number of model turns. Values below 1 are
// ignored.
func WithBudget(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.budget = n
		}
	}
}

// WithTemperature sets the sampling temperature sent with each request.
func WithTemperature(t float64) Option {
	return func(l *Loop) { l.temperature = t }
}

// WithMaxTokens caps the tokens generated per model turn.
func WithMaxTokens(n int) Option {
	return func(l *Loop) { l.maxTokens = n }
}

// WithMetrics records model calls and iteration counts on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// New creates a Loop driving model with the tools in reg.
func New(model llm.Provider, reg Registry, opts ...Option) *Loop {
	l := &Loop{
		model:  model,
		tools:  reg,
		budget: DefaultBudget,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run answers utterance given the prior conversation in history.
//
// With no classifier signal the model gets neither tool schemas nor the tool
// system prompt, and any tool request it makes anyway is ignored. On a model
// failure the returned outcome holds the tool events recorded so far and the
// error wraps [ErrModelBackend].
func (l *Loop) Run(ctx context.Context, sig intent.Signals, history []llm.Message, utterance string) (*stream.Outcome, error) {
	log := observe.Logger(ctx)
	useTools := sig.Any()

	msgs := make([]llm.Message, 0, len(history)+1+2*l.budget)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: utterance})

	var system string
	if useTools {
		system = SystemPrompt(l.tools.Describe(), sig.Domains())
	}
	native := useTools && l.model.Capabilities().SupportsToolCalling

	out := &stream.Outcome{}
	var last *tool.Result
	iterations := 0
	defer func() {
		if l.metrics != nil {
			l.metrics.LoopIterations.Record(ctx, int64(iterations))
		}
	}()

	for iterations < l.budget {
		iterations++
		req := llm.CompletionRequest{
			Messages:     msgs,
			SystemPrompt: system,
			Temperature:  l.temperature,
			MaxTokens:    l.maxTokens,
		}
		// Schemas only on the first turn; afterwards the model is expected
		// to answer from the tool results.
		if native && iterations == 1 {
			req.Tools = l.tools.Definitions()
		}

		resp, err := l.complete(ctx, req)
		if err != nil {
			log.Error("model call failed", "iteration", iterations, "err", err)
			return out, fmt.Errorf("%w: %w", ErrModelBackend, err)
		}

		calls, content := detect(resp)
		if !useTools {
			calls = nil
		}
		if len(calls) == 0 {
			if content != "" {
				out.Answer = content
				log.Debug("loop answered", "iteration", iterations, "tools_fired", out.ToolsFired())
				return out, nil
			}
			log.Warn("model returned no content and no tool request", "iteration", iterations)
			break
		}

		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: calls})
		for _, c := range calls {
			params := decodeArgs(c.Arguments)
			out.RecordCall(c.Name, params)
			res := l.tools.Invoke(ctx, c.Name, params)
			res.CallID = c.ID
			out.RecordResult(c.Name, res.Value())
			msgs = append(msgs, llm.Message{
				Role:       llm.RoleTool,
				Name:       c.Name,
				ToolCallID: c.ID,
				Content:    res.JSON(),
			})
			last = &res
			log.Debug("tool executed", "iteration", iterations, "tool", c.Name, "ok", res.OK(), "duration", res.Duration)
		}
	}

	out.Answer = exhausted(last)
	log.Info("loop ended without an answer", "iterations", iterations, "tools_fired", out.ToolsFired())
	return out, nil
}

func (l *Loop) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := l.model.Complete(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if l.metrics != nil {
		l.metrics.RecordModelCall(ctx, "loop", err == nil, time.Since(start))
	}
	return resp, err
}

// exhausted builds the answer for a loop that ended without content.
func exhausted(last *tool.Result) string {
	if last == nil {
		return NoResponseMessage
	}
	return fmt.Sprintf("I couldn't put together a full answer, but here is the latest result from %s:\n%s", last.Name, last.JSON())
}

// SystemPrompt briefs the model on the available tools and both ways of
// calling them. domains lists what the classifier detected.
func SystemPrompt(listing string, domains []intent.Domain) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant that can use tools to answer the user.\n\n")
	b.WriteString("Available tools:\n")
	b.WriteString(strings.TrimRight(listing, "\n"))
	b.WriteString("\n\n")
	b.WriteString("Call a tool through your native tool-calling interface when you have one. ")
	b.WriteString("Otherwise write each call on its own line in exactly this form and nothing else:\n")
	b.WriteString(`[TOOL_CALL: tool_name {"parameter": "value"}]`)
	b.WriteString("\n\nThe arguments must be a single JSON object. ")
	b.WriteString("Once you have the tool results, answer in plain language without any TOOL_CALL syntax.")
	if len(domains) > 0 {
		names := make([]string, len(domains))
		for i, d := range domains {
			names[i] = string(d)
		}
		b.WriteString("\n\nThe question most likely involves: ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString(".")
	}
	return b.String()
}
