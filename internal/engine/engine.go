// Package engine runs one chat exchange end to end: classify the utterance,
// try a fast path, otherwise run the tool-calling loop, and record the
// exchange in the session history.
//
// An exchange is one sequential flow. It detaches from the caller's
// cancellation ([context.WithoutCancel]) so that a client that disconnects
// mid-stream does not abort tool or model calls already in flight; the
// transport simply stops writing.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/toolweave/internal/fastpath"
	"github.com/MrWong99/toolweave/internal/history"
	"github.com/MrWong99/toolweave/internal/intent"
	"github.com/MrWong99/toolweave/internal/observe"
	"github.com/MrWong99/toolweave/internal/orchestrator"
	"github.com/MrWong99/toolweave/internal/stream"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// ErrEmptyMessage is returned for a request without a message.
var ErrEmptyMessage = errors.New("engine: message must not be empty")

// ModelFailureMessage is streamed as the error event when the model backend
// fails.
const ModelFailureMessage = "Sorry, the language model is not reachable right now. Please try again in a moment."

const defaultHistoryLimit = 20

// Request is one user turn.
type Request struct {
	// SessionID selects the persisted conversation. When empty and a history
	// store is configured, a new session is started.
	SessionID string `json:"session_id,omitempty"`

	Message string `json:"message"`

	// History is the prior conversation supplied by the client. When empty,
	// the persisted session is loaded instead.
	History []llm.Message `json:"history,omitempty"`
}

// Path names how an exchange was answered.
type Path string

const (
	PathFastPath Path = "fastpath"
	PathLoop     Path = "loop"
)

// Reply is the result of one exchange.
type Reply struct {
	SessionID string
	Path      Path
	Signals   intent.Signals
	Outcome   stream.Outcome
}

// Exchanger answers chat requests. *Engine implements it.
type Exchanger interface {
	Exchange(ctx context.Context, req Request) (*Reply, error)
}

var _ Exchanger = (*Engine)(nil)

// Engine wires the classifier, the fast path, the loop and the history
// store. It is safe for concurrent use.
type Engine struct {
	classifier   *intent.Classifier
	fast         *fastpath.Dispatcher
	loop         *orchestrator.Loop
	history      history.Store
	historyLimit int
	metrics      *observe.Metrics
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithHistory persists exchanges in s.
func WithHistory(s history.Store) Option {
	return func(e *Engine) { e.history = s }
}

// WithHistoryLimit caps how many persisted turns are loaded per request.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

// WithClassifier replaces the default rule set.
func WithClassifier(c *intent.Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithMetrics records exchange latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine.
func New(fast *fastpath.Dispatcher, loop *orchestrator.Loop, opts ...Option) *Engine {
	e := &Engine{
		classifier:   intent.New(intent.DefaultRules()),
		fast:         fast,
		loop:         loop,
		historyLimit: defaultHistoryLimit,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Exchange answers req. The only error is [ErrEmptyMessage]; every other
// failure is part of the reply's outcome.
func (e *Engine) Exchange(ctx context.Context, req Request) (*Reply, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "engine.exchange")
	defer span.End()

	reply := &Reply{SessionID: req.SessionID}
	if e.history != nil && reply.SessionID == "" {
		reply.SessionID = uuid.NewString()
	}
	log := observe.Logger(ctx).With("session_id", reply.SessionID)

	past := e.pastTurns(ctx, reply.SessionID, req.History)
	reply.Signals = e.classifier.Classify(message)
	log.Debug("utterance classified", "domains", reply.Signals.Domains())

	if out, ok := e.fast.Try(ctx, reply.Signals, message); ok {
		reply.Path = PathFastPath
		reply.Outcome = *out
	} else {
		reply.Path = PathLoop
		out, err := e.loop.Run(ctx, reply.Signals, past, message)
		if out != nil {
			reply.Outcome = *out
		}
		if err != nil {
			log.Error("exchange failed", "err", err)
			reply.Outcome.Answer = ""
			reply.Outcome.Failure = ModelFailureMessage
		}
	}

	span.SetAttributes(
		observe.Attr("session_id", reply.SessionID),
		observe.Attr("path", string(reply.Path)),
	)
	if reply.Outcome.Failure != "" {
		span.SetStatus(codes.Error, "model backend failure")
	}

	e.record(ctx, reply, message)
	if e.metrics != nil {
		e.metrics.RecordChat(ctx, string(reply.Path), time.Since(start))
	}
	log.Info("exchange finished",
		"path", reply.Path,
		"tools", len(reply.Outcome.Events)/2,
		"failed", reply.Outcome.Failure != "",
		"duration", time.Since(start),
	)
	return reply, nil
}

// pastTurns returns the client-supplied history or, when there is none, the
// persisted session.
func (e *Engine) pastTurns(ctx context.Context, sessionID string, supplied []llm.Message) []llm.Message {
	if len(supplied) > 0 || e.history == nil || sessionID == "" {
		return supplied
	}
	entries, err := e.history.Load(ctx, sessionID, e.historyLimit)
	if err != nil {
		observe.Logger(ctx).Warn("load history failed", "session_id", sessionID, "err", err)
		return nil
	}
	return history.Messages(entries)
}

// record appends the user turn and, unless the exchange failed, the answer.
func (e *Engine) record(ctx context.Context, reply *Reply, message string) {
	if e.history == nil {
		return
	}
	entries := []history.Entry{{Role: llm.RoleUser, Content: message}}
	if reply.Outcome.Failure == "" {
		entries = append(entries, history.Entry{Role: llm.RoleAssistant, Content: reply.Outcome.Answer})
	}
	if err := e.history.Append(ctx, reply.SessionID, entries...); err != nil {
		observe.Logger(ctx).Warn("append history failed", "session_id", reply.SessionID, "err", err)
	}
}
