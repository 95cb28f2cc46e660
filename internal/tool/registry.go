package tool

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/toolweave/internal/observe"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// ErrFrozen is returned when registering tools after [Registry.Freeze].
var ErrFrozen = errors.New("tool: registry is frozen")

// UnknownToolReason is the error reason returned for names that are not
// registered.
const UnknownToolReason = "unknown tool"

const defaultTimeout = 10 * time.Second

type entry struct {
	tool   Tool
	server string
	window *rollingWindow
}

// Registry maps tool names to handlers. Register everything at startup, call
// [Registry.Freeze], then share the registry across requests.
//
// The zero value is not usable; create instances with [New].
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	frozen  bool

	servers map[string]*mcpsdk.ClientSession
	client  *mcpsdk.Client

	defaultTimeout time.Duration
	observe        func(ctx context.Context, r Result)
}

// Option configures a [Registry].
type Option func(*Registry)

// WithDefaultTimeout sets the timeout for tools that do not declare one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.defaultTimeout = d
		}
	}
}

// WithObserver installs a callback run after every invocation, typically a
// metrics recorder.
func WithObserver(fn func(ctx context.Context, r Result)) Option {
	return func(r *Registry) { r.observe = fn }
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries:        make(map[string]*entry),
		servers:        make(map[string]*mcpsdk.ClientSession),
		defaultTimeout: defaultTimeout,
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "toolweave", Version: "1.0.0"},
			nil,
		),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds in-process tools. Names must be unique.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if err := r.addLocked(t, ""); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) addLocked(t Tool, server string) error {
	if r.frozen {
		return ErrFrozen
	}
	name := t.Definition.Name
	if name == "" {
		return fmt.Errorf("tool: tool must have a non-empty name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool: tool %q must have a non-nil handler", name)
	}
	if _, dup := r.entries[name]; dup {
		return fmt.Errorf("tool: tool %q already registered", name)
	}
	if t.Definition.Parameters == nil {
		t.Definition.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	r.entries[name] = &entry{tool: t, server: server, window: newRollingWindow(defaultWindowSize)}
	r.order = append(r.order, name)
	return nil
}

// Freeze makes the registry immutable. Further registration fails with
// [ErrFrozen].
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Tool{}, false
	}
	return e.tool, true
}

// Definitions returns the schemas of all tools in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.entries[name].tool.Definition)
	}
	return defs
}

// Describe renders a human-readable tool listing, one line per tool with its
// parameters, for use in a system prompt.
func (r *Registry) Describe() string {
	var sb strings.Builder
	for _, def := range r.Definitions() {
		fmt.Fprintf(&sb, "- %s(%s): %s\n", def.Name, paramSummary(def.Parameters), def.Description)
	}
	return sb.String()
}

func paramSummary(schema map[string]any) string {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return ""
	}
	required := requiredParams(schema)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sortParams(names, required)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		typ := "any"
		if p, ok := props[name].(map[string]any); ok {
			if t, ok := p["type"].(string); ok {
				typ = t
			}
		}
		opt := "?"
		if slices.Contains(required, name) {
			opt = ""
		}
		parts = append(parts, name+opt+": "+typ)
	}
	return strings.Join(parts, ", ")
}

// sortParams orders required parameters first, then alphabetically.
func sortParams(names, required []string) {
	slices.SortFunc(names, func(a, b string) int {
		ra, rb := slices.Contains(required, a), slices.Contains(required, b)
		switch {
		case ra && !rb:
			return -1
		case rb && !ra:
			return 1
		}
		return cmp.Compare(a, b)
	})
}

// Stats returns the rolling statistics of the named tool.
func (r *Registry) Stats(name string) (Stats, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	return e.window.stats(), true
}

// Invoke runs the named tool. It never returns a Go error and never panics
// past this boundary: every failure is an error [Result].
func (r *Registry) Invoke(ctx context.Context, name string, args any) (res Result) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "tool "+name, trace.WithAttributes(observe.Attr("tool", name)))
	defer func() {
		if p := recover(); p != nil {
			res = errorResult(name, fmt.Sprintf("tool panicked: %v", p))
		}
		res.Name = name
		res.Duration = time.Since(start)
		if !res.OK() {
			span.SetStatus(codes.Error, res.Err)
		}
		span.End()
		r.finish(ctx, res)
	}()

	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return errorResult(name, UnknownToolReason)
	}

	schema := e.tool.Definition.Parameters
	argMap, err := coerceArgs(args, schema)
	if err != nil {
		return errorResult(name, err.Error())
	}
	applyDefaults(argMap, schema)
	if err := validateArgs(argMap, schema); err != nil {
		return errorResult(name, err.Error())
	}

	timeout := e.tool.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := e.tool.Handler(callCtx, argMap)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return errorResult(name, fmt.Sprintf("%s timed out after %s", name, timeout))
		}
		return errorResult(name, err.Error())
	}
	return Result{Name: name, Payload: payload}
}

func (r *Registry) finish(ctx context.Context, res Result) {
	r.mu.RLock()
	e, ok := r.entries[res.Name]
	r.mu.RUnlock()
	if ok {
		e.window.record(res.Duration, !res.OK())
	}

	if res.OK() {
		slog.DebugContext(ctx, "tool invoked", "tool", res.Name, "duration", res.Duration)
	} else {
		slog.WarnContext(ctx, "tool failed", "tool", res.Name, "duration", res.Duration, "err", res.Err)
	}
	if r.observe != nil {
		r.observe(ctx, res)
	}
}

// Close disconnects every MCP server session.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, s := range r.servers {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tool: close server %q: %w", name, err))
		}
		delete(r.servers, name)
	}
	return errors.Join(errs...)
}
