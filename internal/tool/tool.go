// Package tool implements the tool registry: the closed mapping from a
// canonical tool name to the adapter that serves it.
//
// Every tool the engine can run, whether an in-process adapter or a tool
// imported from an external MCP server, is registered once at startup. The
// registry is then frozen and shared read-only across requests. [Registry.Invoke]
// never returns a Go error: unknown names, malformed arguments, adapter
// failures and timeouts all come back as an error [Result].
package tool

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// SideEffect classifies what invoking a tool does to the outside world.
type SideEffect int

const (
	// SideEffectRead tools only fetch data and are safe to probe.
	SideEffectRead SideEffect = iota
	// SideEffectWrite tools create or change external state.
	SideEffectWrite
)

// String returns "read" or "write".
func (s SideEffect) String() string {
	if s == SideEffectWrite {
		return "write"
	}
	return "read"
}

// Handler executes a tool. args has already been coerced, defaulted and
// validated against the tool's schema. The returned value must be JSON
// encodable.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is a registrable tool: its model-facing schema plus the handler.
type Tool struct {
	Definition llm.ToolDefinition
	Handler    Handler
	SideEffect SideEffect

	// Timeout bounds one invocation. Zero uses the registry default.
	Timeout time.Duration
}

// Result is the outcome of one invocation.
type Result struct {
	CallID string
	Name   string

	// Payload is the adapter's success value. Nil when Err is set.
	Payload any

	// Err is the human-readable failure reason. Empty on success.
	Err string

	Duration time.Duration
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool { return r.Err == "" }

// Value returns the payload, or {"error": reason} for failed invocations.
func (r Result) Value() any {
	if !r.OK() {
		return map[string]any{"error": r.Err}
	}
	return r.Payload
}

// JSON renders [Result.Value] as compact JSON, the form fed back to the model.
func (r Result) JSON() string {
	b, err := json.Marshal(r.Value())
	if err != nil {
		b, _ = json.Marshal(map[string]any{"error": "unencodable tool result: " + err.Error()})
	}
	return string(b)
}

// errorResult builds a failed Result.
func errorResult(name, reason string) Result {
	return Result{Name: name, Err: reason}
}
