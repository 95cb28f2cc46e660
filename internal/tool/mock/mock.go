// Package mock provides a recording test double for the tool invoker used by
// the fast-path dispatcher and the tool-calling loop.
//
//	inv := &mock.Invoker{Results: map[string]tool.Result{
//	    "calculate": {Payload: map[string]any{"result": 14.0}},
//	}}
//	// inject inv ...
//	if got := inv.CallCount("calculate"); got != 1 { ... }
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/toolweave/internal/tool"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// Call records one Invoke.
type Call struct {
	Name string
	Args any
}

// Invoker is a configurable stand-in for *tool.Registry.
type Invoker struct {
	mu sync.Mutex

	// Defs is returned by Definitions.
	Defs []llm.ToolDefinition

	// Results maps tool names to canned results. Names without an entry
	// produce an "unknown tool" error result.
	Results map[string]tool.Result

	calls []Call
}

// Invoke records the call and returns the canned result for name.
func (m *Invoker) Invoke(_ context.Context, name string, args any) tool.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Name: name, Args: args})
	r, ok := m.Results[name]
	if !ok {
		return tool.Result{Name: name, Err: tool.UnknownToolReason}
	}
	r.Name = name
	return r
}

// Definitions returns Defs.
func (m *Invoker) Definitions() []llm.ToolDefinition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.ToolDefinition(nil), m.Defs...)
}

// Describe lists Defs one per line.
func (m *Invoker) Describe() string {
	var sb strings.Builder
	for _, d := range m.Definitions() {
		fmt.Fprintf(&sb, "- %s: %s\n", d.Name, d.Description)
	}
	return sb.String()
}

// Calls returns a copy of every recorded invocation.
func (m *Invoker) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns how often name was invoked.
func (m *Invoker) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}
