package resilience

import (
	"context"

	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

var (
	_ llm.Provider = (*LLMFallback)(nil)
	_ llm.Pinger   = (*LLMFallback)(nil)
)

// LLMFallback is an [llm.Provider] that fails over across model backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// NewLLMFallback creates an LLMFallback with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.Add(name, p)
}

// Complete sends req to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Do(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities reports the primary's capabilities. A fallback with weaker
// tool support still receives the textual grammar in the system prompt.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.Primary().Capabilities()
}

// Ping succeeds when any backend that implements [llm.Pinger] answers.
// Backends without a ping are assumed reachable.
func (f *LLMFallback) Ping(ctx context.Context) error {
	_, err := Do(ctx, f.group, func(ctx context.Context, p llm.Provider) (struct{}, error) {
		if pinger, ok := p.(llm.Pinger); ok {
			return struct{}{}, pinger.Ping(ctx)
		}
		return struct{}{}, nil
	})
	return err
}
