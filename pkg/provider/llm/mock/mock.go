// Package mock provides a scripted test double for the llm.Provider interface.
//
// Responses are consumed in order, one per Complete call. Once the script is
// exhausted the last entry is repeated, which makes "the model always asks for
// a tool" scenarios a one-liner:
//
//	p := &mock.Provider{Script: []mock.Reply{
//	    {Response: &llm.CompletionResponse{ToolCalls: []llm.ToolCall{{Name: "calculate"}}}},
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// Reply is one scripted answer to Complete.
type Reply struct {
	Response *llm.CompletionResponse
	Err      error
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Script is the ordered list of replies. An empty script returns an empty
	// response.
	Script []Reply

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// PingErr is returned by Ping.
	PingErr error

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns the next scripted reply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req.Messages = append([]llm.Message(nil), req.Messages...)
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	if len(p.Script) == 0 {
		return &llm.CompletionResponse{}, nil
	}
	idx := min(len(p.CompleteCalls)-1, len(p.Script)-1)
	r := p.Script[idx]
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Response == nil {
		return &llm.CompletionResponse{}, nil
	}
	resp := *r.Response
	return &resp, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Ping returns PingErr.
func (p *Provider) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PingErr
}

// Calls returns a snapshot of the recorded Complete calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CompleteCall(nil), p.CompleteCalls...)
}

var (
	_ llm.Provider = (*Provider)(nil)
	_ llm.Pinger   = (*Provider)(nil)
)
