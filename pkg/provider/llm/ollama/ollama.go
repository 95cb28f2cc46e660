// Package ollama provides an llm.Provider that talks to a local Ollama server
// through its native /api/chat endpoint.
//
// The request shape is exactly the one the engine reasons about: a model name,
// the message list, optional tool schemas and sampling options. Models without
// native tool support never receive tool schemas; the tool-calling loop falls
// back to the textual [TOOL_CALL: ...] grammar for them.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// DefaultBaseURL is the address of a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

var (
	_ llm.Provider = (*Provider)(nil)
	_ llm.Pinger   = (*Provider)(nil)
)

// Provider implements llm.Provider on top of the Ollama API client.
// It is safe for concurrent use.
type Provider struct {
	client *api.Client
	model  string

	options   map[string]any
	toolsFlag *bool
}

type config struct {
	timeout   time.Duration
	options   map[string]any
	toolsFlag *bool
}

// Option configures a [Provider].
type Option func(*config)

// WithTimeout bounds every HTTP exchange with the server.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithOptions sets model options (num_ctx, seed, ...) sent with every request.
func WithOptions(opts map[string]any) Option {
	return func(c *config) { c.options = opts }
}

// WithToolSupport overrides the built-in tool-capability table for the model.
func WithToolSupport(supported bool) Option {
	return func(c *config) { c.toolsFlag = &supported }
}

// New creates a Provider for model served at baseURL. An empty baseURL uses
// [DefaultBaseURL].
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid base URL %q: %w", baseURL, err)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	hc := &http.Client{Timeout: cfg.timeout}

	return &Provider{
		client:    api.NewClient(u, hc),
		model:     model,
		options:   cfg.options,
		toolsFlag: cfg.toolsFlag,
	}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var (
		content strings.Builder
		calls   []api.ToolCall
		usage   llm.Usage
	)
	err = p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		calls = append(calls, resp.Message.ToolCalls...)
		if resp.Done {
			usage.PromptTokens = resp.PromptEvalCount
			usage.CompletionTokens = resp.EvalCount
			usage.TotalTokens = resp.PromptEvalCount + resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: chat: %w", err)
	}

	out := &llm.CompletionResponse{Content: content.String(), Usage: usage}
	for _, c := range calls {
		args, err := json.Marshal(c.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("ollama: encode arguments of %q: %w", c.Function.Name, err)
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        "call_" + uuid.NewString(),
			Name:      c.Function.Name,
			Arguments: string(args),
		})
	}
	return out, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	supported := SupportsTools(p.model)
	if p.toolsFlag != nil {
		supported = *p.toolsFlag
	}
	return llm.ModelCapabilities{
		ContextWindow:       8_192,
		MaxOutputTokens:     2_048,
		SupportsToolCalling: supported,
	}
}

// Ping implements llm.Pinger.
func (p *Provider) Ping(ctx context.Context) error {
	if err := p.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama: heartbeat: %w", err)
	}
	return nil
}

func (p *Provider) buildRequest(req llm.CompletionRequest) (*api.ChatRequest, error) {
	stream := false
	chatReq := &api.ChatRequest{
		Model:   p.model,
		Stream:  &stream,
		Options: map[string]any{},
	}
	for k, v := range p.options {
		chatReq.Options[k] = v
	}
	if req.Temperature != 0 {
		chatReq.Options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = req.MaxTokens
	}

	if req.SystemPrompt != "" {
		chatReq.Messages = append(chatReq.Messages, api.Message{Role: llm.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return nil, err
		}
		chatReq.Messages = append(chatReq.Messages, msg)
	}

	if len(req.Tools) > 0 && p.Capabilities().SupportsToolCalling {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		chatReq.Tools = tools
	}
	return chatReq, nil
}

// convertMessage maps an llm.Message onto the Ollama wire type. Tool calls go
// through JSON so the conversion does not depend on how a given api release
// represents argument maps.
func convertMessage(m llm.Message) (api.Message, error) {
	msg := api.Message{Role: m.Role, Content: m.Content}
	if m.Role == llm.RoleTool {
		msg.ToolName = m.Name
	}
	if len(m.ToolCalls) == 0 {
		return msg, nil
	}

	type wireFunction struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	type wireCall struct {
		Function wireFunction `json:"function"`
	}
	wire := make([]wireCall, 0, len(m.ToolCalls))
	for _, tc := range m.ToolCalls {
		args := json.RawMessage(tc.Arguments)
		if !json.Valid(args) || !strings.HasPrefix(strings.TrimSpace(tc.Arguments), "{") {
			args = json.RawMessage("{}")
		}
		wire = append(wire, wireCall{Function: wireFunction{Name: tc.Name, Arguments: args}})
	}
	b, err := json.Marshal(wire)
	if err != nil {
		return api.Message{}, fmt.Errorf("ollama: encode tool calls: %w", err)
	}
	if err := json.Unmarshal(b, &msg.ToolCalls); err != nil {
		return api.Message{}, fmt.Errorf("ollama: decode tool calls: %w", err)
	}
	return msg, nil
}

func convertTools(defs []llm.ToolDefinition) (api.Tools, error) {
	wire := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		params := d.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		wire = append(wire, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  params,
			},
		})
	}
	b, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("ollama: encode tools: %w", err)
	}
	var tools api.Tools
	if err := json.Unmarshal(b, &tools); err != nil {
		return nil, fmt.Errorf("ollama: decode tools: %w", err)
	}
	return tools, nil
}
