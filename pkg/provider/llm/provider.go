// Package llm defines the Provider interface for the language-model backends
// that drive the tool-calling loop.
//
// A provider wraps a local or remote chat API (a native Ollama server, an
// OpenAI-compatible endpoint, or any backend reachable through any-llm-go) and
// exposes a single request/response exchange. The engine never streams tokens
// from the backend: the answer is chunked by the stream package after the
// model has finished, so Complete is the only exchange a provider implements.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries one model exchange.
type CompletionRequest struct {
	// Messages is the ordered conversation. It must be non-empty.
	Messages []Message

	// Tools is the set of tool schemas offered to the model. Providers whose
	// model does not support native tool calling ignore this field; callers
	// check Capabilities().SupportsToolCalling before populating it.
	Tools []ToolDefinition

	// Temperature controls output randomness. Zero requests the provider
	// default.
	Temperature float64

	// MaxTokens caps the number of generated tokens. Zero means provider default.
	MaxTokens int

	// SystemPrompt is prepended as a "system" message when non-empty.
	SystemPrompt string
}

// CompletionResponse is the model's reply to a [CompletionRequest].
type CompletionResponse struct {
	// Content is the assistant text. Empty when the model replied with tool
	// calls only.
	Content string

	// ToolCalls lists structured tool invocations requested by the model.
	// Absent for models that can only request tools through text.
	ToolCalls []ToolCall

	Usage Usage
}

// Provider is the abstraction over any chat model backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response. An error
	// is returned for transport failures, timeouts, and malformed responses.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() ModelCapabilities
}

// Pinger is implemented by providers that can cheaply check backend
// reachability. It backs the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}
