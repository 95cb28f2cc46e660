package llm

// Roles used in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single turn of a conversation.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser], [RoleAssistant] or [RoleTool].
	Role string `json:"role"`

	Content string `json:"content"`

	// Name is the tool name for [RoleTool] messages.
	Name string `json:"name,omitempty"`

	// ToolCalls holds the tool invocations requested by an assistant turn.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a [RoleTool] message to the request it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Arguments is the JSON-encoded argument object.
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	// Parameters is the JSON Schema of the tool's input object.
	Parameters map[string]any `json:"parameters"`
}

// ModelCapabilities describes what a model supports.
type ModelCapabilities struct {
	ContextWindow       int
	MaxOutputTokens     int
	SupportsToolCalling bool
}
