package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       llm.Message
		wantName string
		wantCall int
	}{
		{name: "user", in: llm.Message{Role: llm.RoleUser, Content: "hi"}},
		{
			name:     "tool result keeps tool name",
			in:       llm.Message{Role: llm.RoleTool, Content: `{"result":14}`, Name: "calculate", ToolCallID: "call_1"},
			wantName: "calculate",
		},
		{
			name:     "assistant with tool call",
			in:       llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "calculate", Arguments: `{}`}}},
			wantCall: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := convertMessage(tt.in)
			if got.Role != tt.in.Role {
				t.Errorf("Role = %q, want %q", got.Role, tt.in.Role)
			}
			if got.ContentString() != tt.in.Content {
				t.Errorf("Content = %q, want %q", got.ContentString(), tt.in.Content)
			}
			if got.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", got.Name, tt.wantName)
			}
			if len(got.ToolCalls) != tt.wantCall {
				t.Fatalf("ToolCalls = %d, want %d", len(got.ToolCalls), tt.wantCall)
			}
			if tt.wantCall > 0 && got.ToolCalls[0].Type != "function" {
				t.Errorf("Type = %q, want function", got.ToolCalls[0].Type)
			}
		})
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		backend, model string
		wantTools      bool
	}{
		{"ollama", "llama3.2", true},
		{"ollama", "gemma2", false},
		{"openai", "gpt-4o", true},
		{"openai", "o1-mini", false},
		{"anthropic", "claude-3-5-haiku-latest", true},
	}
	for _, tt := range tests {
		t.Run(tt.backend+"/"+tt.model, func(t *testing.T) {
			t.Parallel()
			p := &Provider{backendName: tt.backend, model: tt.model}
			if got := p.Capabilities().SupportsToolCalling; got != tt.wantTools {
				t.Errorf("SupportsToolCalling = %v, want %v", got, tt.wantTools)
			}
		})
	}
}

func TestBuildParams_DropsToolsWithoutSupport(t *testing.T) {
	t.Parallel()

	req := llm.CompletionRequest{
		SystemPrompt: "sys",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Tools:        []llm.ToolDefinition{{Name: "calculate"}},
		Temperature:  0.2,
	}

	p := &Provider{backendName: "ollama", model: "gemma2"}
	params := p.buildParams(req)
	if len(params.Tools) != 0 {
		t.Errorf("Tools = %d, want 0 for gemma2", len(params.Tools))
	}
	if len(params.Messages) != 2 {
		t.Errorf("Messages = %d, want 2", len(params.Messages))
	}
	if params.Temperature == nil || *params.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", params.Temperature)
	}

	p = &Provider{backendName: "openai", model: "gpt-4o"}
	if got := len(p.buildParams(req).Tools); got != 1 {
		t.Errorf("Tools = %d, want 1 for gpt-4o", got)
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New("", "m"); err == nil {
		t.Error("expected error for empty provider name")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "m", anyllmlib.WithAPIKey("x")); err == nil {
		t.Error("expected error for unsupported provider")
	}
	p, err := New("Ollama", "llama3.1")
	if err != nil {
		t.Fatalf("ollama without key: %v", err)
	}
	if p.backendName != "ollama" {
		t.Errorf("backendName = %q, want ollama", p.backendName)
	}
}
