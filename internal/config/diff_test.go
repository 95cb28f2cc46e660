package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/toolweave/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo, ChunkSize: 20},
		LLM:    config.LLMConfig{ProviderEntry: config.ProviderEntry{Name: "ollama", Model: "llama3.1"}},
		Tools:  config.ToolsConfig{Disabled: []string{"send_chat_message"}},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level is hot-reloadable, got RestartRequired=%v", d.RestartRequired)
	}
}

func TestDiff_ChunkingChanged(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Server.ChunkSize = 40
	new.Server.ChunkDelay = 10 * time.Millisecond

	d := config.Diff(old, new)
	if !d.ChunkingChanged {
		t.Fatal("expected ChunkingChanged=true")
	}
	if d.NewChunkSize != 40 || d.NewChunkDelay != 10*time.Millisecond {
		t.Errorf("got size=%d delay=%s", d.NewChunkSize, d.NewChunkDelay)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   []string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9090" }, []string{"server"}},
		{"model", func(c *config.Config) { c.LLM.Model = "qwen2.5" }, []string{"llm"}},
		{"budget", func(c *config.Config) { c.Engine.IterationBudget = 2 }, []string{"engine"}},
		{"disabled tools", func(c *config.Config) { c.Tools.Disabled = nil }, []string{"tools"}},
		{"history", func(c *config.Config) { c.History.Backend = config.HistoryMemory }, []string{"history"}},
		{
			"several",
			func(c *config.Config) {
				c.LLM.Temperature = 0.2
				c.MCP.Servers = []config.MCPServerConfig{{Name: "x"}}
			},
			[]string{"llm", "mcp"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			new := baseConfig()
			tt.mutate(new)
			d := config.Diff(baseConfig(), new)
			if !slices.Equal(d.RestartRequired, tt.want) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.want)
			}
		})
	}
}
