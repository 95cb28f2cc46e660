package main

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/toolweave/internal/config"
)

const testConfigYAML = `
server:
  log_level: warn
llm:
  name: ollama
  model: llama3.2
  base_url: http://127.0.0.1:1
tools:
  weather:
    disabled: true
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAsk_Plain(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t), "ask", "--plain", "what is 2+3*4?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(out, "Result: 14") {
		t.Errorf("output = %q, want the calculator result", out)
	}
}

func TestAsk_Stream(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t), "ask", "what is 2+3*4?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	for _, want := range []string{`"type":"tool_call"`, `"type":"final_response"`, `"type":"done"`} {
		if !strings.Contains(out, want) {
			t.Errorf("stream missing %s:\n%s", want, out)
		}
	}
}

func TestTools(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t), "tools")
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	if !strings.Contains(out, "- calculate(") {
		t.Errorf("tools output missing calculator:\n%s", out)
	}
	if strings.Contains(out, "get_weather") {
		t.Errorf("disabled weather tool listed:\n%s", out)
	}
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "tools")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want a not-found error", err)
	}
}

func TestInvalidLogLevelFlag(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t), "--log-level", "loud", "tools")
	if err == nil || !strings.Contains(err.Error(), "--log-level") {
		t.Errorf("err = %v, want a log-level error", err)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	names := reg.LLMNames()
	for _, want := range config.ValidProviderNames {
		if !slices.Contains(names, want) {
			t.Errorf("provider %q not registered", want)
		}
	}

	p, err := reg.CreateLLM(config.ProviderEntry{
		Name:    "ollama",
		Model:   "llama3.2",
		Options: map[string]any{"tool_support": false, "temperature": 0.2},
	})
	if err != nil {
		t.Fatalf("CreateLLM(ollama): %v", err)
	}
	if p.Capabilities().SupportsToolCalling {
		t.Error("tool_support=false was not applied")
	}
}
