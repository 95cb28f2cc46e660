package main

import (
	"maps"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/toolweave/internal/config"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
	"github.com/MrWong99/toolweave/pkg/provider/llm/anyllm"
	"github.com/MrWong99/toolweave/pkg/provider/llm/ollama"
	"github.com/MrWong99/toolweave/pkg/provider/llm/openai"
)

// toolSupportOption is the ollama option key that overrides tool detection.
// It is consumed here and never forwarded to the server.
const toolSupportOption = "tool_support"

// registerBuiltinProviders wires the model backends into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, openai.WithTimeout(entry.Timeout))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// ollama talks to the local server natively so model options reach it.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []ollama.Option
		if entry.Timeout > 0 {
			opts = append(opts, ollama.WithTimeout(entry.Timeout))
		}
		if supported, ok := optBool(entry.Options, toolSupportOption); ok {
			opts = append(opts, ollama.WithToolSupport(supported))
		}
		if len(entry.Options) > 0 {
			forwarded := maps.Clone(entry.Options)
			delete(forwarded, toolSupportOption)
			if len(forwarded) > 0 {
				opts = append(opts, ollama.WithOptions(forwarded))
			}
		}
		return ollama.New(entry.BaseURL, entry.Model, opts...)
	})

	// The hosted backends share one shape: optional APIKey + optional BaseURL.
	for _, name := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}
}

func optBool(opts map[string]any, key string) (bool, bool) {
	v, ok := opts[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
