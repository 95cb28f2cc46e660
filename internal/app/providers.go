package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/toolweave/internal/config"
	"github.com/MrWong99/toolweave/internal/resilience"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// BuildModel instantiates the configured model backend through reg. With
// fallbacks configured the result is a [resilience.LLMFallback] trying the
// primary first and each fallback in order.
func BuildModel(cfg *config.Config, reg *config.Registry) (llm.Provider, error) {
	if err := config.ValidateProviders(cfg, reg); err != nil {
		return nil, err
	}

	primary, err := reg.CreateLLM(cfg.LLM.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("app: build llm %q: %w", cfg.LLM.Name, err)
	}
	if len(cfg.LLM.Fallbacks) == 0 {
		return primary, nil
	}

	fb := resilience.NewLLMFallback(primary, label(cfg.LLM.ProviderEntry), resilience.FallbackConfig{})
	for i, entry := range cfg.LLM.Fallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("app: build llm.fallbacks[%d] %q: %w", i, entry.Name, err)
		}
		fb.AddFallback(label(entry), p)
		slog.Debug("model fallback registered", "provider", entry.Name, "model", entry.Model)
	}
	return fb, nil
}

func label(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}
