package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/toolweave/internal/tool"
)

// Format is a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor picks the syntax from a file extension. Anything other than
// ".toml" is read as YAML.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// ValidProviderNames lists the model backends a stock build registers.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"openai", "ollama", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// Load reads the configuration file at path, applies defaults, and validates
// the result. The syntax is chosen with [FormatFor].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data), FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a config in the given format from r, applies
// defaults and validates the result. Unknown keys are an error in both
// formats.
func LoadFromReader(r io.Reader, format Format) (*Config, error) {
	cfg := &Config{}
	switch format {
	case FormatTOML:
		md, err := toml.NewDecoder(r).Decode(cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: decode toml: unknown keys: %s", strings.Join(keys, ", "))
		}
	case FormatYAML, "":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: unknown format %q", format)
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued settings with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Server.ChunkSize == 0 {
		cfg.Server.ChunkSize = DefaultChunkSize
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = DefaultLLMTimeout
	}
	for i := range cfg.LLM.Fallbacks {
		if cfg.LLM.Fallbacks[i].Timeout == 0 {
			cfg.LLM.Fallbacks[i].Timeout = cfg.LLM.Timeout
		}
	}
	if cfg.Engine.IterationBudget == 0 {
		cfg.Engine.IterationBudget = DefaultIterationBudget
	}
	if cfg.Engine.SummaryTimeout == 0 {
		cfg.Engine.SummaryTimeout = DefaultSummaryTimeout
	}
	if cfg.Engine.HistoryLimit == 0 {
		cfg.Engine.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Tools.DefaultTimeout == 0 {
		cfg.Tools.DefaultTimeout = DefaultToolTimeout
	}
	if cfg.History.Backend == "" {
		cfg.History.Backend = HistoryNone
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("server.chunk_size %d must not be negative", cfg.Server.ChunkSize))
	}
	if cfg.Server.ChunkDelay < 0 {
		errs = append(errs, fmt.Errorf("server.chunk_delay %s must not be negative", cfg.Server.ChunkDelay))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// LLM
	if cfg.LLM.Name == "" {
		errs = append(errs, errors.New("llm.name is required"))
	} else {
		validateProviderName("llm", cfg.LLM.Name)
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f is out of range [0, 2]", cfg.LLM.Temperature))
	}
	if cfg.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens %d must not be negative", cfg.LLM.MaxTokens))
	}
	for i, fb := range cfg.LLM.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("llm.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName(fmt.Sprintf("llm.fallbacks[%d]", i), fb.Name)
	}

	// Engine
	if cfg.Engine.IterationBudget < 0 {
		errs = append(errs, fmt.Errorf("engine.iteration_budget %d must be positive", cfg.Engine.IterationBudget))
	}
	if cfg.Engine.SummaryTimeout < 0 {
		errs = append(errs, fmt.Errorf("engine.summary_timeout %s must not be negative", cfg.Engine.SummaryTimeout))
	}
	if cfg.Engine.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("engine.history_limit %d must not be negative", cfg.Engine.HistoryLimit))
	}

	// Tools
	if cfg.Tools.DefaultTimeout < 0 {
		errs = append(errs, fmt.Errorf("tools.default_timeout %s must not be negative", cfg.Tools.DefaultTimeout))
	}
	if c := cfg.Tools.Chat; c.Token != "" && c.TokenFile != "" {
		errs = append(errs, errors.New("tools.chat: set token or token_file, not both"))
	}
	if s := cfg.Tools.SCM; s.BaseURL != "" && s.Ticket == "" && (s.User == "" || s.Password == "") {
		errs = append(errs, errors.New("tools.scm requires user and password unless a ticket is given"))
	}
	if is := cfg.Tools.Issues; is.Repo != "" {
		if strings.Count(is.Repo, "/") != 1 {
			errs = append(errs, fmt.Errorf("tools.issues.repo %q must be owner/name", is.Repo))
		}
		if is.Token != "" && is.TokenFile != "" {
			errs = append(errs, errors.New("tools.issues: set token or token_file, not both"))
		}
	}

	// MCP servers
	seen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			seen[srv.Name] = i
		}
		if !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == tool.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == tool.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	// History
	if !cfg.History.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: none, memory, sqlite, postgres", cfg.History.Backend))
	}
	if (cfg.History.Backend == HistorySQLite || cfg.History.Backend == HistoryPostgres) && cfg.History.DSN == "" {
		errs = append(errs, fmt.Errorf("history.dsn is required for backend %q", cfg.History.Backend))
	}

	return errors.Join(errs...)
}

// ValidateProviders checks every configured model backend against reg. Unlike
// [Validate], unknown names are errors here: they could never be built.
func ValidateProviders(cfg *Config, reg *Registry) error {
	var errs []error
	if cfg.LLM.Name != "" && !reg.HasLLM(cfg.LLM.Name) {
		errs = append(errs, fmt.Errorf("llm.name: %w: %q (registered: %s)", ErrProviderNotRegistered, cfg.LLM.Name, strings.Join(reg.LLMNames(), ", ")))
	}
	for i, fb := range cfg.LLM.Fallbacks {
		if fb.Name != "" && !reg.HasLLM(fb.Name) {
			errs = append(errs, fmt.Errorf("llm.fallbacks[%d].name: %w: %q", i, ErrProviderNotRegistered, fb.Name))
		}
	}
	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not in [ValidProviderNames].
func validateProviderName(field, name string) {
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidProviderNames,
	)
}
