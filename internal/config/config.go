// Package config provides the configuration schema, loader, and provider registry
// for the toolweave server.
package config

import (
	"time"

	"github.com/MrWong99/toolweave/internal/stream"
	"github.com/MrWong99/toolweave/internal/tool"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// HistoryBackend selects where conversation history is kept.
type HistoryBackend string

const (
	HistoryNone     HistoryBackend = "none"
	HistoryMemory   HistoryBackend = "memory"
	HistorySQLite   HistoryBackend = "sqlite"
	HistoryPostgres HistoryBackend = "postgres"
)

// IsValid reports whether b is a recognised history backend.
func (b HistoryBackend) IsValid() bool {
	switch b {
	case HistoryNone, HistoryMemory, HistorySQLite, HistoryPostgres:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultChunkSize       = stream.ChunkSize
	DefaultIterationBudget = 5
	DefaultSummaryTimeout  = 10 * time.Second
	DefaultHistoryLimit    = 20
	DefaultToolTimeout     = 15 * time.Second
	DefaultLLMTimeout      = 60 * time.Second
)

// Config is the root configuration structure.
// It is loaded from a YAML or TOML file using [Load], or from a reader with
// [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	LLM     LLMConfig     `yaml:"llm" toml:"llm"`
	Engine  EngineConfig  `yaml:"engine" toml:"engine"`
	Tools   ToolsConfig   `yaml:"tools" toml:"tools"`
	MCP     MCPConfig     `yaml:"mcp" toml:"mcp"`
	History HistoryConfig `yaml:"history" toml:"history"`
}

// ServerConfig holds network, logging and streaming settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level" toml:"log_level"`
	LogFormat LogFormat `yaml:"log_format" toml:"log_format"`

	// ChunkSize is the number of characters per streamed content event.
	ChunkSize int `yaml:"chunk_size" toml:"chunk_size"`

	// ChunkDelay is the pause between content events. Zero streams as fast
	// as the client reads.
	ChunkDelay time.Duration `yaml:"chunk_delay" toml:"chunk_delay"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls" toml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" toml:"cert_file"`
	KeyFile  string `yaml:"key_file" toml:"key_file"`
}

// ProviderEntry is the configuration block for one model backend.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "ollama").
	Name string `yaml:"name" toml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key" toml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url" toml:"base_url"`

	Model string `yaml:"model" toml:"model"`

	// Timeout bounds a single model request. Zero uses [DefaultLLMTimeout].
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options" toml:"options"`
}

// LLMConfig selects the primary model backend, its sampling settings and any
// fallbacks tried when it fails.
type LLMConfig struct {
	ProviderEntry `yaml:",inline" toml:",inline"`

	Temperature float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" toml:"max_tokens"`

	Fallbacks []ProviderEntry `yaml:"fallbacks" toml:"fallbacks"`
}

// EngineConfig tunes the exchange pipeline.
type EngineConfig struct {
	// IterationBudget caps model calls per tool-calling loop.
	IterationBudget int `yaml:"iteration_budget" toml:"iteration_budget"`

	// SummaryTimeout bounds the fast path's single phrasing call.
	SummaryTimeout time.Duration `yaml:"summary_timeout" toml:"summary_timeout"`

	// HistoryLimit is the number of persisted turns loaded per exchange.
	HistoryLimit int `yaml:"history_limit" toml:"history_limit"`
}

// ToolsConfig configures the built-in adapters. An adapter whose required
// settings are absent is not registered.
type ToolsConfig struct {
	// DefaultTimeout bounds a single tool invocation.
	DefaultTimeout time.Duration `yaml:"default_timeout" toml:"default_timeout"`

	// Calibrate probes parameterless read-only tools at startup.
	Calibrate bool `yaml:"calibrate" toml:"calibrate"`

	// Disabled lists tool names that are never registered.
	Disabled []string `yaml:"disabled" toml:"disabled"`

	Weather     WeatherConfig     `yaml:"weather" toml:"weather"`
	Transcripts TranscriptsConfig `yaml:"transcripts" toml:"transcripts"`
	Chat        ChatConfig        `yaml:"chat" toml:"chat"`
	SCM         SCMConfig         `yaml:"scm" toml:"scm"`
	Issues      IssuesConfig      `yaml:"issues" toml:"issues"`
	Documents   DocumentsConfig   `yaml:"documents" toml:"documents"`
}

// WeatherConfig overrides the Open-Meteo endpoints.
type WeatherConfig struct {
	Disabled    bool          `yaml:"disabled" toml:"disabled"`
	GeocodeURL  string        `yaml:"geocode_url" toml:"geocode_url"`
	ForecastURL string        `yaml:"forecast_url" toml:"forecast_url"`
	Timeout     time.Duration `yaml:"timeout" toml:"timeout"`
}

// TranscriptsConfig points at a directory of transcript text files.
type TranscriptsConfig struct {
	Dir string `yaml:"dir" toml:"dir"`
}

// ChatConfig holds the bot token for the chat adapter. TokenFile, when set,
// is re-read whenever the token is rejected.
type ChatConfig struct {
	Token     string `yaml:"token" toml:"token"`
	TokenFile string `yaml:"token_file" toml:"token_file"`
}

// SCMConfig locates the source-control server and its login.
type SCMConfig struct {
	BaseURL  string        `yaml:"base_url" toml:"base_url"`
	User     string        `yaml:"user" toml:"user"`
	Password string        `yaml:"password" toml:"password"`
	Ticket   string        `yaml:"ticket" toml:"ticket"`
	Timeout  time.Duration `yaml:"timeout" toml:"timeout"`
}

// IssuesConfig selects the issue tracker repository and its token.
type IssuesConfig struct {
	BaseURL   string        `yaml:"base_url" toml:"base_url"`
	Repo      string        `yaml:"repo" toml:"repo"`
	Token     string        `yaml:"token" toml:"token"`
	TokenFile string        `yaml:"token_file" toml:"token_file"`
	Timeout   time.Duration `yaml:"timeout" toml:"timeout"`
}

// DocumentsConfig points at the SQLite document store.
type DocumentsConfig struct {
	DSN string `yaml:"dsn" toml:"dsn"`
}

// MCPConfig holds the list of Model Context Protocol servers whose tools are
// imported into the registry.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers" toml:"servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique identifier for this server (used in logs).
	Name string `yaml:"name" toml:"name"`

	Transport tool.Transport `yaml:"transport" toml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio".
	Command string `yaml:"command" toml:"command"`

	// Env holds extra environment variables for a stdio server.
	Env map[string]string `yaml:"env" toml:"env"`

	// URL is the endpoint used when Transport is "streamable-http".
	URL string `yaml:"url" toml:"url"`

	// Token is sent as a Bearer token to streamable-http servers.
	Token string `yaml:"token" toml:"token"`

	// Writes marks every tool of the server as having side effects; such
	// tools are never probed during calibration.
	Writes bool `yaml:"writes" toml:"writes"`

	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// ToolServer converts the entry into the form accepted by
// [tool.Registry.RegisterServer].
func (m MCPServerConfig) ToolServer() tool.ServerConfig {
	return tool.ServerConfig{
		Name:      m.Name,
		Transport: m.Transport,
		Command:   m.Command,
		Env:       m.Env,
		URL:       m.URL,
		Token:     m.Token,
		Writes:    m.Writes,
		Timeout:   m.Timeout,
	}
}

// HistoryConfig selects the conversation history backend.
type HistoryConfig struct {
	Backend HistoryBackend `yaml:"backend" toml:"backend"`

	// DSN is a file path or "file:" URI for sqlite, or a connection string
	// for postgres.
	DSN string `yaml:"dsn" toml:"dsn"`
}
