package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs.
// LogLevel and chunking changes can be applied to a running server; every
// other section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ChunkingChanged bool
	NewChunkSize    int
	NewChunkDelay   time.Duration

	// RestartRequired names the top-level sections that changed but are
	// only read at startup (e.g. "llm", "tools").
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ChunkingChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ChunkSize != new.Server.ChunkSize || old.Server.ChunkDelay != new.Server.ChunkDelay {
		d.ChunkingChanged = true
		d.NewChunkSize = new.Server.ChunkSize
		d.NewChunkDelay = new.Server.ChunkDelay
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.LogFormat != new.Server.LogFormat ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	sections := []struct {
		name     string
		old, new any
	}{
		{"llm", old.LLM, new.LLM},
		{"engine", old.Engine, new.Engine},
		{"tools", old.Tools, new.Tools},
		{"mcp", old.MCP, new.MCP},
		{"history", old.History, new.History},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}

	return d
}
