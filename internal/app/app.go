// Package app wires all toolweave subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithHTTPClient, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/toolweave/internal/adapters/auth"
	"github.com/MrWong99/toolweave/internal/adapters/calculator"
	"github.com/MrWong99/toolweave/internal/adapters/chat"
	"github.com/MrWong99/toolweave/internal/adapters/documents"
	"github.com/MrWong99/toolweave/internal/adapters/issues"
	"github.com/MrWong99/toolweave/internal/adapters/scm"
	"github.com/MrWong99/toolweave/internal/adapters/transcript"
	"github.com/MrWong99/toolweave/internal/adapters/weather"
	"github.com/MrWong99/toolweave/internal/config"
	"github.com/MrWong99/toolweave/internal/engine"
	"github.com/MrWong99/toolweave/internal/fastpath"
	"github.com/MrWong99/toolweave/internal/health"
	"github.com/MrWong99/toolweave/internal/history"
	"github.com/MrWong99/toolweave/internal/history/postgres"
	"github.com/MrWong99/toolweave/internal/history/sqlite"
	"github.com/MrWong99/toolweave/internal/observe"
	"github.com/MrWong99/toolweave/internal/orchestrator"
	"github.com/MrWong99/toolweave/internal/server"
	"github.com/MrWong99/toolweave/internal/stream"
	"github.com/MrWong99/toolweave/internal/tool"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown in Run.
const shutdownTimeout = 10 * time.Second

// A tool failing more than half of its last calls, over at least ten,
// degrades readiness.
const (
	toolErrorRateLimit = 0.5
	toolErrorMinCalls  = 10
)

// App owns all subsystem lifetimes.
type App struct {
	cfg   *config.Config
	model llm.Provider

	metrics     *observe.Metrics
	logLevel    *slog.LevelVar
	httpClient  *http.Client
	chatFactory chat.SessionFactory

	// Subsystems, initialised in New and torn down in Shutdown.
	history history.Store
	tools   *tool.Registry
	engine  *engine.Engine
	server  *server.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of opening the
// configured backend.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithMetrics records engine and HTTP metrics on m instead of the global
// meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets [App.Reload] adjust the log level at runtime.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithHTTPClient is used by the HTTP adapters (weather, scm, issues).
func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) { a.httpClient = hc }
}

// WithChatSessionFactory replaces how the chat adapter builds its platform
// client.
func WithChatSessionFactory(f chat.SessionFactory) Option {
	return func(a *App) { a.chatFactory = f }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. model is the
// (possibly fallback-wrapped) backend built by [BuildModel].
//
// New performs all initialisation synchronously: history store connection,
// adapter and MCP server registration, calibration, and engine assembly.
func New(ctx context.Context, cfg *config.Config, model llm.Provider, opts ...Option) (*App, error) {
	if model == nil {
		return nil, errors.New("app: model provider must not be nil")
	}
	a := &App{cfg: cfg, model: model}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. History ───────────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 2. Tools ─────────────────────────────────────────────────────────
	if err := a.initTools(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	// ── 3. Engine ────────────────────────────────────────────────────────
	a.initEngine()

	// ── 4. HTTP server ───────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHistory opens the configured history backend unless one was injected.
func (a *App) initHistory(ctx context.Context) error {
	if a.history != nil {
		return nil
	}

	switch a.cfg.History.Backend {
	case config.HistoryMemory:
		a.history = history.NewMemory()
	case config.HistorySQLite:
		s, err := sqlite.Open(ctx, a.cfg.History.DSN)
		if err != nil {
			return err
		}
		a.history = s
	case config.HistoryPostgres:
		s, err := postgres.Open(ctx, a.cfg.History.DSN)
		if err != nil {
			return err
		}
		a.history = s
	default:
		return nil
	}
	a.closers = append(a.closers, a.history.Close)
	slog.Info("history store ready", "backend", a.cfg.History.Backend)
	return nil
}

// initTools registers the built-in adapters and MCP servers, calibrates, and
// freezes the registry.
func (a *App) initTools(ctx context.Context) error {
	a.tools = tool.New(
		tool.WithDefaultTimeout(a.cfg.Tools.DefaultTimeout),
		tool.WithObserver(func(ctx context.Context, r tool.Result) {
			a.metrics.RecordToolCall(ctx, r.Name, r.OK(), r.Duration)
		}),
	)
	a.closers = append(a.closers, a.tools.Close)

	builtin, err := a.builtinTools(ctx)
	if err != nil {
		return err
	}
	if err := a.tools.Register(builtin...); err != nil {
		return err
	}

	for _, srv := range a.cfg.MCP.Servers {
		if err := a.tools.RegisterServer(ctx, srv.ToolServer()); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name)
	}

	if a.cfg.Tools.Calibrate {
		if err := a.tools.Calibrate(ctx); err != nil {
			slog.Warn("tool calibration failed", "err", err)
		}
	}
	a.tools.Freeze()
	slog.Info("tool registry frozen", "tools", len(a.tools.Definitions()))
	return nil
}

// builtinTools builds every adapter whose settings are present, minus the
// disabled tool names.
func (a *App) builtinTools(ctx context.Context) ([]tool.Tool, error) {
	tc := a.cfg.Tools
	tools := calculator.Tools()

	if !tc.Weather.Disabled {
		var opts []weather.Option
		if tc.Weather.GeocodeURL != "" {
			opts = append(opts, weather.WithGeocodeURL(tc.Weather.GeocodeURL))
		}
		if tc.Weather.ForecastURL != "" {
			opts = append(opts, weather.WithForecastURL(tc.Weather.ForecastURL))
		}
		if tc.Weather.Timeout > 0 {
			opts = append(opts, weather.WithTimeout(tc.Weather.Timeout))
		}
		if a.httpClient != nil {
			opts = append(opts, weather.WithHTTPClient(a.httpClient))
		}
		tools = append(tools, weather.New(opts...).Tools()...)
	}

	if tc.Transcripts.Dir != "" {
		tools = append(tools, transcript.NewStore(tc.Transcripts.Dir).Tools()...)
	}

	if tc.Chat.Token != "" || tc.Chat.TokenFile != "" {
		cell, err := credentialCell(ctx, "chat", tc.Chat.Token, tc.Chat.TokenFile)
		if err != nil {
			return nil, err
		}
		var opts []chat.Option
		if a.chatFactory != nil {
			opts = append(opts, chat.WithSessionFactory(a.chatFactory))
		}
		tools = append(tools, chat.New(cell, opts...).Tools()...)
	}

	if tc.SCM.BaseURL != "" {
		c, err := scm.New(scm.Config{
			BaseURL:  tc.SCM.BaseURL,
			User:     tc.SCM.User,
			Password: tc.SCM.Password,
			Ticket:   tc.SCM.Ticket,
			Timeout:  tc.SCM.Timeout,
		}, a.httpClient)
		if err != nil {
			return nil, err
		}
		tools = append(tools, c.Tools()...)
	}

	if tc.Issues.Repo != "" {
		cell, err := credentialCell(ctx, "issues", tc.Issues.Token, tc.Issues.TokenFile)
		if err != nil {
			return nil, err
		}
		c, err := issues.New(issues.Config{
			BaseURL: tc.Issues.BaseURL,
			Repo:    tc.Issues.Repo,
			Timeout: tc.Issues.Timeout,
		}, cell, a.httpClient)
		if err != nil {
			return nil, err
		}
		tools = append(tools, c.Tools()...)
	}

	if tc.Documents.DSN != "" {
		store, err := documents.Open(ctx, tc.Documents.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		tools = append(tools, store.Tools()...)
	}

	if len(tc.Disabled) > 0 {
		tools = slices.DeleteFunc(tools, func(t tool.Tool) bool {
			return slices.Contains(tc.Disabled, t.Definition.Name)
		})
	}
	return tools, nil
}

// credentialCell returns a cell holding token, or the contents of file
// re-read on every refresh.
func credentialCell(ctx context.Context, name, token, file string) (*auth.Cell, error) {
	if file == "" {
		return auth.NewCell(name, token, nil), nil
	}
	refresh := auth.FromFile(file)
	initial, err := refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: read token: %w", name, err)
	}
	return auth.NewCell(name, initial, refresh), nil
}

// initEngine assembles the fast path, the loop and the engine.
func (a *App) initEngine() {
	fast := fastpath.New(a.tools, a.model,
		fastpath.WithSummaryTimeout(a.cfg.Engine.SummaryTimeout),
		fastpath.WithMetrics(a.metrics),
	)
	loop := orchestrator.New(a.model, a.tools,
		orchestrator.WithBudget(a.cfg.Engine.IterationBudget),
		orchestrator.WithTemperature(a.cfg.LLM.Temperature),
		orchestrator.WithMaxTokens(a.cfg.LLM.MaxTokens),
		orchestrator.WithMetrics(a.metrics),
	)

	opts := []engine.Option{
		engine.WithMetrics(a.metrics),
		engine.WithHistoryLimit(a.cfg.Engine.HistoryLimit),
	}
	if a.history != nil {
		opts = append(opts, engine.WithHistory(a.history))
	}
	a.engine = engine.New(fast, loop, opts...)
}

// initServer builds the HTTP surface. Readiness requires the model backend
// and history store; failing tools only degrade it.
func (a *App) initServer() {
	checkers := []health.Checker{
		health.Model(a.model),
		health.Tools(a.tools, toolErrorRateLimit, toolErrorMinCalls),
	}
	opts := []server.Option{
		server.WithTools(a.tools),
		server.WithMetrics(a.metrics),
		server.WithStreamOptions(stream.Options{
			ChunkSize:  a.cfg.Server.ChunkSize,
			ChunkDelay: a.cfg.Server.ChunkDelay,
		}),
	}
	if a.history != nil {
		checkers = append(checkers, health.Ping("history", a.history))
		opts = append(opts, server.WithHistory(a.history))
	}
	opts = append(opts, server.WithHealth(health.New(checkers)))
	a.server = server.New(a.engine, opts...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the exchange engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Tools returns the frozen tool registry.
func (a *App) Tools() *tool.Registry { return a.tools }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// StreamOptions returns the content chunking used for streamed answers.
func (a *App) StreamOptions() stream.Options { return a.server.StreamOptions() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the listener fails. On cancellation the server is shut down
// gracefully and Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable part of a config change: the log level
// and content chunking. Other changed sections are logged as needing a
// restart.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ChunkingChanged {
		a.server.SetStreamOptions(stream.Options{ChunkSize: d.NewChunkSize, ChunkDelay: d.NewChunkDelay})
		slog.Info("stream chunking changed", "chunk_size", d.NewChunkSize, "chunk_delay", d.NewChunkDelay)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a configured level onto slog.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New opened before failing.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		_ = closer()
	}
}
