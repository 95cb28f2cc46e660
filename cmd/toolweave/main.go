// Command toolweave serves the tool-calling chat engine over HTTP and offers
// one-shot access to it from the shell.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/toolweave/internal/app"
	"github.com/MrWong99/toolweave/internal/config"
	"github.com/MrWong99/toolweave/internal/engine"
	"github.com/MrWong99/toolweave/internal/observe"
	"github.com/MrWong99/toolweave/internal/stream"
)

// version is set at build time.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "toolweave: %v\n", err)
		return 1
	}
	return 0
}

// cli holds the state shared by all subcommands.
type cli struct {
	configPath string
	logLevel   string

	level slog.LevelVar
	cfg   *config.Config
	reg   *config.Registry
}

func newRootCmd() *cobra.Command {
	c := &cli{reg: config.NewRegistry()}
	registerBuiltinProviders(c.reg)

	root := &cobra.Command{
		Use:           "toolweave",
		Short:         "Conversational tool orchestration over HTTP",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "config.yaml", "path to the YAML or TOML configuration file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	root.AddCommand(c.serveCmd(), c.askCmd(), c.toolsCmd())
	return root
}

// setup loads the configuration and installs the default logger.
func (c *cli) setup(stderr io.Writer) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", c.configPath)
		}
		return err
	}
	if c.logLevel != "" {
		lvl := config.LogLevel(c.logLevel)
		if !lvl.IsValid() {
			return fmt.Errorf("--log-level %q is invalid; valid values: debug, info, warn, error", c.logLevel)
		}
		cfg.Server.LogLevel = lvl
	}
	c.cfg = cfg

	c.level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(stderr, cfg.Server.LogFormat, &c.level))
	return nil
}

// newApp builds the model and the application for a subcommand.
func (c *cli) newApp(ctx context.Context) (*app.App, error) {
	model, err := app.BuildModel(c.cfg, c.reg)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, c.cfg, model, app.WithLogLevel(&c.level))
}

// ── serve ─────────────────────────────────────────────────────────────────────

func (c *cli) serveCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() {
				if err := shutdownTelemetry(context.Background()); err != nil {
					slog.Warn("telemetry shutdown error", "err", err)
				}
			}()

			slog.Info("toolweave starting",
				"config", c.configPath,
				"listen_addr", c.cfg.Server.ListenAddr,
				"llm", c.cfg.LLM.Name,
				"model", c.cfg.LLM.Model,
				"fallbacks", len(c.cfg.LLM.Fallbacks),
				"history", c.cfg.History.Backend,
				"mcp_servers", len(c.cfg.MCP.Servers),
			)

			application, err := c.newApp(ctx)
			if err != nil {
				return err
			}

			if watch {
				w, err := config.NewWatcher(c.configPath, application.Reload)
				if err != nil {
					slog.Warn("config watcher disabled", "err", err)
				} else {
					defer w.Stop()
				}
			}

			runErr := application.Run(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			slog.Info("shutdown signal received, stopping")
			if err := application.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			slog.Info("goodbye")
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "reload log level and chunking when the config file changes")
	return cmd
}

// ── ask ───────────────────────────────────────────────────────────────────────

func (c *cli) askCmd() *cobra.Command {
	var (
		plain     bool
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "ask <utterance>",
		Short: "Run one exchange and print the event stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			application, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer application.Shutdown(context.Background())

			reply, err := application.Engine().Exchange(ctx, engine.Request{SessionID: sessionID, Message: args[0]})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if plain {
				if reply.Outcome.Failure != "" {
					return errors.New(reply.Outcome.Failure)
				}
				_, err := fmt.Fprintln(out, reply.Outcome.Answer)
				return err
			}
			em := stream.NewEmitter(stream.NewSSEWriter(out))
			return stream.Stream(ctx, em, reply.Outcome, application.StreamOptions())
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print only the answer text")
	cmd.Flags().StringVar(&sessionID, "session", "", "continue a persisted session")
	return cmd
}

// ── tools ─────────────────────────────────────────────────────────────────────

func (c *cli) toolsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the registered tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Shutdown(context.Background())

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(application.Tools().Definitions())
			}
			_, err = io.WriteString(out, application.Tools().Describe())
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the definitions as JSON")
	return cmd
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
