// Command pagegate retrieves rendered web pages through a stealth browser,
// waiting out anti-bot interstitials. It runs as an HTTP service or as a
// one-shot CLI.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/use-agent/pagegate/config"
	"github.com/use-agent/pagegate/render"
	"github.com/use-agent/pagegate/retrieval"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd(newApp()).Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries what every command shares.
type app struct {
	cfg      *config.Config
	launcher render.Launcher
	stdout   io.Writer
	stderr   io.Writer

	// orchestratorOpts are applied to every orchestrator; tests use them to
	// inject a clock.
	orchestratorOpts []retrieval.Option
}

func newApp() *app {
	return &app{
		cfg:    config.Load(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

func newRootCmd(a *app) *cobra.Command {
	var logLevel, logFormat string

	root := &cobra.Command{
		Use:   "pagegate",
		Short: "Retrieve rendered pages through a stealth browser",
		Long: `pagegate loads pages in a fingerprinted headless Chromium, waits for
anti-bot interstitials to clear, and returns the rendered HTML or a
screenshot. Settings come from PAGEGATE_* environment variables; flags
override them per call.

Examples:
  # Serve the HTTP API
  pagegate serve --port 8080

  # Fetch two pages concurrently, one JSON line each
  pagegate fetch https://example.com https://example.org --json

  # Full-page screenshot
  pagegate screenshot https://example.com -o shots/example.png --full-page`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				a.cfg.Log.Level = logLevel
			}
			if logFormat != "" {
				a.cfg.Log.Format = logFormat
			}
			// stdout carries command output; logs go to stderr.
			initLogger(a.cfg.Log, a.stderr)
			if a.launcher == nil {
				a.launcher = render.NewRodLauncher(slog.Default())
			}
			return nil
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default $PAGEGATE_LOG_LEVEL or info)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: json or text (default $PAGEGATE_LOG_FORMAT or json)")
	root.PersistentFlags().BoolVar(&a.cfg.Browser.Headless, "headless", a.cfg.Browser.Headless, "run the browser headless")
	root.PersistentFlags().StringVar(&a.cfg.Browser.Proxy, "proxy", a.cfg.Browser.Proxy, "proxy URL for the browser and probe")
	root.PersistentFlags().StringVar(&a.cfg.Browser.UserAgent, "user-agent", a.cfg.Browser.UserAgent, "pin the user agent instead of rotating")

	root.AddCommand(
		newServeCmd(a),
		newFetchCmd(a),
		newScreenshotCmd(a),
		newProbeCmd(a),
		newVersionCmd(a),
	)
	return root
}

// factory builds orchestrators from the current configuration.
func (a *app) factory() func() *retrieval.Orchestrator {
	return retrieval.Factory(a.launcher, a.cfg.SessionConfig(), a.cfg.OrchestratorConfig(), slog.Default(), a.orchestratorOpts...)
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "pagegate %s\n", version)
			return err
		},
	}
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig, w io.Writer) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
}
