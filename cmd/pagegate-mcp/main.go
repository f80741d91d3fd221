// Command pagegate-mcp exposes page retrieval as MCP tools over stdio.
// Browser sessions run in-process and are shared through a small pool.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/use-agent/pagegate/config"
	"github.com/use-agent/pagegate/render"
	"github.com/use-agent/pagegate/retrieval"
)

var version = "dev"

func main() {
	cfg := config.Load()

	// stdout carries the MCP protocol; logs go to stderr.
	initLogger(cfg.Log)

	launcher := render.NewRodLauncher(slog.Default())
	pool := retrieval.NewPool(cfg.Browser.Sessions,
		retrieval.Factory(launcher, cfg.SessionConfig(), cfg.OrchestratorConfig(), slog.Default()),
		slog.Default(),
	)

	s := newServer(pool, cfg)
	err := server.ServeStdio(s)
	if cerr := pool.Close(); cerr != nil {
		slog.Error("closing browser sessions", "error", cerr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func newServer(pool *retrieval.Pool, cfg *config.Config) *server.MCPServer {
	s := server.NewMCPServer(
		"pagegate",
		version,
		server.WithToolCapabilities(false),
	)

	sourceTool := mcp.NewTool("get_webpage_source",
		mcp.WithDescription("Fetch the rendered HTML source of a web page using a stealth headless browser. Waits out Cloudflare-style \"checking your browser\" pages and retries when challenge widgets remain."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page"),
		),
		mcp.WithNumber("wait_time",
			mcp.Description("Seconds to wait after the page settles before capturing (default 3)"),
		),
		mcp.WithBoolean("anti_bot",
			mcp.Description("Detect and wait out challenge pages (default true)"),
		),
		mcp.WithNumber("max_retries",
			mcp.Description("Total number of attempts (default 3)"),
		),
	)
	s.AddTool(sourceTool, handleGetSource(pool, cfg))

	screenshotTool := mcp.NewTool("capture_webpage_screenshot",
		mcp.WithDescription("Capture a PNG screenshot of a web page, waiting out anti-bot challenge pages. Returns the absolute path of the saved file."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page"),
		),
		mcp.WithString("save_path",
			mcp.Description("Where to save the PNG. Default: a timestamped file in the screenshot directory"),
		),
		mcp.WithBoolean("full_page",
			mcp.Description("Capture the whole scrollable page (default true)"),
		),
		mcp.WithNumber("width",
			mcp.Description("Viewport width in pixels (default 1920)"),
		),
		mcp.WithNumber("height",
			mcp.Description("Viewport height in pixels (default 1080)"),
		),
		mcp.WithBoolean("anti_bot",
			mcp.Description("Detect and wait out challenge pages (default true)"),
		),
		mcp.WithNumber("max_retries",
			mcp.Description("Total number of attempts (default 3)"),
		),
	)
	s.AddTool(screenshotTool, handleScreenshot(pool, cfg))

	return s
}

// initLogger configures slog on stderr based on the LogConfig.
func initLogger(cfg config.LogConfig) {
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
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
