package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/use-agent/pagegate/config"
	"github.com/use-agent/pagegate/retrieval"
)

// retrievalOptions reads the shared tool arguments over the configured
// defaults.
func retrievalOptions(request mcp.CallToolRequest, cfg *config.Config) retrieval.Options {
	opts := cfg.RetrievalOptions()
	opts.AntiBot = request.GetBool("anti_bot", opts.AntiBot)
	opts.MaxRetries = request.GetInt("max_retries", opts.MaxRetries)
	return opts
}

func handleGetSource(pool *retrieval.Pool, cfg *config.Config) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		opts := retrievalOptions(request, cfg)
		waitSeconds := request.GetFloat("wait_time", cfg.Retrieval.ExtraWait.Seconds())
		if waitSeconds < 0 {
			waitSeconds = 0
		}
		opts.ExtraWait = time.Duration(waitSeconds * float64(time.Second))

		ctx, cancel := context.WithTimeout(ctx, cfg.Retrieval.OperationTimeout)
		defer cancel()

		var res *retrieval.Result
		err = pool.Do(ctx, func(o *retrieval.Orchestrator) error {
			var err error
			res, err = o.FetchContent(ctx, url, opts)
			return err
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to fetch %s: %v", url, err)), nil
		}
		return mcp.NewToolResultText(res.HTML), nil
	}
}

func handleScreenshot(pool *retrieval.Pool, cfg *config.Config) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		opts := cfg.ScreenshotOptions()
		opts.Options = retrievalOptions(request, cfg)
		opts.FullPage = request.GetBool("full_page", true)
		opts.Width = request.GetInt("width", opts.Width)
		opts.Height = request.GetInt("height", opts.Height)
		dest := request.GetString("save_path", "")

		ctx, cancel := context.WithTimeout(ctx, cfg.Retrieval.OperationTimeout)
		defer cancel()

		var shot *retrieval.Screenshot
		err = pool.Do(ctx, func(o *retrieval.Orchestrator) error {
			var err error
			shot, err = o.CaptureScreenshot(ctx, url, dest, opts)
			return err
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to capture %s: %v", url, err)), nil
		}
		return mcp.NewToolResultText(shot.Path), nil
	}
}
