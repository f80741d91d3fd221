package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/pagegate/api"
	"github.com/use-agent/pagegate/cache"
	"github.com/use-agent/pagegate/probe"
	"github.com/use-agent/pagegate/retrieval"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			return serve(ctx, a, ln)
		},
	}
	cmd.Flags().StringVar(&a.cfg.Server.Host, "host", a.cfg.Server.Host, "listen host")
	cmd.Flags().IntVar(&a.cfg.Server.Port, "port", a.cfg.Server.Port, "listen port")
	cmd.Flags().IntVar(&a.cfg.Browser.Sessions, "sessions", a.cfg.Browser.Sessions, "number of independent browser sessions")
	return cmd
}

// serve runs the API on ln until ctx ends, then drains in-flight requests
// and closes every browser session.
func serve(ctx context.Context, a *app, ln net.Listener) error {
	cfg := a.cfg
	slog.Info("pagegate starting",
		"addr", ln.Addr().String(),
		"mode", cfg.Server.Mode,
		"sessions", cfg.Browser.Sessions,
		"antiBot", cfg.Retrieval.AntiBot,
		"version", version,
	)

	pool := retrieval.NewPool(cfg.Browser.Sessions, a.factory(), slog.Default())
	defer func() {
		if err := pool.Close(); err != nil {
			slog.Error("closing browser sessions", "error", err)
		}
	}()

	cc := cache.New(cfg.Cache.MaxEntries, cfg.Cache.Retention)
	defer cc.Close()

	prober := probe.New(cfg.Browser.Proxy,
		probe.WithTimeout(time.Minute),
		probe.WithLogger(slog.Default()),
	)

	router := api.NewRouter(ctx, cfg, api.Deps{
		Pool:      pool,
		Prober:    prober,
		Cache:     cc,
		Version:   version,
		StartTime: time.Now(),
	})
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	// Give in-flight requests 5 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	slog.Info("pagegate stopped")
	return nil
}
