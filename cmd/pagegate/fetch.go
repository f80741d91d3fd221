package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/pagegate/models"
	"github.com/use-agent/pagegate/retrieval"
	"golang.org/x/sync/errgroup"
)

// retrievalFlags are the per-call retrieval settings shared by fetch and
// screenshot.
type retrievalFlags struct {
	antiBot    bool
	maxRetries int
	extraWait  time.Duration
	timeout    time.Duration
}

func (f *retrievalFlags) register(cmd *cobra.Command, a *app) {
	f.antiBot = a.cfg.Retrieval.AntiBot
	f.maxRetries = a.cfg.Retrieval.MaxRetries
	f.extraWait = a.cfg.Retrieval.ExtraWait
	f.timeout = a.cfg.Retrieval.OperationTimeout

	cmd.Flags().BoolVar(&f.antiBot, "anti-bot", f.antiBot, "detect and wait out challenge pages, jitter retries, scan for leftover widgets")
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", f.maxRetries, "total number of attempts")
	cmd.Flags().DurationVar(&f.extraWait, "extra-wait", f.extraWait, "pause after the page settles, before capture")
	cmd.Flags().DurationVar(&f.timeout, "timeout", f.timeout, "deadline per URL across all attempts")
}

func (f *retrievalFlags) options() retrieval.Options {
	return retrieval.Options{AntiBot: f.antiBot, MaxRetries: f.maxRetries, ExtraWait: f.extraWait}
}

func newFetchCmd(a *app) *cobra.Command {
	var (
		rf          retrievalFlags
		concurrency int
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "fetch <url>...",
		Short: "Fetch the rendered HTML of one or more pages",
		Long: `Fetch loads each URL in its own browser session and prints the rendered
HTML. With several URLs or --json, one JSON object per URL is printed in
argument order. The command fails if any URL fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results := fetchAll(cmd.Context(), a, args, rf, concurrency)

			out := cmd.OutOrStdout()
			if len(args) == 1 && !asJSON {
				if results[0].Error != nil {
					return fmt.Errorf("%s: %s", results[0].Error.Code, results[0].Error.Message)
				}
				_, err := io.WriteString(out, results[0].HTML)
				return err
			}

			enc := json.NewEncoder(out)
			failed := 0
			for _, r := range results {
				if !r.Success {
					failed++
				}
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d URLs failed", failed, len(results))
			}
			return nil
		},
	}
	rf.register(cmd, a)
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", a.cfg.Browser.Sessions, "number of browser sessions run at once")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON even for a single URL")
	return cmd
}

// fetchAll fetches every URL with its own session, at most concurrency at a
// time. A failed URL never stops the others.
func fetchAll(ctx context.Context, a *app, urls []string, rf retrievalFlags, concurrency int) []models.FetchResponse {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]models.FetchResponse, len(urls))
	newOrchestrator := a.factory()

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, u := range urls {
		g.Go(func() error {
			start := time.Now()
			uctx, cancel := context.WithTimeout(ctx, rf.timeout)
			defer cancel()

			res, err := retrieval.FetchOnce(uctx, newOrchestrator, u, rf.options())
			r := models.FetchResponse{URL: u}
			if err != nil {
				slog.Error("fetch failed", "url", u, "error", err)
				r.Error = detailOf(err)
				r.Attempts = retrieval.Infos(retrieval.AttemptsOf(err))
			} else {
				r.Success = true
				r.FinalURL = res.FinalURL
				r.StatusCode = res.StatusCode
				r.HTML = res.HTML
				r.Attempts = retrieval.Infos(res.Attempts)
			}
			elapsed := time.Since(start).Milliseconds()
			r.Timing = models.TimingInfo{TotalMs: elapsed, RetrievalMs: elapsed}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func detailOf(err error) *models.ErrorDetail {
	var re *models.RetrievalError
	if errors.As(err, &re) {
		return re.ToDetail()
	}
	return &models.ErrorDetail{Code: models.ErrCodeInternal, Message: err.Error()}
}

