package main

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/pagegate/fingerprint"
	"github.com/use-agent/pagegate/models"
	"github.com/use-agent/pagegate/probe"
)

func newProbeCmd(a *app) *cobra.Command {
	timeout := a.cfg.Probe.Timeout

	cmd := &cobra.Command{
		Use:   "probe <url>",
		Short: "Check a URL over plain HTTP for a challenge page",
		Long: `Probe fetches the URL once with a Chrome-like TLS fingerprint, without a
browser, and prints status, title and any challenge signatures as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := probe.New(a.cfg.Browser.Proxy,
				probe.WithTimeout(timeout),
				probe.WithProfile(fingerprint.New(nil, a.cfg.Browser.UserAgent)),
				probe.WithLogger(slog.Default()),
			)

			start := time.Now()
			res, err := p.Probe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			elapsed := time.Since(start).Milliseconds()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(models.ProbeResponse{
				Success:    true,
				URL:        args[0],
				FinalURL:   res.FinalURL,
				StatusCode: res.StatusCode,
				Title:      res.Title,
				Challenge:  res.Challenge(),
				Signatures: res.Signatures,
				Timing:     models.TimingInfo{TotalMs: elapsed, RetrievalMs: elapsed},
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", timeout, "request deadline")
	return cmd
}
