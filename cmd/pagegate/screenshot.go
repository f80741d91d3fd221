package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/use-agent/pagegate/retrieval"
)

func newScreenshotCmd(a *app) *cobra.Command {
	var (
		rf     retrievalFlags
		output string
	)
	opts := a.cfg.ScreenshotOptions()

	cmd := &cobra.Command{
		Use:   "screenshot <url>",
		Short: "Capture a PNG screenshot of a page",
		Long: `Screenshot renders the URL, waits out challenge pages and writes a PNG.
Without --output the file is named after the host and time under
$PAGEGATE_SCREENSHOT_DIR. The absolute path written is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), rf.timeout)
			defer cancel()

			opts.Options = rf.options()
			shot, err := retrieval.ScreenshotOnce(ctx, a.factory(), args[0], output, opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), shot.Path)
			return err
		},
	}
	rf.register(cmd, a)
	cmd.Flags().StringVarP(&output, "output", "o", "", "PNG path (parent directories are created)")
	cmd.Flags().BoolVar(&opts.FullPage, "full-page", opts.FullPage, "capture the whole scrollable page")
	cmd.Flags().IntVar(&opts.Width, "width", opts.Width, "viewport width")
	cmd.Flags().IntVar(&opts.Height, "height", opts.Height, "viewport height")
	cmd.Flags().StringVar(&a.cfg.Screenshot.Dir, "dir", a.cfg.Screenshot.Dir, "directory for generated names")
	return cmd
}
