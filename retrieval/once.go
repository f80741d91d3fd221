package retrieval

import "context"

// FetchOnce builds an orchestrator, fetches rawURL and always closes the
// session, whatever the outcome.
func FetchOnce(ctx context.Context, newOrchestrator func() *Orchestrator, rawURL string, opts Options) (*Result, error) {
	o := newOrchestrator()
	defer closeQuietly(o)
	return o.FetchContent(ctx, rawURL, opts)
}

// ScreenshotOnce builds an orchestrator, captures rawURL to dest and always
// closes the session.
func ScreenshotOnce(ctx context.Context, newOrchestrator func() *Orchestrator, rawURL, dest string, opts ScreenshotOptions) (*Screenshot, error) {
	o := newOrchestrator()
	defer closeQuietly(o)
	return o.CaptureScreenshot(ctx, rawURL, dest, opts)
}

// closeQuietly closes without letting a release error mask the outcome.
func closeQuietly(o *Orchestrator) {
	if err := o.Close(); err != nil {
		o.logger.Warn("failed to close session", "error", err)
	}
}
