package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/use-agent/pagegate/render"
)

// Verdict holds the per-signal result of one inspection.
type Verdict struct {
	Text  bool
	Frame bool
}

// Present reports whether either signal fired.
func (v Verdict) Present() bool { return v.Text || v.Frame }

// Detector checks a live page for an interstitial challenge.
type Detector struct {
	textPattern   string
	frameSelector string
	logger        *slog.Logger
}

// NewDetector returns a Detector over the current signature set. A nil logger
// uses slog.Default.
func NewDetector(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		textPattern:   TextPattern(),
		frameSelector: FrameSelector(),
		logger:        logger,
	}
}

// Inspect evaluates both signals. A signal whose query fails is reported as
// absent and its error is returned alongside the verdict.
func (d *Detector) Inspect(ctx context.Context, page render.Page) (Verdict, error) {
	var v Verdict
	var errs []error

	if d.textPattern != "" {
		ok, err := page.MatchText(ctx, d.textPattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("text signal: %w", err))
		}
		v.Text = ok && err == nil
	}
	if d.frameSelector != "" {
		n, err := page.CountSelector(ctx, d.frameSelector)
		if err != nil {
			errs = append(errs, fmt.Errorf("frame signal: %w", err))
		}
		v.Frame = n > 0 && err == nil
	}
	return v, errors.Join(errs...)
}

// Detect reports whether a challenge is present. Query failures count as
// "signal absent".
func (d *Detector) Detect(ctx context.Context, page render.Page) bool {
	v, err := d.Inspect(ctx, page)
	if err != nil {
		d.logger.Debug("challenge detection query failed", "error", err)
	}
	return v.Present()
}
