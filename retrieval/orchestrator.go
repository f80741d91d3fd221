// Package retrieval runs bounded, challenge-aware attempts to fetch a page's
// HTML or capture a screenshot through a render.Session.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/pagegate/challenge"
	"github.com/use-agent/pagegate/clock"
	"github.com/use-agent/pagegate/fingerprint"
	"github.com/use-agent/pagegate/models"
	"github.com/use-agent/pagegate/render"
)

// Options are the per-call retrieval parameters.
type Options struct {
	// AntiBot enables challenge detection, waiting, retry jitter and the
	// post-capture taint scan.
	AntiBot bool
	// MaxRetries is the total number of attempts. Values below 1 mean 1.
	MaxRetries int
	// ExtraWait is slept after the page settles, before capture.
	ExtraWait time.Duration
}

// DefaultOptions returns the options used when a caller has no preference.
func DefaultOptions() Options {
	return Options{AntiBot: true, MaxRetries: 3, ExtraWait: 3 * time.Second}
}

func (o Options) budget() int {
	if o.MaxRetries < 1 {
		return 1
	}
	return o.MaxRetries
}

// ScreenshotOptions extend Options with capture settings. Zero Width or
// Height keep the profile viewport.
type ScreenshotOptions struct {
	Options
	FullPage bool
	Width    int
	Height   int
}

// Result is a successful fetch.
type Result struct {
	HTML       string
	FinalURL   string
	StatusCode int
	Attempts   []Attempt
}

// Screenshot is a successful capture written to Path.
type Screenshot struct {
	Path       string
	FinalURL   string
	StatusCode int
	Attempts   []Attempt
}

// Config holds the orchestrator's timings and policies. Zero fields take the
// defaults.
type Config struct {
	NetworkIdleTimeout time.Duration
	JitterMin          time.Duration
	JitterMax          time.Duration
	BackoffStep        time.Duration
	AttemptLogSize     int
	TaintMode          challenge.ScanMode
	Waiter             challenge.WaiterConfig
	ScreenshotDir      string
}

// Default orchestrator timings.
const (
	DefaultNetworkIdleTimeout = 10 * time.Second
	DefaultJitterMin          = 2 * time.Second
	DefaultJitterMax          = 5 * time.Second
	DefaultBackoffStep        = 2 * time.Second
	DefaultScreenshotDir      = "screenshots"
)

func (c Config) withDefaults() Config {
	if c.NetworkIdleTimeout <= 0 {
		c.NetworkIdleTimeout = DefaultNetworkIdleTimeout
	}
	if c.JitterMin <= 0 {
		c.JitterMin = DefaultJitterMin
	}
	if c.JitterMax <= 0 {
		c.JitterMax = DefaultJitterMax
	}
	if c.JitterMax < c.JitterMin {
		c.JitterMax = c.JitterMin
	}
	if c.BackoffStep <= 0 {
		c.BackoffStep = DefaultBackoffStep
	}
	if c.AttemptLogSize <= 0 {
		c.AttemptLogSize = DefaultAttemptLogSize
	}
	if c.TaintMode == "" {
		c.TaintMode = challenge.ScanStructural
	}
	if c.ScreenshotDir == "" {
		c.ScreenshotDir = DefaultScreenshotDir
	}
	return c
}

// Orchestrator drives one render.Session. Operations on one Orchestrator run
// one at a time; use a Pool for concurrency.
type Orchestrator struct {
	session  *render.Session
	cfg      Config
	clock    clock.Clock
	rand     fingerprint.Source
	detector *challenge.Detector
	waiter   *challenge.Waiter
	scanner  *challenge.Scanner
	log      *AttemptLog
	logger   *slog.Logger

	mu sync.Mutex
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets timings and policies.
func WithConfig(c Config) Option {
	return func(o *Orchestrator) { o.cfg = c }
}

// WithClock sets the clock used for every sleep and deadline.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithRandom sets the random source for retry jitter.
func WithRandom(src fingerprint.Source) Option {
	return func(o *Orchestrator) {
		if src != nil {
			o.rand = src
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New returns an Orchestrator over session. The session is started lazily on
// the first attempt.
func New(session *render.Session, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		session: session,
		clock:   clock.Real(),
		rand:    fingerprint.SystemSource(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.cfg = o.cfg.withDefaults()
	o.detector = challenge.NewDetector(o.logger)
	o.waiter = challenge.NewWaiter(o.detector, o.clock, o.cfg.Waiter, o.logger)
	o.scanner = challenge.NewScanner(o.cfg.TaintMode)
	o.log = NewAttemptLog(o.cfg.AttemptLogSize)
	return o
}

// Session returns the underlying session.
func (o *Orchestrator) Session() *render.Session { return o.session }

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Attempts returns a snapshot of the attempt log, oldest first.
func (o *Orchestrator) Attempts() []Attempt { return o.log.Snapshot() }

// Close releases the session.
func (o *Orchestrator) Close() error { return o.session.Close() }

// capture is the operation-specific tail of an attempt, run on a settled page.
type capture struct {
	name    string
	prepare func(ctx context.Context, page render.Page) error
	collect func(ctx context.Context, page render.Page, out *output) error
}

// output is what one attempt produced.
type output struct {
	status   int
	finalURL string
	html     string
	htmlOK   bool
	png      []byte
}

// FetchContent returns the rendered HTML and final URL of rawURL.
func (o *Orchestrator) FetchContent(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	c := capture{
		name: "fetch",
		collect: func(ctx context.Context, page render.Page, out *output) error {
			html, err := page.Content(ctx)
			if err != nil {
				return fmt.Errorf("capture content: %w", err)
			}
			out.html, out.htmlOK = html, true
			return nil
		},
	}

	out, attempts, err := o.run(ctx, rawURL, opts, c)
	if err != nil {
		return nil, failure(err, attempts)
	}
	return &Result{
		HTML:       out.html,
		FinalURL:   out.finalURL,
		StatusCode: out.status,
		Attempts:   attempts,
	}, nil
}

// CaptureScreenshot renders rawURL and writes a PNG to dest, creating parent
// directories. An empty dest gets a timestamped name under the configured
// screenshot directory. A failed write is not retried.
func (o *Orchestrator) CaptureScreenshot(ctx context.Context, rawURL, dest string, opts ScreenshotOptions) (*Screenshot, error) {
	c := capture{
		name: "screenshot",
		prepare: func(ctx context.Context, page render.Page) error {
			w, h := opts.Width, opts.Height
			if w <= 0 || h <= 0 {
				p := o.session.Profile()
				w, h = p.ViewportWidth, p.ViewportHeight
			}
			return page.SetViewport(ctx, w, h)
		},
		collect: func(ctx context.Context, page render.Page, out *output) error {
			png, err := page.Screenshot(ctx, opts.FullPage)
			if err != nil {
				return fmt.Errorf("capture screenshot: %w", err)
			}
			out.png = png
			if opts.AntiBot {
				html, err := page.Content(ctx)
				if err != nil {
					return fmt.Errorf("read content for challenge check: %w", err)
				}
				out.html, out.htmlOK = html, true
			}
			return nil
		},
	}

	out, attempts, err := o.run(ctx, rawURL, opts.Options, c)
	if err != nil {
		return nil, failure(err, attempts)
	}

	if dest == "" {
		dest = DefaultScreenshotPath(o.cfg.ScreenshotDir, rawURL, o.clock.Now())
	}
	path, err := writeScreenshot(dest, out.png)
	if err != nil {
		return nil, failure(models.NewRetrievalError(models.ErrCodeScreenshotWrite, "failed to write screenshot", err), attempts)
	}
	o.logger.Info("screenshot saved", "url", rawURL, "path", path, "bytes", len(out.png))

	return &Screenshot{
		Path:       path,
		FinalURL:   out.finalURL,
		StatusCode: out.status,
		Attempts:   attempts,
	}, nil
}

// run is the attempt loop shared by both operations.
func (o *Orchestrator) run(ctx context.Context, rawURL string, opts Options, c capture) (*output, []Attempt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	budget := opts.budget()
	var (
		attempts []Attempt
		lastErr  error
	)

	for index := 0; index < budget; index++ {
		if err := ctx.Err(); err != nil {
			return nil, attempts, timeoutError(err, lastErr)
		}

		started := o.clock.Now()
		out, outcome, err := o.attempt(ctx, index, rawURL, opts, c)
		a := Attempt{
			URL:       rawURL,
			Index:     index,
			StartedAt: started,
			Duration:  o.clock.Now().Sub(started),
			Outcome:   outcome,
		}
		o.log.Append(a)
		attempts = append(attempts, a)

		next, delay := decide(outcome.Kind, index, budget, o.cfg.BackoffStep)
		logAttempt := o.logger.Info
		if outcome.Kind != OutcomeSuccess {
			logAttempt = o.logger.Warn
		}
		logAttempt(c.name+" attempt finished",
			"url", rawURL,
			"attempt", index+1,
			"of", budget,
			"outcome", outcome.Kind,
			"next", next,
			"error", err,
		)

		switch next {
		case actionSucceed:
			return out, attempts, nil
		case actionFail:
			if outcome.Kind == OutcomeCanceled {
				return nil, attempts, timeoutError(err, lastErr)
			}
			return nil, attempts, err
		case actionExhausted:
			o.logger.Error(c.name+" retrieval exhausted",
				"url", rawURL,
				"attempts", summarize(attempts),
				"error", err,
			)
			return nil, attempts, models.NewRetrievalError(
				models.ErrCodeExhausted,
				fmt.Sprintf("all %d attempts failed for %s", budget, rawURL),
				err,
			)
		case actionBackoff:
			if sleepErr := o.clock.Sleep(ctx, delay); sleepErr != nil {
				return nil, attempts, timeoutError(sleepErr, err)
			}
		}
		lastErr = err
	}

	// Unreachable: decide always ends the loop on the last attempt.
	return nil, attempts, models.NewRetrievalError(models.ErrCodeExhausted, "no attempts were made", lastErr)
}

// attempt performs one try. The page it opens is closed before it returns.
func (o *Orchestrator) attempt(ctx context.Context, index int, rawURL string, opts Options, c capture) (*output, Outcome, error) {
	if err := o.session.Start(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, Outcome{Kind: OutcomeCanceled}, ctxErr
		}
		return nil, Outcome{Kind: OutcomeSessionStart, Message: err.Error()}, err
	}

	page, err := o.session.NewPage(ctx)
	if err != nil {
		return o.failed(ctx, err, "open page")
	}
	closed := false
	closePage := func() {
		if closed {
			return
		}
		closed = true
		if err := page.Close(); err != nil {
			o.logger.Warn("failed to close page", "url", rawURL, "error", err)
		}
	}
	defer closePage()

	if index > 0 && opts.AntiBot {
		jitter := o.jitter()
		o.logger.Debug("retry jitter", "url", rawURL, "delay", jitter)
		if err := o.clock.Sleep(ctx, jitter); err != nil {
			return nil, Outcome{Kind: OutcomeCanceled}, err
		}
	}

	if c.prepare != nil {
		if err := c.prepare(ctx, page); err != nil {
			return o.failed(ctx, err, "prepare page")
		}
	}

	out := &output{}
	status, err := page.Navigate(ctx, rawURL, render.WaitDOMContentLoaded)
	if err != nil {
		return o.failed(ctx, err, "navigate")
	}
	out.status = status
	if status >= 400 {
		o.logger.Warn("navigation returned error status", "url", rawURL, "status", status)
	}

	if err := page.WaitForLoadState(ctx, render.WaitNetworkIdle, o.cfg.NetworkIdleTimeout); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, Outcome{Kind: OutcomeCanceled, Status: status}, ctxErr
		}
		o.logger.Debug("network idle not reached, continuing", "url", rawURL, "error", err)
	}

	if opts.AntiBot && o.detector.Detect(ctx, page) {
		o.logger.Info("challenge detected, waiting", "url", rawURL, "attempt", index+1)
		state, err := o.waiter.Wait(ctx, page)
		if err != nil && ctx.Err() != nil {
			return nil, Outcome{Kind: OutcomeCanceled, Status: status}, ctx.Err()
		}
		if state == challenge.StateTimedOut {
			return nil, Outcome{Kind: OutcomeChallengeTimeout, Status: status},
				models.NewRetrievalError(models.ErrCodeChallengeUnresolved,
					fmt.Sprintf("challenge did not clear within %s", o.waiter.Config().MaxWait), nil)
		}
	}

	if err := o.clock.Sleep(ctx, opts.ExtraWait); err != nil {
		return nil, Outcome{Kind: OutcomeCanceled, Status: status}, err
	}

	if err := c.collect(ctx, page, out); err != nil {
		return o.failed(ctx, err, "capture")
	}
	finalURL, err := page.URL(ctx)
	if err != nil || finalURL == "" {
		finalURL = rawURL
	}
	out.finalURL = finalURL
	closePage()

	if out.htmlOK && status >= 400 && strings.TrimSpace(out.html) == "" {
		return nil, Outcome{Kind: OutcomeHTTPError, Status: status},
			models.NewRetrievalError(models.ErrCodeTransport, fmt.Sprintf("HTTP %d with an empty document", status), nil)
	}

	if opts.AntiBot && out.htmlOK {
		if markers := o.scanner.Scan(out.html); len(markers) > 0 {
			return nil, Outcome{Kind: OutcomeTaintedContent, Status: status, Markers: markers},
				models.NewRetrievalError(models.ErrCodeTaintedContent,
					"captured content still contains challenge markers: "+strings.Join(markers, ", "), nil)
		}
	}

	return out, Outcome{
		Kind:          OutcomeSuccess,
		Status:        status,
		FinalURL:      finalURL,
		ContentLength: len(out.html) + len(out.png),
	}, nil
}

// failed classifies a page operation error as cancellation or transport.
func (o *Orchestrator) failed(ctx context.Context, err error, step string) (*output, Outcome, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, Outcome{Kind: OutcomeCanceled, Message: err.Error()}, ctxErr
	}
	var re *models.RetrievalError
	if errors.As(err, &re) && re.Code == models.ErrCodeTransport {
		return nil, Outcome{Kind: OutcomeTransportError, Message: err.Error()}, err
	}
	return nil, Outcome{Kind: OutcomeTransportError, Message: err.Error()},
		models.NewRetrievalError(models.ErrCodeTransport, step+" failed", err)
}

// jitter returns a random delay in [JitterMin, JitterMax] at millisecond
// resolution.
func (o *Orchestrator) jitter() time.Duration {
	span := o.cfg.JitterMax - o.cfg.JitterMin
	if span <= 0 {
		return o.cfg.JitterMin
	}
	return o.cfg.JitterMin + time.Duration(o.rand.IntN(int(span/time.Millisecond)+1))*time.Millisecond
}

// timeoutError reports a caller deadline or cancellation, keeping the last
// attempt error for context.
func timeoutError(ctxErr, lastErr error) error {
	msg := "retrieval deadline exceeded"
	if errors.Is(ctxErr, context.Canceled) {
		msg = "retrieval canceled"
	}
	return models.NewRetrievalError(models.ErrCodeTimeout, msg, errors.Join(ctxErr, lastErr))
}
