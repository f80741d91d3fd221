package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// closeTimeout bounds closing a tab or browser context. Closing never uses a
// request context, which may already have ended.
const closeTimeout = 10 * time.Second

// RodLauncher starts Chromium through go-rod's launcher.
type RodLauncher struct {
	logger *slog.Logger
}

// NewRodLauncher returns a Launcher backed by go-rod. A nil logger uses
// slog.Default.
func NewRodLauncher(logger *slog.Logger) *RodLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RodLauncher{logger: logger}
}

// Launch starts a browser and connects to it. The launch is abandoned and the
// process killed if ctx ends first.
func (r *RodLauncher) Launch(ctx context.Context, opts LaunchOptions) (Process, error) {
	l := launcher.New().
		Headless(opts.Headless).
		NoSandbox(opts.NoSandbox)

	if opts.BrowserBin != "" {
		l = l.Bin(opts.BrowserBin)
	}
	if opts.Proxy != "" {
		l = l.Proxy(opts.Proxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-web-security"))
	l.Set(flags.Flag("disable-features"), "IsolateOrigins,site-per-process")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	type launched struct {
		url string
		err error
	}
	done := make(chan launched, 1)
	go func() {
		u, err := l.Launch()
		done <- launched{url: u, err: err}
	}()

	var controlURL string
	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("launch browser: %w", res.err)
		}
		controlURL = res.url
	case <-ctx.Done():
		l.Kill()
		return nil, fmt.Errorf("launch browser: %w", ctx.Err())
	}
	r.logger.Debug("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	return &rodProcess{launcher: l, browser: browser, logger: r.logger}, nil
}

type rodProcess struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	logger   *slog.Logger
}

// NewContext creates an incognito browser context and grants the permissions
// a regular desktop profile would have.
func (p *rodProcess) NewContext(ctx context.Context, opts ContextOptions) (BrowserContext, error) {
	incognito, err := p.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("create incognito context: %w", err)
	}
	// The context outlives the request that started the session.
	incognito = incognito.Context(context.Background())

	grant := proto.BrowserGrantPermissions{
		Permissions: []proto.BrowserPermissionType{
			proto.BrowserPermissionTypeGeolocation,
			proto.BrowserPermissionTypeNotifications,
		},
		BrowserContextID: incognito.BrowserContextID,
	}
	if err := grant.Call(p.browser.Context(ctx)); err != nil {
		p.logger.Warn("failed to grant browser permissions", "error", err)
	}

	return &rodContext{browser: incognito, opts: opts, logger: p.logger}, nil
}

// Close disconnects from the browser and kills the process even when the
// disconnect fails, so no Chromium is left behind.
func (p *rodProcess) Close() error {
	err := p.browser.Close()
	p.launcher.Kill()
	p.launcher.Cleanup()
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

type rodContext struct {
	browser *rod.Browser
	opts    ContextOptions
	logger  *slog.Logger
}

// NewPage opens a blank tab and applies the context identity to it before
// anything is loaded.
//
// Only target creation is bound to ctx. The page itself is attached through
// the context-free browser so that closing it still works after ctx ends.
func (c *rodContext) NewPage(ctx context.Context) (Page, error) {
	target, err := proto.TargetCreateTarget{
		URL:              "about:blank",
		BrowserContextID: c.browser.BrowserContextID,
	}.Call(c.browser.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	page, err := c.browser.PageFromTarget(target.TargetID)
	if err != nil {
		if _, closeErr := (proto.TargetCloseTarget{TargetID: target.TargetID}).Call(c.browser.Timeout(closeTimeout)); closeErr != nil {
			c.logger.Warn("failed to close unattached target", "error", closeErr)
		}
		return nil, fmt.Errorf("attach page: %w", err)
	}
	p := page.Context(ctx)

	// Init scripts are mandatory; everything else is best-effort.
	for _, js := range c.opts.InitScripts {
		if _, err := p.EvalOnNewDocument(js); err != nil {
			_ = closeRodPage(page)
			return nil, fmt.Errorf("install init script: %w", err)
		}
	}

	if c.opts.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      c.opts.UserAgent,
			AcceptLanguage: c.opts.AcceptLanguage,
		}); err != nil {
			c.logger.Warn("failed to set user agent", "error", err)
		}
	}
	if c.opts.AcceptLanguage != "" {
		if err := (proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(map[string]string{"Accept-Language": c.opts.AcceptLanguage}),
		}).Call(p); err != nil {
			c.logger.Warn("failed to set extra headers", "error", err)
		}
	}
	if c.opts.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: c.opts.Locale}).Call(p); err != nil {
			c.logger.Warn("failed to set locale", "locale", c.opts.Locale, "error", err)
		}
	}
	if c.opts.TimezoneID != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: c.opts.TimezoneID}).Call(p); err != nil {
			c.logger.Warn("failed to set timezone", "timezone", c.opts.TimezoneID, "error", err)
		}
	}

	rp := &rodPage{page: page, logger: c.logger}
	if c.opts.ViewportWidth > 0 && c.opts.ViewportHeight > 0 {
		if err := rp.SetViewport(ctx, c.opts.ViewportWidth, c.opts.ViewportHeight); err != nil {
			c.logger.Warn("failed to set viewport", "error", err)
		}
	}
	return rp, nil
}

// Close disposes the incognito context and every page in it.
func (c *rodContext) Close() error {
	if err := c.browser.Timeout(closeTimeout).Close(); err != nil {
		return fmt.Errorf("close browser context: %w", err)
	}
	return nil
}

// rodPage adapts *rod.Page to Page.
//
// Lifecycle events are enabled once per navigation and observed by two
// waiters registered before Navigate: one for the requested milestone and one
// for network idle, which WaitForLoadState consumes later.
type rodPage struct {
	page    *rod.Page
	timeout time.Duration
	logger  *slog.Logger

	mu         sync.Mutex
	idleWait   func()
	idleCancel context.CancelFunc
}

func (p *rodPage) SetDefaultTimeout(d time.Duration) { p.timeout = d }

// bind attaches ctx and the default timeout to the page.
func (p *rodPage) bind(ctx context.Context) (*rod.Page, context.CancelFunc) {
	if p.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		return p.page.Context(ctx), cancel
	}
	ctx, cancel := context.WithCancel(ctx)
	return p.page.Context(ctx), cancel
}

func (p *rodPage) SetViewport(ctx context.Context, width, height int) error {
	pg, cancel := p.bind(ctx)
	defer cancel()
	return pg.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	})
}

func lifecycleName(w WaitUntil) proto.PageLifecycleEventName {
	switch w {
	case WaitLoad:
		return proto.PageLifecycleEventNameLoad
	case WaitNetworkIdle:
		return proto.PageLifecycleEventNameNetworkIdle
	default:
		return proto.PageLifecycleEventNameDOMContentLoaded
	}
}

func (p *rodPage) Navigate(ctx context.Context, url string, until WaitUntil) (int, error) {
	pg, cancel := p.bind(ctx)
	defer cancel()

	if err := (proto.PageSetLifecycleEventsEnabled{Enabled: true}).Call(pg); err != nil {
		return 0, fmt.Errorf("enable lifecycle events: %w", err)
	}

	frameID := p.page.FrameID
	target := lifecycleName(until)
	waitTarget := pg.EachEvent(func(e *proto.PageLifecycleEvent) bool {
		return e.FrameID == frameID && e.Name == target
	})

	p.resetIdleWaiter()
	idleCtx, idleCancel := context.WithCancel(context.Background())
	idleWait := p.page.Context(idleCtx).EachEvent(func(e *proto.PageLifecycleEvent) bool {
		return e.FrameID == frameID && e.Name == proto.PageLifecycleEventNameNetworkIdle
	})
	p.mu.Lock()
	p.idleWait, p.idleCancel = idleWait, idleCancel
	p.mu.Unlock()

	if err := pg.Navigate(url); err != nil {
		return 0, err
	}
	waitTarget()
	if err := pg.GetContext().Err(); err != nil {
		return 0, err
	}

	return p.navigationStatus(pg), nil
}

// navigationStatus reads the main document status from the Navigation Timing
// API, which needs no network event listener.
func (p *rodPage) navigationStatus(pg *rod.Page) int {
	res, err := pg.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

func (p *rodPage) resetIdleWaiter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idleCancel != nil {
		p.idleCancel()
	}
	p.idleWait, p.idleCancel = nil, nil
}

func (p *rodPage) WaitForLoadState(ctx context.Context, state WaitUntil, timeout time.Duration) error {
	if state != WaitNetworkIdle {
		pg, cancel := p.bind(ctx)
		defer cancel()
		if timeout > 0 {
			pg = pg.Timeout(timeout)
		}
		return pg.WaitLoad()
	}

	p.mu.Lock()
	wait, stop := p.idleWait, p.idleCancel
	p.mu.Unlock()
	if wait == nil {
		return errors.New("network idle waiter not armed: navigate first")
	}
	defer p.resetIdleWaiter()

	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		stop()
		return context.DeadlineExceeded
	case <-ctx.Done():
		stop()
		return ctx.Err()
	}
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	pg, cancel := p.bind(ctx)
	defer cancel()
	info, err := pg.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) MatchText(ctx context.Context, pattern string) (bool, error) {
	pg, cancel := p.bind(ctx)
	defer cancel()
	res, err := pg.Eval(`(src) => {
		const re = new RegExp(src, 'i');
		const text = document.body ? document.body.innerText : '';
		return re.test(text) || re.test(document.title || '');
	}`, pattern)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (p *rodPage) CountSelector(ctx context.Context, selector string) (int, error) {
	pg, cancel := p.bind(ctx)
	defer cancel()
	res, err := pg.Eval(`(sel) => document.querySelectorAll(sel).length`, selector)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (p *rodPage) Content(ctx context.Context) (string, error) {
	pg, cancel := p.bind(ctx)
	defer cancel()
	return pg.HTML()
}

func (p *rodPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	pg, cancel := p.bind(ctx)
	defer cancel()
	return pg.Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// Close runs on its own short deadline, not the request context, so an
// attempt aborted by the caller's deadline still closes its tab.
func (p *rodPage) Close() error {
	p.resetIdleWaiter()
	return closeRodPage(p.page)
}

func closeRodPage(page *rod.Page) error {
	return page.Context(context.Background()).Timeout(closeTimeout).Close()
}

// toHeadersMap converts a plain string map to proto.NetworkHeaders
// (map[string]gson.JSON).
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
