// Package render drives a rendering engine on behalf of the retrieval core.
//
// The capability is layered the way a real browser is:
//
//	Launcher ─Launch→ Process ─NewContext→ BrowserContext ─NewPage→ Page
//
// Session owns one Process and one BrowserContext and hands out one Page at a
// time. The go-rod backend lives in rod.go; a scripted fake for tests lives in
// render/rendertest.
package render

import (
	"context"
	"time"

	"github.com/use-agent/pagegate/fingerprint"
)

// WaitUntil names a page lifecycle milestone.
type WaitUntil string

const (
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitLoad             WaitUntil = "load"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// LaunchOptions configures the browser process.
type LaunchOptions struct {
	Headless   bool
	NoSandbox  bool
	BrowserBin string
	Proxy      string
}

// ContextOptions configures a browsing context. Every page opened in the
// context inherits these settings; InitScripts run before any site script.
type ContextOptions struct {
	UserAgent      string
	AcceptLanguage string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	InitScripts    []string
}

// ContextOptionsFor derives context options from a fingerprint profile.
func ContextOptionsFor(p *fingerprint.Profile) ContextOptions {
	return ContextOptions{
		UserAgent:      p.UserAgent,
		AcceptLanguage: p.AcceptLanguage(),
		ViewportWidth:  p.ViewportWidth,
		ViewportHeight: p.ViewportHeight,
		Locale:         p.Locale,
		TimezoneID:     p.TimezoneID,
		InitScripts:    p.InitScripts(),
	}
}

// Launcher starts browser processes.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Process, error)
}

// Process is a running browser.
type Process interface {
	NewContext(ctx context.Context, opts ContextOptions) (BrowserContext, error)
	Close() error
}

// BrowserContext is an isolated browsing context inside a Process.
type BrowserContext interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab. Every blocking method is bounded by ctx and by the
// page's default timeout.
type Page interface {
	// SetDefaultTimeout bounds each subsequent page operation.
	SetDefaultTimeout(d time.Duration)

	SetViewport(ctx context.Context, width, height int) error

	// Navigate loads url and returns once the until milestone fires.
	// status is the main document's HTTP status, or 0 when unknown.
	Navigate(ctx context.Context, url string, until WaitUntil) (status int, err error)

	// WaitForLoadState waits at most timeout for state after a Navigate.
	WaitForLoadState(ctx context.Context, state WaitUntil, timeout time.Duration) error

	// URL returns the page's current address.
	URL(ctx context.Context) (string, error)

	// MatchText reports whether the rendered text or title matches the
	// regular expression pattern, case-insensitively.
	MatchText(ctx context.Context, pattern string) (bool, error)

	// CountSelector returns the number of elements matching a CSS selector.
	CountSelector(ctx context.Context, selector string) (int, error)

	// Content returns the serialised DOM.
	Content(ctx context.Context) (string, error)

	// Screenshot captures a PNG of the viewport or of the full page.
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)

	Close() error
}
