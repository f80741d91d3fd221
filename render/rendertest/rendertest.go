// Package rendertest provides a scripted rendering backend for tests.
//
// Each page opened through a Backend follows a PageScript. Time is read from a
// clock.Clock, so a challenge that "lasts one second" ends once a fake clock has
// been slept past it.
package rendertest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/use-agent/pagegate/clock"
	"github.com/use-agent/pagegate/render"
)

// PNG is the screenshot returned when a script does not set one.
var PNG = []byte("\x89PNG\r\n\x1a\nrendertest")

// Phase is one stretch of a page's life after navigation. A Phase with a zero
// For lasts forever and must be last.
type Phase struct {
	For  time.Duration
	URL  string // empty keeps the navigated URL
	HTML string
}

// PageScript describes how one page behaves.
type PageScript struct {
	NavigateErr   error
	Status        int
	Phases        []Phase
	IdleErr       error
	QueryErr      error // returned by MatchText, CountSelector and URL
	ContentErr    error
	ScreenshotErr error
	Screenshot    []byte
}

// Page returns a script for a page that always shows body.
func Page(body string) PageScript {
	return PageScript{Status: 200, Phases: []Phase{{HTML: body}}}
}

// Backend is a fake Launcher. Page scripts are consumed in order; the last one
// repeats.
type Backend struct {
	clock   clock.Clock
	scripts []PageScript

	LaunchErr       error
	NewContextErr   error
	CloseErr        error
	ContextCloseErr error
	PageCloseErr    error // returned by every page Close; the page still closes

	mu             sync.Mutex
	launches       int
	processCloses  int
	contextCloses  int
	contexts       []render.ContextOptions
	pagesOpened    int
	pagesClosed    int
	open           int
	maxOpen        int
	queries        int
	navigations    []string
	viewports      [][2]int
	screenshotFull []bool
}

// New creates a backend reading time from clk.
func New(clk clock.Clock, scripts ...PageScript) *Backend {
	if len(scripts) == 0 {
		scripts = []PageScript{Page("<html><body>ok</body></html>")}
	}
	return &Backend{clock: clk, scripts: scripts}
}

// Launch implements render.Launcher.
func (b *Backend) Launch(ctx context.Context, _ render.LaunchOptions) (render.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.LaunchErr != nil {
		return nil, b.LaunchErr
	}
	b.launches++
	return &process{b: b}, nil
}

// Launches returns the number of successful launches.
func (b *Backend) Launches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.launches
}

// ProcessCloses returns the number of process Close calls.
func (b *Backend) ProcessCloses() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.processCloses
}

// ContextCloses returns the number of context Close calls.
func (b *Backend) ContextCloses() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.contextCloses
}

// Contexts returns the options of every context created.
func (b *Backend) Contexts() []render.ContextOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]render.ContextOptions(nil), b.contexts...)
}

// PagesOpened returns the number of pages opened.
func (b *Backend) PagesOpened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pagesOpened
}

// OpenPages returns the number of pages not yet closed.
func (b *Backend) OpenPages() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// MaxOpenPages returns the highest number of simultaneously open pages.
func (b *Backend) MaxOpenPages() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxOpen
}

// Queries returns the number of detector queries (MatchText and CountSelector).
func (b *Backend) Queries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queries
}

// Navigations returns every URL passed to Navigate.
func (b *Backend) Navigations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.navigations...)
}

// Viewports returns every viewport set on a page.
func (b *Backend) Viewports() [][2]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][2]int(nil), b.viewports...)
}

// ScreenshotModes returns the fullPage flag of every screenshot taken.
func (b *Backend) ScreenshotModes() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bool(nil), b.screenshotFull...)
}

type process struct {
	b      *Backend
	closed bool
}

func (p *process) NewContext(ctx context.Context, opts render.ContextOptions) (render.BrowserContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if p.b.NewContextErr != nil {
		return nil, p.b.NewContextErr
	}
	p.b.contexts = append(p.b.contexts, opts)
	return &browserContext{b: p.b}, nil
}

func (p *process) Close() error {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	p.b.processCloses++
	p.closed = true
	return p.b.CloseErr
}

type browserContext struct {
	b *Backend
}

func (c *browserContext) NewPage(ctx context.Context) (render.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.pagesOpened
	if idx >= len(b.scripts) {
		idx = len(b.scripts) - 1
	}
	b.pagesOpened++
	b.open++
	if b.open > b.maxOpen {
		b.maxOpen = b.open
	}
	return &page{b: b, script: b.scripts[idx]}, nil
}

func (c *browserContext) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.contextCloses++
	return c.b.ContextCloseErr
}

type page struct {
	b      *Backend
	script PageScript

	mu          sync.Mutex
	url         string
	navigatedAt time.Time
	navigated   bool
	closed      bool
}

var errPageClosed = errors.New("rendertest: page closed")

func (p *page) SetDefaultTimeout(time.Duration) {}

func (p *page) SetViewport(ctx context.Context, width, height int) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.b.mu.Lock()
	p.b.viewports = append(p.b.viewports, [2]int{width, height})
	p.b.mu.Unlock()
	return nil
}

func (p *page) Navigate(ctx context.Context, url string, _ render.WaitUntil) (int, error) {
	if err := p.check(ctx); err != nil {
		return 0, err
	}
	p.b.mu.Lock()
	p.b.navigations = append(p.b.navigations, url)
	p.b.mu.Unlock()

	if p.script.NavigateErr != nil {
		return 0, p.script.NavigateErr
	}
	p.mu.Lock()
	p.url = url
	p.navigatedAt = p.b.clock.Now()
	p.navigated = true
	p.mu.Unlock()
	return p.script.Status, nil
}

func (p *page) WaitForLoadState(ctx context.Context, _ render.WaitUntil, _ time.Duration) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	return p.script.IdleErr
}

// phase returns the phase active at the current clock time.
func (p *page) phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.navigated || len(p.script.Phases) == 0 {
		return Phase{URL: p.url}
	}
	elapsed := p.b.clock.Now().Sub(p.navigatedAt)
	var end time.Duration
	for _, ph := range p.script.Phases {
		if ph.For == 0 {
			return p.withURL(ph)
		}
		end += ph.For
		if elapsed < end {
			return p.withURL(ph)
		}
	}
	return p.withURL(p.script.Phases[len(p.script.Phases)-1])
}

func (p *page) withURL(ph Phase) Phase {
	if ph.URL == "" {
		ph.URL = p.url
	}
	return ph
}

func (p *page) URL(ctx context.Context) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	if p.script.QueryErr != nil {
		return "", p.script.QueryErr
	}
	return p.phase().URL, nil
}

func (p *page) document() (*goquery.Document, error) {
	node, err := html.Parse(strings.NewReader(p.phase().HTML))
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromNode(node), nil
}

func (p *page) query(ctx context.Context) (*goquery.Document, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	p.b.mu.Lock()
	p.b.queries++
	p.b.mu.Unlock()
	if p.script.QueryErr != nil {
		return nil, p.script.QueryErr
	}
	return p.document()
}

func (p *page) MatchText(ctx context.Context, pattern string) (bool, error) {
	doc, err := p.query(ctx)
	if err != nil {
		return false, err
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return false, fmt.Errorf("rendertest: bad pattern: %w", err)
	}
	text := doc.Find("title").Text() + "\n" + doc.Find("body").Text()
	return re.MatchString(text), nil
}

func (p *page) CountSelector(ctx context.Context, selector string) (int, error) {
	doc, err := p.query(ctx)
	if err != nil {
		return 0, err
	}
	return doc.Find(selector).Length(), nil
}

func (p *page) Content(ctx context.Context) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	if p.script.ContentErr != nil {
		return "", p.script.ContentErr
	}
	return p.phase().HTML, nil
}

func (p *page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	if p.script.ScreenshotErr != nil {
		return nil, p.script.ScreenshotErr
	}
	p.b.mu.Lock()
	p.b.screenshotFull = append(p.b.screenshotFull, fullPage)
	p.b.mu.Unlock()
	if p.script.Screenshot != nil {
		return p.script.Screenshot, nil
	}
	return PNG, nil
}

func (p *page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.b.mu.Lock()
	p.b.pagesClosed++
	p.b.open--
	err := p.b.PageCloseErr
	p.b.mu.Unlock()
	return err
}

func (p *page) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPageClosed
	}
	return nil
}
