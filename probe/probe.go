// Package probe checks a URL over plain HTTP with a Chrome-like TLS
// fingerprint, without launching a browser. It reports whether the raw
// response is a challenge interstitial so callers can decide if a rendered
// retrieval is needed.
package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/html"

	"github.com/use-agent/pagegate/challenge"
	"github.com/use-agent/pagegate/fingerprint"
	"github.com/use-agent/pagegate/models"
)

// maxBody caps the bytes read from a response.
const maxBody = 10 << 20

// chromeH1Spec builds a Chrome-like TLS ClientHello with ALPN forced to
// http/1.1, since http.Transport cannot speak h2 over a utls connection. A
// fresh spec is built per connection because utls fills extension state in
// place during the handshake.
func chromeH1Spec() (*tls.ClientHelloSpec, error) {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return nil, fmt.Errorf("build chrome client hello: %w", err)
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	return &spec, nil
}

// Result is what a probe learned about a URL.
type Result struct {
	StatusCode  int
	FinalURL    string
	ContentType string
	Title       string
	// Signatures names the challenge signatures found in the raw HTML.
	Signatures []string
}

// Challenge reports whether any challenge signature was found.
func (r *Result) Challenge() bool { return len(r.Signatures) > 0 }

// Prober issues probe requests. It is safe for concurrent use.
type Prober struct {
	client  *http.Client
	profile *fingerprint.Profile
	timeout time.Duration
	logger  *slog.Logger

	helloSpec    func() (*tls.ClientHelloSpec, error)
	fallbackOnce sync.Once
}

// Option customises a Prober.
type Option func(*Prober)

// WithTimeout bounds each probe.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithProfile sets the fingerprint whose user agent and languages are sent.
func WithProfile(profile *fingerprint.Profile) Option {
	return func(p *Prober) {
		if profile != nil {
			p.profile = profile
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// New returns a Prober. proxy, if non-empty, is an http(s) proxy URL.
func New(proxy string, opts ...Option) *Prober {
	transport := &http.Transport{
		ForceAttemptHTTP2:   false,
		MaxIdleConns:        16,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if proxy != "" {
		if proxyURL, err := url.Parse(proxy); err == nil && (proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	p := &Prober{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		timeout:   15 * time.Second,
		logger:    slog.Default(),
		helloSpec: chromeH1Spec,
	}
	transport.DialTLSContext = p.dialTLS
	for _, o := range opts {
		o(p)
	}
	if p.profile == nil {
		p.profile = fingerprint.New(nil, "")
	}
	return p
}

func (p *Prober) dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)
	tlsConn, err := p.uclient(conn, host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// uclient wraps conn in a utls client presenting the Chrome hello. If that
// hello cannot be built it falls back to the Go hello limited to http/1.1
// and warns once per Prober.
func (p *Prober) uclient(conn net.Conn, host string) (*tls.UConn, error) {
	spec, err := p.helloSpec()
	if err != nil {
		p.fallbackOnce.Do(func() {
			p.logger.Warn("probe: chrome tls fingerprint unavailable, using the Go client hello", "error", err)
		})
		cfg := &tls.Config{ServerName: host, NextProtos: []string{"http/1.1"}}
		return tls.UClient(conn, cfg, tls.HelloGolang), nil
	}
	u := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
	if err := u.ApplyPreset(spec); err != nil {
		return nil, fmt.Errorf("probe: apply tls spec: %w", err)
	}
	return u, nil
}

// Probe fetches rawURL once. Error statuses are reported in the result, not
// as errors, because challenge pages are usually served as 403 or 503.
func (p *Prober) Probe(ctx context.Context, rawURL string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, models.NewRetrievalError(models.ErrCodeInvalidInput, "build probe request", err)
	}
	req.Header.Set("User-Agent", p.profile.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", p.profile.AcceptLanguage())
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, models.NewRetrievalError(models.ErrCodeTransport, "probe request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, models.NewRetrievalError(models.ErrCodeTransport, "read probe body", err)
	}

	res := &Result{
		StatusCode:  resp.StatusCode,
		FinalURL:    resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
	}
	if isHTMLContentType(res.ContentType) {
		doc := string(body)
		res.Title = extractTitle(doc)
		res.Signatures = challenge.MatchDocument(doc)
	}

	p.logger.Info("probe finished",
		"url", rawURL,
		"status", res.StatusCode,
		"challenge", res.Challenge(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return res, nil
}

// isHTMLContentType returns true if the content-type header looks like HTML.
func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return ct == "" || strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// extractTitle uses the Go HTML tokenizer to find the first <title> element.
func extractTitle(htmlStr string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(htmlStr))
	inTitle := false
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				inTitle = true
			}
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(tokenizer.Text()))
			}
		case html.EndTagToken:
			if inTitle {
				return ""
			}
		}
	}
}
