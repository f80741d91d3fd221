// Package fingerprint builds the client identity a render session presents to
// target sites: user agent, viewport, locale, timezone and the init scripts
// that mask automation signals.
package fingerprint

import (
	"math/rand/v2"
	"slices"
	"strings"
)

// Default identity values used when a profile is not customised.
const (
	DefaultViewportWidth  = 1920
	DefaultViewportHeight = 1080
	DefaultLocale         = "en-US"
	DefaultTimezoneID     = "America/New_York"
)

// userAgents is the pool of realistic desktop browser signatures.
var userAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36 Edg/130.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
}

// UserAgents returns a copy of the user agent pool.
func UserAgents() []string {
	out := make([]string, len(userAgents))
	copy(out, userAgents)
	return out
}

// Source is the random source used for user agent selection and retry jitter.
// *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	IntN(n int) int
}

type systemSource struct{}

func (systemSource) IntN(n int) int { return rand.IntN(n) }

// SystemSource returns a Source backed by the math/rand/v2 global generator.
func SystemSource() Source { return systemSource{} }

// Profile is a client identity. A session keeps its own Clone, so writing the
// exported fields of a Profile a session handed out changes nothing in that
// session.
type Profile struct {
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string

	languages []string
	scripts   []Script
}

// New creates a Profile. When explicitUserAgent is empty a user agent is picked
// uniformly from the pool using src; a nil src uses SystemSource.
func New(src Source, explicitUserAgent string) *Profile {
	ua := strings.TrimSpace(explicitUserAgent)
	if ua == "" {
		if src == nil {
			src = SystemSource()
		}
		ua = userAgents[src.IntN(len(userAgents))]
	}

	langs := languagesFor(DefaultLocale)
	return &Profile{
		UserAgent:      ua,
		ViewportWidth:  DefaultViewportWidth,
		ViewportHeight: DefaultViewportHeight,
		Locale:         DefaultLocale,
		TimezoneID:     DefaultTimezoneID,
		languages:      langs,
		scripts:        buildScripts(langs),
	}
}

// Clone returns a deep copy of p.
func (p *Profile) Clone() *Profile {
	c := *p
	c.languages = slices.Clone(p.languages)
	c.scripts = slices.Clone(p.scripts)
	return &c
}

// Languages returns the navigator.languages list the profile advertises.
func (p *Profile) Languages() []string {
	out := make([]string, len(p.languages))
	copy(out, p.languages)
	return out
}

// AcceptLanguage renders the language list as an Accept-Language header value.
func (p *Profile) AcceptLanguage() string {
	parts := make([]string, 0, len(p.languages))
	for i, l := range p.languages {
		if i == 0 {
			parts = append(parts, l)
			continue
		}
		parts = append(parts, l+";q=0.9")
	}
	return strings.Join(parts, ",")
}

// Scripts returns the named init scripts in execution order.
func (p *Profile) Scripts() []Script {
	out := make([]Script, len(p.scripts))
	copy(out, p.scripts)
	return out
}

// InitScripts returns the script sources in execution order.
func (p *Profile) InitScripts() []string {
	out := make([]string, len(p.scripts))
	for i, s := range p.scripts {
		out[i] = s.Source
	}
	return out
}

// languagesFor expands a locale like "en-US" to ["en-US", "en"].
func languagesFor(locale string) []string {
	base, _, found := strings.Cut(locale, "-")
	if !found || base == "" {
		return []string{locale}
	}
	return []string{locale, base}
}
