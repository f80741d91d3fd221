package challenge

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// ScanMode selects how captured HTML is checked for leftover challenge widgets.
type ScanMode string

const (
	// ScanStructural matches widget elements by CSS selector.
	ScanStructural ScanMode = "structural"
	// ScanSubstring flags any occurrence of a marker string in the raw HTML.
	ScanSubstring ScanMode = "substring"
)

// ParseScanMode validates a mode name. Empty means ScanStructural.
func ParseScanMode(s string) (ScanMode, error) {
	switch ScanMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScanStructural:
		return ScanStructural, nil
	case ScanSubstring:
		return ScanSubstring, nil
	default:
		return "", fmt.Errorf("unknown taint scan mode %q", s)
	}
}

// Marker is a named challenge widget.
type Marker struct {
	Name     string
	Selector string
}

var widgetMarkers = []Marker{
	{Name: "turnstile-frame", Selector: `iframe[src*="challenges.cloudflare.com"]`},
	{Name: "turnstile-widget", Selector: ".cf-turnstile"},
	{Name: "turnstile-script", Selector: `script[src*="challenges.cloudflare.com/turnstile"]`},
	{Name: "challenge-running", Selector: "#challenge-running"},
	{Name: "cf-challenge-running", Selector: "#cf-challenge-running"},
	{Name: "challenge-form", Selector: "#challenge-form"},
	{Name: "challenge-stage", Selector: "#challenge-stage"},
}

var substringMarkers = []string{"turnstile", "cf-challenge"}

// Markers returns a copy of the structural marker set.
func Markers() []Marker {
	return append([]Marker(nil), widgetMarkers...)
}

type compiledMarker struct {
	name string
	sel  cascadia.Selector
}

// Scanner checks captured HTML for challenge widgets. It is safe for
// concurrent use.
type Scanner struct {
	mode     ScanMode
	compiled []compiledMarker
}

// NewScanner returns a Scanner for mode. Unknown modes scan structurally.
func NewScanner(mode ScanMode) *Scanner {
	s := &Scanner{mode: mode}
	if mode == ScanSubstring {
		return s
	}
	s.mode = ScanStructural
	for _, m := range widgetMarkers {
		s.compiled = append(s.compiled, compiledMarker{name: m.Name, sel: cascadia.MustCompile(m.Selector)})
	}
	return s
}

// Mode returns the scan mode.
func (s *Scanner) Mode() ScanMode { return s.mode }

// Scan returns the names of the markers found in rawHTML, in marker order.
func (s *Scanner) Scan(rawHTML string) []string {
	if s.mode == ScanSubstring {
		return scanSubstrings(rawHTML)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		// Unparseable markup cannot be checked structurally.
		return scanSubstrings(rawHTML)
	}
	var found []string
	for _, m := range s.compiled {
		if doc.FindMatcher(m.sel).Length() > 0 {
			found = append(found, m.name)
		}
	}
	return found
}

func scanSubstrings(rawHTML string) []string {
	lower := strings.ToLower(rawHTML)
	var found []string
	for _, m := range substringMarkers {
		if strings.Contains(lower, m) {
			found = append(found, m)
		}
	}
	return found
}

// ScanHTML is a one-off Scan.
func ScanHTML(rawHTML string, mode ScanMode) []string {
	return NewScanner(mode).Scan(rawHTML)
}
