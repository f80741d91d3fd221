// Package challenge detects anti-bot interstitials on a live page, waits for
// them to clear, and scans captured HTML for leftover challenge widgets.
package challenge

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// SignaturesVersion identifies the signature set. Bump it whenever a signature
// is added, removed or changed.
const SignaturesVersion = "2024.12-1"

// Kind is the signal a signature contributes to.
type Kind int

const (
	// KindText matches rendered page text, case-insensitively.
	KindText Kind = iota
	// KindFrame matches the src of an embedded frame.
	KindFrame
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindFrame:
		return "frame"
	default:
		return "unknown"
	}
}

// Signature is one named interstitial fingerprint.
type Signature struct {
	Name  string
	Kind  Kind
	Match string
}

var signatures = []Signature{
	{Name: "checking-browser", Kind: KindText, Match: "checking your browser"},
	{Name: "just-a-moment", Kind: KindText, Match: "just a moment"},
	{Name: "verify-human", Kind: KindText, Match: "verify you are human"},
	{Name: "cloudflare-challenge-frame", Kind: KindFrame, Match: "challenges.cloudflare.com"},
}

// Signatures returns a copy of the active signature set.
func Signatures() []Signature {
	return append([]Signature(nil), signatures...)
}

// Selector returns the CSS selector a frame signature matches.
func (s Signature) Selector() string {
	if s.Kind != KindFrame {
		return ""
	}
	return `iframe[src*="` + s.Match + `"]`
}

// Pattern returns the regular expression a text signature matches.
func (s Signature) Pattern() string {
	if s.Kind != KindText {
		return ""
	}
	return regexp.QuoteMeta(s.Match)
}

// TextPattern returns one alternation over every text signature.
func TextPattern() string { return textPatternOf(signatures) }

// FrameSelector returns one selector group over every frame signature.
func FrameSelector() string { return frameSelectorOf(signatures) }

func textPatternOf(sigs []Signature) string {
	var parts []string
	for _, s := range sigs {
		if s.Kind == KindText {
			parts = append(parts, s.Pattern())
		}
	}
	return strings.Join(parts, "|")
}

func frameSelectorOf(sigs []Signature) string {
	var parts []string
	for _, s := range sigs {
		if s.Kind == KindFrame {
			parts = append(parts, s.Selector())
		}
	}
	return strings.Join(parts, ", ")
}

// MatchDocument returns the names of the signatures present in a static HTML
// document, in signature order. Text signatures are matched against the
// title and body text, frame signatures against the parsed markup.
func MatchDocument(rawHTML string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}
	text := strings.ToLower(doc.Find("title").Text() + "\n" + doc.Find("body").Text())

	var found []string
	for _, s := range signatures {
		switch s.Kind {
		case KindText:
			if strings.Contains(text, s.Match) {
				found = append(found, s.Name)
			}
		case KindFrame:
			if doc.FindMatcher(cascadia.MustCompile(s.Selector())).Length() > 0 {
				found = append(found, s.Name)
			}
		}
	}
	return found
}
