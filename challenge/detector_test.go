package challenge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/use-agent/pagegate/clock"
	"github.com/use-agent/pagegate/render"
	"github.com/use-agent/pagegate/render/rendertest"
)

// openPage navigates a fresh rendertest page following script.
func openPage(t *testing.T, clk clock.Clock, script rendertest.PageScript) (render.Page, *rendertest.Backend) {
	t.Helper()
	ctx := context.Background()
	b := rendertest.New(clk, script)
	proc, err := b.Launch(ctx, render.LaunchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	bctx, err := proc.NewContext(ctx, render.ContextOptions{})
	if err != nil {
		t.Fatal(err)
	}
	p, err := bctx.NewPage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Navigate(ctx, "https://example.com/", render.WaitDOMContentLoaded); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p, b
}

func TestSignatures_EachDetectedAlone(t *testing.T) {
	t.Parallel()

	bodies := map[string]string{
		"checking-browser":           `<body><h1>Checking your browser before accessing example.com</h1></body>`,
		"just-a-moment":              `<html><head><title>Just a moment...</title></head><body></body></html>`,
		"verify-human":               `<body><p>Please VERIFY YOU ARE HUMAN by completing the action below.</p></body>`,
		"cloudflare-challenge-frame": `<body><iframe src="https://challenges.cloudflare.com/cdn-cgi/challenge-platform/x"></iframe></body>`,
	}

	sigs := Signatures()
	if len(sigs) != len(bodies) {
		t.Fatalf("signature count = %d, test covers %d", len(sigs), len(bodies))
	}
	for _, sig := range sigs {
		body, ok := bodies[sig.Name]
		if !ok {
			t.Errorf("signature %q has no test page", sig.Name)
			continue
		}
		t.Run(sig.Name, func(t *testing.T) {
			t.Parallel()
			p, _ := openPage(t, clock.NewFake(time.Unix(0, 0)), rendertest.Page(body))
			v, err := NewDetector(nil).Inspect(context.Background(), p)
			if err != nil {
				t.Fatalf("Inspect: %v", err)
			}
			switch sig.Kind {
			case KindText:
				if !v.Text || v.Frame {
					t.Errorf("verdict = %+v, want text only", v)
				}
			case KindFrame:
				if v.Text || !v.Frame {
					t.Errorf("verdict = %+v, want frame only", v)
				}
			}
		})
	}
}

func TestDetector_CleanPage(t *testing.T) {
	t.Parallel()

	p, _ := openPage(t, clock.NewFake(time.Unix(0, 0)), rendertest.Page(
		`<body><h1>Welcome</h1><iframe src="https://www.youtube.com/embed/x"></iframe></body>`))
	if NewDetector(nil).Detect(context.Background(), p) {
		t.Error("clean page should not be detected as a challenge")
	}
}

func TestDetector_QueryErrorsCountAsAbsent(t *testing.T) {
	t.Parallel()

	queryErr := errors.New("execution context was destroyed")
	p, _ := openPage(t, clock.NewFake(time.Unix(0, 0)), rendertest.PageScript{
		Status:   200,
		Phases:   []rendertest.Phase{{HTML: `<title>Just a moment...</title>`}},
		QueryErr: queryErr,
	})

	d := NewDetector(nil)
	v, err := d.Inspect(context.Background(), p)
	if !errors.Is(err, queryErr) {
		t.Errorf("Inspect err = %v, want wrapped query error", err)
	}
	if v.Present() {
		t.Errorf("verdict = %+v, failed signals must be absent", v)
	}
	if d.Detect(context.Background(), p) {
		t.Error("Detect should report absent on query failure")
	}
}

func TestTextPatternAndFrameSelector(t *testing.T) {
	t.Parallel()

	pattern := TextPattern()
	for _, want := range []string{"checking your browser", "just a moment", "verify you are human"} {
		if !strings.Contains(pattern, want) {
			t.Errorf("TextPattern %q missing %q", pattern, want)
		}
	}
	if got := FrameSelector(); got != `iframe[src*="challenges.cloudflare.com"]` {
		t.Errorf("FrameSelector = %q", got)
	}
	if SignaturesVersion == "" {
		t.Error("SignaturesVersion must be set")
	}
}

func TestSignature_PatternEscapesMetacharacters(t *testing.T) {
	t.Parallel()

	s := Signature{Name: "dots", Kind: KindText, Match: "a.b"}
	if got := s.Pattern(); got != `a\.b` {
		t.Errorf("Pattern = %q", got)
	}
	if s.Selector() != "" {
		t.Error("text signature should have no selector")
	}
	if KindFrame.String() != "frame" || KindText.String() != "text" {
		t.Error("Kind.String mismatch")
	}
}
