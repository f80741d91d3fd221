package probe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tls "github.com/refraction-networking/utls"

	"github.com/use-agent/pagegate/fingerprint"
	"github.com/use-agent/pagegate/models"
)

type firstSource struct{}

func (firstSource) IntN(int) int { return 0 }

func newProber(opts ...Option) *Prober {
	base := []Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithProfile(fingerprint.New(firstSource{}, "probe-test/1.0")),
	}
	return New("", append(base, opts...)...)
}

func TestProbe(t *testing.T) {
	t.Parallel()

	var gotUA atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title> Release notes </title></head><body><p>ok</p></body></html>`))
	})
	mux.HandleFunc("/guarded", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`<html><head><title>Just a moment...</title></head><body><iframe src="https://challenges.cloudflare.com/x"></iframe></body></html>`))
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/article", http.StatusFound)
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"title":"Just a moment"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tests := []struct {
		path       string
		status     int
		finalPath  string
		title      string
		signatures []string
	}{
		{"/article", 200, "/article", "Release notes", nil},
		{"/guarded", 503, "/guarded", "Just a moment...", []string{"just-a-moment", "cloudflare-challenge-frame"}},
		{"/moved", 200, "/article", "Release notes", nil},
		{"/data", 200, "/data", "", nil},
	}
	p := newProber()
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			res, err := p.Probe(context.Background(), srv.URL+tt.path)
			if err != nil {
				t.Fatal(err)
			}
			if res.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", res.StatusCode, tt.status)
			}
			if !strings.HasSuffix(res.FinalURL, tt.finalPath) {
				t.Errorf("final URL = %q", res.FinalURL)
			}
			if res.Title != tt.title {
				t.Errorf("title = %q, want %q", res.Title, tt.title)
			}
			if !slices.Equal(res.Signatures, tt.signatures) || res.Challenge() != (len(tt.signatures) > 0) {
				t.Errorf("signatures = %v, want %v", res.Signatures, tt.signatures)
			}
		})
	}
	if ua, _ := gotUA.Load().(string); ua != "probe-test/1.0" {
		t.Errorf("User-Agent = %q", ua)
	}
}

func TestProbe_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := newProber().Probe(context.Background(), addr)
	if !errors.Is(err, models.ErrTransport) {
		t.Fatalf("err = %v, want transport error", err)
	}
}

func TestProbe_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := newProber(WithTimeout(50*time.Millisecond)).Probe(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("probe ignored its timeout")
	}
}

func TestExtractTitle(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		`<title>A</title>`:               "A",
		`<html><head></head></html>`:     "",
		`<title></title><h1>B</h1>`:      "",
		`<svg><title>icon</title></svg>`: "icon",
	}
	for in, want := range tests {
		if got := extractTitle(in); got != want {
			t.Errorf("extractTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestChromeH1Spec_ForcesHTTP1(t *testing.T) {
	spec, err := chromeH1Spec()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			found = true
			if !slices.Equal(alpn.AlpnProtocols, []string{"http/1.1"}) {
				t.Errorf("ALPN = %v", alpn.AlpnProtocols)
			}
		}
	}
	if !found {
		t.Error("spec has no ALPN extension")
	}
}

func TestUClient_FallsBackWhenChromeHelloFails(t *testing.T) {
	var buf bytes.Buffer
	p := New("", WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	p.helloSpec = func() (*tls.ClientHelloSpec, error) { return nil, errors.New("unsupported preset") }

	for range 2 {
		client, server := net.Pipe()
		u, err := p.uclient(client, "example.com")
		if err != nil {
			t.Fatalf("uclient: %v", err)
		}
		if u.ClientHelloID != tls.HelloGolang {
			t.Errorf("ClientHelloID = %v, want the Go hello", u.ClientHelloID)
		}
		client.Close()
		server.Close()
	}
	if n := strings.Count(buf.String(), "chrome tls fingerprint unavailable"); n != 1 {
		t.Errorf("fallback warned %d times, want 1", n)
	}
}
