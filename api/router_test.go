package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagegate/cache"
	"github.com/use-agent/pagegate/clock"
	"github.com/use-agent/pagegate/config"
	"github.com/use-agent/pagegate/models"
	"github.com/use-agent/pagegate/probe"
	"github.com/use-agent/pagegate/render/rendertest"
	"github.com/use-agent/pagegate/retrieval"
)

const (
	apiKey       = "test-key"
	article      = `<html><head><title>Docs</title></head><body><h1>Docs</h1></body></html>`
	interstitial = `<html><head><title>Just a moment...</title></head><body>Checking your browser</body></html>`
)

type zeroSource struct{}

func (zeroSource) IntN(int) int { return 0 }

type server struct {
	handler http.Handler
	backend *rendertest.Backend
	cfg     *config.Config
}

func newServer(t *testing.T, scripts ...rendertest.PageScript) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Load()
	cfg.Server.Mode = gin.TestMode
	cfg.Auth.APIKeys = []string{apiKey}
	cfg.RateLimit.RequestsPerSecond = 1000
	cfg.RateLimit.Burst = 1000
	cfg.Retrieval.ExtraWait = 0
	cfg.Screenshot.Dir = t.TempDir()

	clk := clock.NewFake(time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC))
	b := rendertest.New(clk, scripts...)
	logger := slog.New(slog.DiscardHandler)
	sc := cfg.SessionConfig()
	sc.Random = zeroSource{}
	pool := retrieval.NewPool(cfg.Browser.Sessions, retrieval.Factory(b, sc, cfg.OrchestratorConfig(), logger, retrieval.WithClock(clk)), logger)
	cc := cache.New(cfg.Cache.MaxEntries, cfg.Cache.Retention)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		cc.Close()
		_ = pool.Close()
	})

	r := NewRouter(ctx, cfg, Deps{
		Pool:      pool,
		Prober:    probe.New("", probe.WithLogger(logger)),
		Cache:     cc,
		Version:   "test",
		StartTime: time.Now(),
	})
	return &server{handler: r, backend: b, cfg: cfg}
}

func (s *server) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body, err)
	}
	return v
}

func TestHealth(t *testing.T) {
	s := newServer(t, rendertest.Page(article))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	h := decode[models.HealthResponse](t, w)
	if h.Status != "healthy" || h.PoolStats.Sessions != 2 || h.Version != "test" {
		t.Errorf("health = %+v", h)
	}
	if h.ScriptsVersion == "" || h.SignaturesVersion == "" {
		t.Errorf("versions missing: %+v", h)
	}
}

func TestUnknownRoute(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodGet, "/api/v1/unknown", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if e := decode[models.ErrorResponse](t, w); e.Error == nil || e.Error.Code != models.ErrCodeNotFound {
		t.Errorf("body = %s", w.Body)
	}
}

func TestFetch_RequiresAuth(t *testing.T) {
	s := newServer(t, rendertest.Page(article))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/fetch", strings.NewReader(`{"url":"https://docs.example.com"}`))
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	if s.backend.Launches() != 0 {
		t.Error("unauthenticated request reached the browser")
	}
}

func TestFetch_Success(t *testing.T) {
	s := newServer(t, rendertest.Page(article))

	w := s.do(t, http.MethodPost, "/api/v1/fetch", map[string]any{"url": "https://docs.example.com/a"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	resp := decode[models.FetchResponse](t, w)
	if !resp.Success || resp.HTML != article || resp.StatusCode != 200 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.FinalURL != "https://docs.example.com/a" {
		t.Errorf("final URL = %q", resp.FinalURL)
	}
	if len(resp.Attempts) != 1 || resp.Attempts[0].Outcome != "success" {
		t.Errorf("attempts = %+v", resp.Attempts)
	}
	if resp.CacheStatus != "" {
		t.Errorf("cache status = %q without max_age", resp.CacheStatus)
	}
}

func TestFetch_CacheHit(t *testing.T) {
	s := newServer(t, rendertest.Page(article))
	body := map[string]any{"url": "https://docs.example.com/a", "max_age": 60000}

	first := decode[models.FetchResponse](t, s.do(t, http.MethodPost, "/api/v1/fetch", body))
	if first.CacheStatus != "miss" {
		t.Fatalf("first cache status = %q", first.CacheStatus)
	}
	second := decode[models.FetchResponse](t, s.do(t, http.MethodPost, "/api/v1/fetch", body))
	if second.CacheStatus != "hit" || second.HTML != article {
		t.Fatalf("second = %+v", second)
	}
	if got := s.backend.Navigations(); len(got) != 1 {
		t.Errorf("navigations = %d, want 1", len(got))
	}
	if h := decode[models.HealthResponse](t, s.do(t, http.MethodGet, "/api/v1/health", nil)); h.CachedResponses != 1 {
		t.Errorf("cached responses = %d", h.CachedResponses)
	}
}

func TestFetch_ChallengeNeverClears(t *testing.T) {
	s := newServer(t, rendertest.PageScript{Status: 503, Phases: []rendertest.Phase{{HTML: interstitial}}})

	w := s.do(t, http.MethodPost, "/api/v1/fetch", map[string]any{"url": "https://guarded.example.com", "max_retries": 2})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	resp := decode[models.FetchResponse](t, w)
	if resp.Success || resp.Error == nil || resp.Error.Code != models.ErrCodeExhausted {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.Attempts) != 2 || resp.Attempts[1].Outcome != "challenge_timeout" {
		t.Errorf("attempts = %+v", resp.Attempts)
	}
}

func TestFetch_InvalidInput(t *testing.T) {
	s := newServer(t, rendertest.Page(article))

	tests := []map[string]any{
		{},
		{"url": "not a url"},
		{"url": "https://a.example.com", "max_retries": 50},
	}
	for _, body := range tests {
		w := s.do(t, http.MethodPost, "/api/v1/fetch", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %v: status = %d", body, w.Code)
			continue
		}
		if resp := decode[models.FetchResponse](t, w); resp.Error == nil || resp.Error.Code != models.ErrCodeInvalidInput {
			t.Errorf("body %v: error = %+v", body, resp.Error)
		}
	}
}

func TestScreenshot(t *testing.T) {
	s := newServer(t, rendertest.Page(article))

	w := s.do(t, http.MethodPost, "/api/v1/screenshot", map[string]any{
		"url":           "https://docs.example.com/a",
		"path":          "nested/docs",
		"width":         800,
		"height":        600,
		"include_image": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	resp := decode[models.ScreenshotResponse](t, w)
	want := filepath.Join(s.cfg.Screenshot.Dir, "nested", "docs.png")
	if resp.Path != want {
		t.Errorf("path = %q, want %q", resp.Path, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, rendertest.PNG) {
		t.Error("file does not hold the captured PNG")
	}
	if img, _ := base64.StdEncoding.DecodeString(resp.Image); !bytes.Equal(img, rendertest.PNG) {
		t.Error("image field does not hold the captured PNG")
	}
	if vp := s.backend.Viewports(); len(vp) != 1 || vp[0] != [2]int{800, 600} {
		t.Errorf("viewports = %v", vp)
	}
}

func TestScreenshot_RejectsEscapingPath(t *testing.T) {
	s := newServer(t, rendertest.Page(article))

	for _, p := range []string{"../outside.png", "/etc/shot.png"} {
		w := s.do(t, http.MethodPost, "/api/v1/screenshot", map[string]any{"url": "https://docs.example.com", "path": p})
		if w.Code != http.StatusBadRequest {
			t.Errorf("path %q: status = %d", p, w.Code)
		}
	}
	if s.backend.Launches() != 0 {
		t.Error("rejected request reached the browser")
	}
}

func TestProbe(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(interstitial))
	}))
	defer target.Close()

	s := newServer(t, rendertest.Page(article))
	w := s.do(t, http.MethodPost, "/api/v1/probe", map[string]any{"url": target.URL})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	resp := decode[models.ProbeResponse](t, w)
	if !resp.Challenge || resp.StatusCode != http.StatusForbidden || resp.Title != "Just a moment..." {
		t.Errorf("resp = %+v", resp)
	}
	if s.backend.Launches() != 0 {
		t.Error("probe should not launch a browser")
	}
}
