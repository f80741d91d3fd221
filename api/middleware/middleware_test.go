package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagegate/config"
)

func init() { gin.SetMode(gin.TestMode) }

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextKeyAPIKey))
	})
	return r
}

func serve(r http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	r := newEngine(Auth([]string{"secret", ""}))

	tests := []struct {
		name   string
		header string
		value  string
		want   int
		body   string
	}{
		{"missing", "", "", http.StatusUnauthorized, ""},
		{"x-api-key", "X-API-Key", "secret", http.StatusOK, "secret"},
		{"bearer", "Authorization", "Bearer secret", http.StatusOK, "secret"},
		{"wrong key", "X-API-Key", "nope", http.StatusUnauthorized, ""},
		{"basic scheme", "Authorization", "Basic secret", http.StatusUnauthorized, ""},
		{"lowercase bearer", "Authorization", "bearer secret", http.StatusOK, "secret"},
		{"empty bearer", "Authorization", "Bearer  ", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, tt.header, tt.value)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body)
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Errorf("body = %q", w.Body)
			}
		})
	}
}

func TestAuth_NoKeysIsOpen(t *testing.T) {
	r := newEngine(Auth(nil))
	if w := serve(r, "", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newEngine(Auth([]string{"a", "b"}), RateLimit(ctx, config.RateLimitConfig{RequestsPerSecond: 0.5, Burst: 2}))

	for i := 0; i < 2; i++ {
		if w := serve(r, "X-API-Key", "a"); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
	}
	w := serve(r, "X-API-Key", "a")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q", got)
	}
	if w := serve(r, "X-API-Key", "b"); w.Code != http.StatusOK {
		t.Errorf("other key should have its own bucket, status = %d", w.Code)
	}
}

func TestLimiterSet_Sweep(t *testing.T) {
	set := newLimiterSet(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	now := time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)

	if !set.allow("old", now) || !set.allow("new", now.Add(50*time.Minute)) {
		t.Fatal("first request per identity must pass")
	}
	if set.allow("new", now.Add(50*time.Minute)) {
		t.Error("burst of 1 should reject an immediate second request")
	}

	if n := set.sweep(now.Add(30 * time.Minute)); n != 1 {
		t.Errorf("swept %d buckets, want 1", n)
	}
	if _, ok := set.buckets["new"]; !ok {
		t.Error("recently seen bucket was swept")
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		rps  float64
		want string
	}{
		{0, ""},
		{0.3, "4"},
		{1, "1"},
		{10, "1"},
	}
	for _, tt := range tests {
		if got := retryAfter(tt.rps); got != tt.want {
			t.Errorf("retryAfter(%v) = %q, want %q", tt.rps, got, tt.want)
		}
	}
}

func TestRequestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r := gin.New()
	r.Use(RequestLog(logger))
	r.GET("/missing/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing/7", nil))

	line := buf.String()
	for _, want := range []string{"level=WARN", "path=/missing/:id", "status=404", "method=GET"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}
}
