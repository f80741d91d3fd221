package config

import (
	"strings"
	"testing"
	"time"

	"github.com/use-agent/pagegate/challenge"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Server.Port != 8080 || cfg.Server.Mode != "release" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if !cfg.Browser.Headless || !cfg.Browser.NoSandbox || cfg.Browser.Sessions != 2 {
		t.Errorf("browser = %+v", cfg.Browser)
	}
	if cfg.Browser.PageTimeout != 30*time.Second {
		t.Errorf("page timeout = %s", cfg.Browser.PageTimeout)
	}
	r := cfg.Retrieval
	if !r.AntiBot || r.MaxRetries != 3 || r.ExtraWait != 3*time.Second {
		t.Errorf("retrieval = %+v", r)
	}
	if r.JitterMin != 2*time.Second || r.JitterMax != 5*time.Second || r.BackoffStep != 2*time.Second {
		t.Errorf("retrieval timings = %+v", r)
	}
	if cfg.Challenge.PollInterval != 500*time.Millisecond || cfg.Challenge.MaxWait != 30*time.Second {
		t.Errorf("challenge = %+v", cfg.Challenge)
	}
	if cfg.Screenshot.Width != 1920 || cfg.Screenshot.Height != 1080 {
		t.Errorf("screenshot = %+v", cfg.Screenshot)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("PAGEGATE_PORT", "9090")
	t.Setenv("PAGEGATE_ANTI_BOT", "false")
	t.Setenv("PAGEGATE_MAX_RETRIES", "5")
	t.Setenv("PAGEGATE_EXTRA_WAIT", "250ms")
	t.Setenv("PAGEGATE_API_KEYS", " a , b,, c ")
	t.Setenv("PAGEGATE_TAINT_MODE", "substring")
	t.Setenv("PAGEGATE_SESSIONS", "not-a-number")

	cfg := Load()
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Retrieval.AntiBot || cfg.Retrieval.MaxRetries != 5 || cfg.Retrieval.ExtraWait != 250*time.Millisecond {
		t.Errorf("retrieval = %+v", cfg.Retrieval)
	}
	if got := strings.Join(cfg.Auth.APIKeys, ","); got != "a,b,c" {
		t.Errorf("api keys = %q", got)
	}
	if cfg.Browser.Sessions != 2 {
		t.Errorf("invalid int should fall back, got %d", cfg.Browser.Sessions)
	}
	if got := cfg.OrchestratorConfig().TaintMode; got != challenge.ScanSubstring {
		t.Errorf("taint mode = %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"no sessions", func(c *Config) { c.Browser.Sessions = 0 }, "sessions"},
		{"no retries", func(c *Config) { c.Retrieval.MaxRetries = 0 }, "max retries"},
		{"jitter inverted", func(c *Config) { c.Retrieval.JitterMax = time.Second }, "jitter"},
		{"taint mode", func(c *Config) { c.Retrieval.TaintMode = "regex" }, "taint"},
		{"auth without keys", func(c *Config) { c.Auth.APIKeys = nil }, "PAGEGATE_API_KEYS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			cfg.Auth.APIKeys = []string{"k"}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestMappings(t *testing.T) {
	cfg := Load()
	cfg.Browser.Proxy = "http://proxy:3128"
	cfg.Browser.UserAgent = "pinned"
	cfg.Retrieval.TaintMode = "bogus"

	sc := cfg.SessionConfig()
	if !sc.Launch.Headless || sc.Launch.Proxy != "http://proxy:3128" || sc.UserAgent != "pinned" {
		t.Errorf("session config = %+v", sc)
	}
	oc := cfg.OrchestratorConfig()
	if oc.TaintMode != challenge.ScanStructural {
		t.Errorf("unknown taint mode should fall back, got %q", oc.TaintMode)
	}
	if oc.Waiter.SettleTime != 2*time.Second || oc.ScreenshotDir != "screenshots" {
		t.Errorf("orchestrator config = %+v", oc)
	}
	so := cfg.ScreenshotOptions()
	if so.Width != 1920 || so.MaxRetries != 3 || !so.AntiBot {
		t.Errorf("screenshot options = %+v", so)
	}
}
