package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/pagegate/challenge"
	"github.com/use-agent/pagegate/render"
	"github.com/use-agent/pagegate/retrieval"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Browser    BrowserConfig
	Retrieval  RetrievalConfig
	Challenge  ChallengeConfig
	Screenshot ScreenshotConfig
	Probe      ProbeConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Cache      CacheConfig
	Log        LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the browser sessions.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: true

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Proxy is passed to every launched browser.
	Proxy string

	// PageTimeout bounds each page operation.
	PageTimeout time.Duration // default: 30s

	// UserAgent pins the user agent; empty rotates per session.
	UserAgent string

	// Sessions is the number of independent browser sessions the server keeps.
	Sessions int // default: 2
}

// RetrievalConfig controls the attempt loop.
type RetrievalConfig struct {
	AntiBot            bool          // default: true
	MaxRetries         int           // default: 3
	ExtraWait          time.Duration // default: 3s
	NetworkIdleTimeout time.Duration // default: 10s
	JitterMin          time.Duration // default: 2s
	JitterMax          time.Duration // default: 5s
	BackoffStep        time.Duration // default: 2s
	AttemptLogSize     int           // default: 32

	// OperationTimeout is the deadline for one fetch or screenshot call.
	OperationTimeout time.Duration // default: 3m

	// MaxOperationTimeout caps a client supplied timeout.
	MaxOperationTimeout time.Duration // default: 10m

	// TaintMode selects the post-capture marker scan: "structural" or "substring".
	TaintMode string // default: "structural"
}

// ChallengeConfig controls the challenge waiter.
type ChallengeConfig struct {
	PollInterval time.Duration // default: 500ms
	SettleTime   time.Duration // default: 2s
	MaxWait      time.Duration // default: 30s
}

// ScreenshotConfig controls screenshot capture.
type ScreenshotConfig struct {
	// Dir receives screenshots requested without an explicit path.
	Dir      string // default: "screenshots"
	Width    int    // default: 1920
	Height   int    // default: 1080
	FullPage bool   // default: false
}

// ProbeConfig controls the browserless HTTP probe.
type ProbeConfig struct {
	Timeout time.Duration // default: 15s
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 2

	// Burst is the maximum burst size per API key.
	Burst int // default: 4
}

// CacheConfig controls the fetch response cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached responses.
	MaxEntries int // default: 500

	// Retention bounds how long any entry is kept, whatever max_age a
	// request asks for.
	Retention time.Duration // default: 1h
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("PAGEGATE_HOST", "0.0.0.0"),
			Port: envIntOr("PAGEGATE_PORT", 8080),
			Mode: envOr("PAGEGATE_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:    envBoolOr("PAGEGATE_HEADLESS", true),
			NoSandbox:   envBoolOr("PAGEGATE_NO_SANDBOX", true),
			BrowserBin:  os.Getenv("PAGEGATE_BROWSER_BIN"),
			Proxy:       os.Getenv("PAGEGATE_PROXY"),
			PageTimeout: envDurationOr("PAGEGATE_PAGE_TIMEOUT", render.DefaultPageTimeout),
			UserAgent:   os.Getenv("PAGEGATE_USER_AGENT"),
			Sessions:    envIntOr("PAGEGATE_SESSIONS", 2),
		},
		Retrieval: RetrievalConfig{
			AntiBot:             envBoolOr("PAGEGATE_ANTI_BOT", true),
			MaxRetries:          envIntOr("PAGEGATE_MAX_RETRIES", 3),
			ExtraWait:           envDurationOr("PAGEGATE_EXTRA_WAIT", 3*time.Second),
			NetworkIdleTimeout:  envDurationOr("PAGEGATE_NETWORK_IDLE_TIMEOUT", retrieval.DefaultNetworkIdleTimeout),
			JitterMin:           envDurationOr("PAGEGATE_JITTER_MIN", retrieval.DefaultJitterMin),
			JitterMax:           envDurationOr("PAGEGATE_JITTER_MAX", retrieval.DefaultJitterMax),
			BackoffStep:         envDurationOr("PAGEGATE_BACKOFF_STEP", retrieval.DefaultBackoffStep),
			AttemptLogSize:      envIntOr("PAGEGATE_ATTEMPT_LOG_SIZE", retrieval.DefaultAttemptLogSize),
			OperationTimeout:    envDurationOr("PAGEGATE_OPERATION_TIMEOUT", 3*time.Minute),
			MaxOperationTimeout: envDurationOr("PAGEGATE_MAX_OPERATION_TIMEOUT", 10*time.Minute),
			TaintMode:           envOr("PAGEGATE_TAINT_MODE", string(challenge.ScanStructural)),
		},
		Challenge: ChallengeConfig{
			PollInterval: envDurationOr("PAGEGATE_CHALLENGE_POLL", challenge.DefaultPollInterval),
			SettleTime:   envDurationOr("PAGEGATE_CHALLENGE_SETTLE", challenge.DefaultSettleTime),
			MaxWait:      envDurationOr("PAGEGATE_CHALLENGE_MAX_WAIT", challenge.DefaultMaxWait),
		},
		Screenshot: ScreenshotConfig{
			Dir:      envOr("PAGEGATE_SCREENSHOT_DIR", retrieval.DefaultScreenshotDir),
			Width:    envIntOr("PAGEGATE_SCREENSHOT_WIDTH", 1920),
			Height:   envIntOr("PAGEGATE_SCREENSHOT_HEIGHT", 1080),
			FullPage: envBoolOr("PAGEGATE_SCREENSHOT_FULL_PAGE", false),
		},
		Probe: ProbeConfig{
			Timeout: envDurationOr("PAGEGATE_PROBE_TIMEOUT", 15*time.Second),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("PAGEGATE_AUTH_ENABLED", true),
			APIKeys: envSliceOr("PAGEGATE_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("PAGEGATE_RATE_RPS", 2.0),
			Burst:             envIntOr("PAGEGATE_RATE_BURST", 4),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("PAGEGATE_CACHE_MAX_ENTRIES", 500),
			Retention:  envDurationOr("PAGEGATE_CACHE_RETENTION", time.Hour),
		},
		Log: LogConfig{
			Level:  envOr("PAGEGATE_LOG_LEVEL", "info"),
			Format: envOr("PAGEGATE_LOG_FORMAT", "json"),
		},
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Server.Port))
	}
	if c.Browser.Sessions < 1 {
		errs = append(errs, fmt.Errorf("sessions must be at least 1, got %d", c.Browser.Sessions))
	}
	if c.Retrieval.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max retries must be at least 1, got %d", c.Retrieval.MaxRetries))
	}
	if c.Retrieval.JitterMax < c.Retrieval.JitterMin {
		errs = append(errs, fmt.Errorf("jitter max %s below jitter min %s", c.Retrieval.JitterMax, c.Retrieval.JitterMin))
	}
	if _, err := challenge.ParseScanMode(c.Retrieval.TaintMode); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 {
		errs = append(errs, errors.New("auth enabled but PAGEGATE_API_KEYS is empty"))
	}
	return errors.Join(errs...)
}

// LaunchOptions maps the browser section to render launch options.
func (c *Config) LaunchOptions() render.LaunchOptions {
	return render.LaunchOptions{
		Headless:   c.Browser.Headless,
		NoSandbox:  c.Browser.NoSandbox,
		BrowserBin: c.Browser.BrowserBin,
		Proxy:      c.Browser.Proxy,
	}
}

// SessionConfig maps the browser section to per-session settings.
func (c *Config) SessionConfig() retrieval.SessionConfig {
	return retrieval.SessionConfig{
		Launch:      c.LaunchOptions(),
		PageTimeout: c.Browser.PageTimeout,
		UserAgent:   c.Browser.UserAgent,
	}
}

// OrchestratorConfig maps the retrieval, challenge and screenshot sections
// to orchestrator settings. An unknown taint mode falls back to structural.
func (c *Config) OrchestratorConfig() retrieval.Config {
	mode, err := challenge.ParseScanMode(c.Retrieval.TaintMode)
	if err != nil {
		mode = challenge.ScanStructural
	}
	return retrieval.Config{
		NetworkIdleTimeout: c.Retrieval.NetworkIdleTimeout,
		JitterMin:          c.Retrieval.JitterMin,
		JitterMax:          c.Retrieval.JitterMax,
		BackoffStep:        c.Retrieval.BackoffStep,
		AttemptLogSize:     c.Retrieval.AttemptLogSize,
		TaintMode:          mode,
		Waiter: challenge.WaiterConfig{
			PollInterval: c.Challenge.PollInterval,
			SettleTime:   c.Challenge.SettleTime,
			MaxWait:      c.Challenge.MaxWait,
		},
		ScreenshotDir: c.Screenshot.Dir,
	}
}

// RetrievalOptions returns the default per-call options.
func (c *Config) RetrievalOptions() retrieval.Options {
	return retrieval.Options{
		AntiBot:    c.Retrieval.AntiBot,
		MaxRetries: c.Retrieval.MaxRetries,
		ExtraWait:  c.Retrieval.ExtraWait,
	}
}

// ScreenshotOptions returns the default screenshot options.
func (c *Config) ScreenshotOptions() retrieval.ScreenshotOptions {
	return retrieval.ScreenshotOptions{
		Options:  c.RetrievalOptions(),
		FullPage: c.Screenshot.FullPage,
		Width:    c.Screenshot.Width,
		Height:   c.Screenshot.Height,
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
