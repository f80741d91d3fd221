package retrieval

import (
	"log/slog"
	"time"

	"github.com/use-agent/pagegate/fingerprint"
	"github.com/use-agent/pagegate/render"
)

// SessionConfig describes how each orchestrator's session is created.
type SessionConfig struct {
	Launch      render.LaunchOptions
	PageTimeout time.Duration
	// UserAgent pins the profile's user agent; empty picks one at random per
	// session.
	UserAgent string
	// Random drives fingerprint selection. Nil uses the system source.
	Random fingerprint.Source
}

// Factory returns a constructor for orchestrators, each with a fresh session
// and fingerprint. It is the factory handed to NewPool and the one-shot
// helpers. extra options are applied to every orchestrator after the
// defaults.
func Factory(l render.Launcher, sc SessionConfig, cfg Config, logger *slog.Logger, extra ...Option) func() *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	src := sc.Random
	if src == nil {
		src = fingerprint.SystemSource()
	}
	return func() *Orchestrator {
		session := render.NewSession(l, fingerprint.New(src, sc.UserAgent),
			render.WithLaunchOptions(sc.Launch),
			render.WithDefaultTimeout(sc.PageTimeout),
			render.WithLogger(logger),
		)
		opts := append([]Option{WithConfig(cfg), WithRandom(src), WithLogger(logger)}, extra...)
		return New(session, opts...)
	}
}
