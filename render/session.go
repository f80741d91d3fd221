package render

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/pagegate/fingerprint"
	"github.com/use-agent/pagegate/models"
)

// DefaultPageTimeout bounds each page operation unless overridden.
const DefaultPageTimeout = 30 * time.Second

// Session owns one browser process and one browsing context. It is started
// lazily or explicitly and released with Close, which is safe to call on every
// exit path and more than once.
//
// A Session hands out at most one open Page at a time; navigations on the same
// session are sequential by construction.
type Session struct {
	launcher       Launcher
	launchOpts     LaunchOptions
	profile        *fingerprint.Profile
	defaultTimeout time.Duration
	logger         *slog.Logger

	mu       sync.Mutex
	proc     Process
	bctx     BrowserContext
	pageOpen bool
}

// SessionOption customises a Session.
type SessionOption func(*Session)

// WithLaunchOptions sets the browser launch options.
func WithLaunchOptions(o LaunchOptions) SessionOption {
	return func(s *Session) { s.launchOpts = o }
}

// WithDefaultTimeout sets the per-operation page timeout.
func WithDefaultTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.defaultTimeout = d
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession creates an unstarted session holding a copy of profile. A nil
// profile gets a random one.
func NewSession(l Launcher, profile *fingerprint.Profile, opts ...SessionOption) *Session {
	if profile == nil {
		profile = fingerprint.New(nil, "")
	}
	profile = profile.Clone()
	s := &Session{
		launcher:       l,
		launchOpts:     LaunchOptions{Headless: true, NoSandbox: true},
		profile:        profile,
		defaultTimeout: DefaultPageTimeout,
		logger:         slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Profile returns a copy of the session's fingerprint.
func (s *Session) Profile() *fingerprint.Profile { return s.profile.Clone() }

// DefaultTimeout returns the per-operation page timeout.
func (s *Session) DefaultTimeout() time.Duration { return s.defaultTimeout }

// Headless reports whether the browser runs headless.
func (s *Session) Headless() bool { return s.launchOpts.Headless }

// Started reports whether the process and context are live.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil && s.bctx != nil
}

// Start launches the browser and creates the browsing context. It is a no-op
// when the session is already started.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil && s.bctx != nil {
		return nil
	}

	proc, err := s.launcher.Launch(ctx, s.launchOpts)
	if err != nil {
		return models.NewRetrievalError(models.ErrCodeSessionStart, "failed to launch browser", err)
	}

	bctx, err := proc.NewContext(ctx, ContextOptionsFor(s.profile))
	if err != nil {
		if closeErr := proc.Close(); closeErr != nil {
			s.logger.Warn("session: failed to close browser after context error", "error", closeErr)
		}
		return models.NewRetrievalError(models.ErrCodeSessionStart, "failed to create browser context", err)
	}

	s.proc = proc
	s.bctx = bctx
	s.logger.Info("session started",
		"headless", s.launchOpts.Headless,
		"userAgent", s.profile.UserAgent,
		"scripts", fingerprint.ScriptsVersion,
	)
	return nil
}

// NewPage opens a page in the session's context. The caller must Close it
// before asking for another one.
func (s *Session) NewPage(ctx context.Context) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc == nil || s.bctx == nil {
		return nil, models.NewRetrievalError(models.ErrCodeSessionNotStarted, "session must be started before opening a page", nil)
	}
	if s.pageOpen {
		return nil, models.NewRetrievalError(models.ErrCodePageInUse, "session already has an open page", nil)
	}

	p, err := s.bctx.NewPage(ctx)
	if err != nil {
		return nil, models.NewRetrievalError(models.ErrCodeTransport, "failed to open page", err)
	}
	p.SetDefaultTimeout(s.defaultTimeout)
	s.pageOpen = true
	return &sessionPage{Page: p, session: s}, nil
}

// Close closes the context and then the process. Each step is attempted even
// if the other fails; errors are logged and joined.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.bctx != nil {
		if err := s.bctx.Close(); err != nil {
			s.logger.Warn("session: failed to close browser context", "error", err)
			errs = append(errs, err)
		}
		s.bctx = nil
	}
	if s.proc != nil {
		if err := s.proc.Close(); err != nil {
			s.logger.Warn("session: failed to close browser process", "error", err)
			errs = append(errs, err)
		}
		s.proc = nil
		s.logger.Info("session closed")
	}
	s.pageOpen = false
	return errors.Join(errs...)
}

func (s *Session) releasePage() {
	s.mu.Lock()
	s.pageOpen = false
	s.mu.Unlock()
}

// sessionPage returns its slot to the session on Close.
type sessionPage struct {
	Page
	session *Session
	once    sync.Once
	err     error
}

func (p *sessionPage) Close() error {
	p.once.Do(func() {
		p.err = p.Page.Close()
		p.session.releasePage()
	})
	return p.err
}
