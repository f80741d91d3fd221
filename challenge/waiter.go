package challenge

import (
	"context"
	"log/slog"
	"time"

	"github.com/use-agent/pagegate/clock"
	"github.com/use-agent/pagegate/render"
)

// State is the lifecycle of an interstitial as seen by the Waiter.
type State int

const (
	StateNotPresent State = iota
	StatePresent
	StateResolved
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateNotPresent:
		return "not_present"
	case StatePresent:
		return "present"
	case StateResolved:
		return "resolved"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// CanTransition reports whether to is a legal next state. Transitions only
// move forward; Present may repeat.
func (s State) CanTransition(to State) bool {
	switch s {
	case StateNotPresent:
		return to == StatePresent
	case StatePresent:
		return to == StatePresent || to == StateResolved || to == StateTimedOut
	default:
		return false
	}
}

// Default waiter timings.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultSettleTime   = 2 * time.Second
	DefaultMaxWait      = 30 * time.Second
)

// WaiterConfig holds the waiter timings. Zero fields take the defaults.
type WaiterConfig struct {
	PollInterval time.Duration
	SettleTime   time.Duration
	MaxWait      time.Duration
}

func (c WaiterConfig) withDefaults() WaiterConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SettleTime <= 0 {
		c.SettleTime = DefaultSettleTime
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	return c
}

// Waiter polls a page until a detected challenge clears or a deadline passes.
type Waiter struct {
	detector *Detector
	clock    clock.Clock
	cfg      WaiterConfig
	logger   *slog.Logger
}

// NewWaiter returns a Waiter. Nil detector, clock or logger take defaults.
func NewWaiter(d *Detector, clk clock.Clock, cfg WaiterConfig, logger *slog.Logger) *Waiter {
	if logger == nil {
		logger = slog.Default()
	}
	if d == nil {
		d = NewDetector(logger)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Waiter{detector: d, clock: clk, cfg: cfg.withDefaults(), logger: logger}
}

// Config returns the effective timings.
func (w *Waiter) Config() WaiterConfig { return w.cfg }

// Wait polls page for at most MaxWait and returns StateResolved or
// StateTimedOut. It is called once a challenge has been detected.
//
// A URL change triggers a settle pause capped at the deadline. Query errors
// mid-poll are treated as "still polling". When ctx ends the wait returns
// StateTimedOut with ctx.Err(). The total wait never exceeds MaxWait by more
// than one poll interval plus one settle pause.
func (w *Waiter) Wait(ctx context.Context, page render.Page) (State, error) {
	start := w.clock.Now()
	deadline := start.Add(w.cfg.MaxWait)
	state := StatePresent

	lastURL, err := page.URL(ctx)
	if err != nil {
		w.logger.Debug("challenge wait: initial url read failed", "error", err)
	}

	polls := 0
	for {
		if err := ctx.Err(); err != nil {
			return w.finish(state, StateTimedOut, start, polls), err
		}
		if !w.clock.Now().Before(deadline) {
			return w.finish(state, StateTimedOut, start, polls), nil
		}
		polls++

		if u, err := page.URL(ctx); err == nil && u != lastURL {
			w.logger.Debug("challenge wait: url changed", "from", lastURL, "to", u)
			lastURL = u
			settle := w.cfg.SettleTime
			if remaining := deadline.Sub(w.clock.Now()); remaining < settle {
				settle = remaining
			}
			if err := w.clock.Sleep(ctx, settle); err != nil {
				return w.finish(state, StateTimedOut, start, polls), err
			}
		}

		v, err := w.detector.Inspect(ctx, page)
		switch {
		case err != nil:
			w.logger.Debug("challenge wait: detector query failed, still polling", "error", err)
		case !v.Present():
			if err := w.clock.Sleep(ctx, w.cfg.SettleTime); err != nil {
				return w.finish(state, StateTimedOut, start, polls), err
			}
			return w.finish(state, StateResolved, start, polls), nil
		}

		if err := w.clock.Sleep(ctx, w.cfg.PollInterval); err != nil {
			return w.finish(state, StateTimedOut, start, polls), err
		}
	}
}

func (w *Waiter) finish(from, to State, start time.Time, polls int) State {
	if !from.CanTransition(to) {
		w.logger.Error("challenge wait: illegal state transition", "from", from, "to", to)
	}
	w.logger.Info("challenge wait finished",
		"state", to,
		"polls", polls,
		"elapsed", w.clock.Now().Sub(start),
	)
	return to
}
