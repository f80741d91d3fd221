package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("retrieval: pool closed")

// Pool hands out orchestrators, each with its own session, so independent
// requests can run concurrently. Orchestrators are created on first use.
type Pool struct {
	slots   rod.Pool[Orchestrator]
	size    int
	factory func() *Orchestrator
	logger  *slog.Logger

	inUse  atomic.Int32
	mu     sync.Mutex
	closed bool
	done   chan struct{} // closed by Close
}

// NewPool returns a pool of size orchestrators built by factory.
func NewPool(size int, factory func() *Orchestrator, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		slots:   rod.NewPool[Orchestrator](size),
		size:    size,
		factory: factory,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int { return p.size }

// InUse returns the number of orchestrators currently acquired.
func (p *Pool) InUse() int { return int(p.inUse.Load()) }

// Acquire waits for a free orchestrator, for ctx to end or for the pool to
// close.
func (p *Pool) Acquire(ctx context.Context) (*Orchestrator, error) {
	select {
	case <-p.done:
		return nil, ErrPoolClosed
	default:
	}

	select {
	case o := <-p.slots:
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			if o != nil {
				closeQuietly(o)
			}
			return nil, ErrPoolClosed
		}
		if o == nil {
			o = p.factory()
		}
		p.inUse.Add(1)
		return o, nil
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns an orchestrator to the pool. After Close the orchestrator's
// session is closed instead.
func (p *Pool) Release(o *Orchestrator) {
	p.inUse.Add(-1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		closeQuietly(o)
		return
	}
	// The channel holds one slot per orchestrator, so Put never blocks.
	p.slots.Put(o)
	p.mu.Unlock()
}

// Do runs fn with an acquired orchestrator.
func (p *Pool) Do(ctx context.Context, fn func(*Orchestrator) error) error {
	o, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(o)
	return fn(o)
}

// Close closes the sessions of idle orchestrators. Orchestrators still in use
// are closed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var idle []*Orchestrator
	p.slots.Cleanup(func(o *Orchestrator) { idle = append(idle, o) })
	close(p.done)
	p.mu.Unlock()

	var errs []error
	for _, o := range idle {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.logger.Info("retrieval pool closed", "size", p.size, "idle", len(idle))
	return errors.Join(errs...)
}
