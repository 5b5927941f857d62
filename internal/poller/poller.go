// Package poller implements interval-based status reconciliation
// against a remote endpoint: fetch, map to a local state, emit a
// transition only when the state actually changed, and stop as soon
// as a terminal state is observed.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultInterval is how often remote status is fetched. The backend
// does not push status, so 2 seconds keeps the local state fresh
// without hammering the endpoint.
const DefaultInterval = 2 * time.Second

// Config describes one reconciliation loop
type Config struct {
	// Interval between fetch attempts; DefaultInterval when zero
	Interval time.Duration

	// Clock drives the interval; clock.New() when nil
	Clock clock.Clock

	Logger *zap.Logger

	// Fetch returns the raw remote status string
	Fetch func(ctx context.Context) (string, error)

	// Map converts a raw remote status to a local state. Returning
	// ok=false means the raw value carries no information this tick.
	Map func(raw string) (state string, ok bool)

	// IsTerminal reports whether a mapped state ends reconciliation
	IsTerminal func(state string) bool

	// OnTransition is invoked once per observed state change
	OnTransition func(state string)

	// Last seeds the last-known state so the first fetch does not
	// re-emit a state the owner already holds
	Last string
}

// Poller runs one reconciliation loop. It is owned by exactly one
// component and must be released via Stop on every owner exit path.
type Poller struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	last     string
	inFlight bool

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// New creates a poller; it does nothing until Start is called
func New(cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		last:   cfg.Last,
		done:   make(chan struct{}),
	}
}

// Start begins the interval loop. Calling Start more than once has no
// effect.
func (p *Poller) Start() {
	p.startOnce.Do(func() {
		go p.run()
	})
}

// Stop cancels the loop and releases the interval. Safe to call from
// any goroutine, any number of times, including from OnTransition.
func (p *Poller) Stop() {
	p.stopOnce.Do(p.cancel)
}

// Done is closed once the loop has fully exited
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) run() {
	defer close(p.done)

	ticker := p.cfg.Clock.Ticker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

// tick starts at most one fetch; a tick that fires while a fetch is
// still in flight is skipped entirely, never queued.
func (p *Poller) tick() {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		p.cfg.Logger.Debug("poll tick skipped, fetch still in flight")
		return
	}
	p.inFlight = true
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			p.inFlight = false
			p.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Interval)
		defer cancel()

		raw, err := p.cfg.Fetch(ctx)
		if err != nil {
			// Transient failure: no new information this tick,
			// the next successful fetch self-corrects.
			p.cfg.Logger.Debug("status fetch failed", zap.Error(err))
			return
		}

		state, ok := p.cfg.Map(raw)
		if !ok {
			p.cfg.Logger.Debug("unrecognized remote status", zap.String("raw", raw))
			return
		}

		// A fetch that was in flight when Stop was called can still
		// return; its result is stale and must not reach the owner.
		if p.ctx.Err() != nil {
			return
		}

		p.mu.Lock()
		if state == p.last {
			p.mu.Unlock()
			return
		}
		p.last = state
		p.mu.Unlock()

		p.cfg.OnTransition(state)

		if p.cfg.IsTerminal(state) {
			p.Stop()
		}
	}()
}
