// Package poller runs the background read loop against a NETIO device and
// keeps the latest snapshot available for synchronous readers.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jamesprial/netio-mcp/internal/netio"
)

// DefaultInterval matches the refresh cadence of the device.
const DefaultInterval = time.Second

var (
	// ErrAlreadyStarted is returned by Start on a running poller.
	ErrAlreadyStarted = errors.New("poller: already started")
	// ErrStopped is returned by Start once the poller has been stopped.
	// A stopped poller cannot be restarted; build a new one.
	ErrStopped = errors.New("poller: stopped")
)

// State is the lifecycle state of a Poller.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Fetcher is the read side of the device client.
type Fetcher interface {
	FetchSnapshot(ctx context.Context) (*netio.Snapshot, error)
}

// UpdateFunc receives every successfully decoded snapshot.
type UpdateFunc func(*netio.Snapshot)

// ErrorFunc receives the error of every failed cycle.
type ErrorFunc func(error)

// CycleObserver is told the outcome and duration of every fetch. The metrics
// registry implements it.
type CycleObserver interface {
	ObservePoll(d time.Duration, err error)
}

// Stats summarises the poller's history for health reporting.
type Stats struct {
	State       State
	Total       uint64
	Failed      uint64
	LastSuccess time.Time
	LastError   error
	// LastFailed is true when the most recent cycle failed.
	LastFailed bool
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the logger; the default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Poller) {
		p.logger = logger.With().Str("component", "poller").Logger()
	}
}

// WithCache makes the poller write into an existing cache.
func WithCache(c *Cache) Option {
	return func(p *Poller) {
		if c != nil {
			p.cache = c
		}
	}
}

// WithObserver registers a CycleObserver.
func WithObserver(o CycleObserver) Option {
	return func(p *Poller) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// Poller repeatedly fetches the device snapshot on a fixed interval. The
// interval is measured from the end of one fetch to the start of the next, so
// fetches never overlap. A failed fetch is reported and the loop carries on.
//
// Callbacks run on the poller goroutine and must not call Stop.
type Poller struct {
	fetcher   Fetcher
	interval  time.Duration
	cache     *Cache
	logger    zerolog.Logger
	observers []CycleObserver

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	// fetchMu serialises loop cycles with Refresh.
	fetchMu sync.Mutex

	total       atomic.Uint64
	failed      atomic.Uint64
	lastFailed  atomic.Bool
	lastSuccess atomic.Int64
	lastErr     atomic.Pointer[error]
}

// New creates an idle poller. A non-positive interval falls back to
// DefaultInterval.
func New(fetcher Fetcher, interval time.Duration, opts ...Option) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p := &Poller{
		fetcher:  fetcher,
		interval: interval,
		cache:    &Cache{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Cache returns the snapshot cache the poller writes to.
func (p *Poller) Cache() *Cache {
	return p.cache
}

// Snapshot returns the latest cached snapshot, or nil.
func (p *Poller) Snapshot() *netio.Snapshot {
	return p.cache.Load()
}

// Outlet returns one outlet from the latest cached snapshot.
func (p *Poller) Outlet(id netio.OutletID) (netio.OutletState, bool) {
	return p.cache.Outlet(id)
}

// Interval returns the configured polling interval.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start launches the loop. The first fetch happens one interval after Start.
// Either callback may be nil. The loop also ends when ctx is cancelled, but
// only Stop guarantees that no callback runs afterwards.
func (p *Poller) Start(ctx context.Context, onUpdate UpdateFunc, onError ErrorFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrStopped
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.state = StateRunning

	p.logger.Info().Dur("interval", p.interval).Msg("Starting poller")
	go p.run(loopCtx, p.done, onUpdate, onError)
	return nil
}

// Stop ends the loop and waits for it to exit, including any in-flight fetch
// (which is cancelled). After Stop returns no callback will be invoked. Stop
// is idempotent and may be called on a poller that was never started.
func (p *Poller) Stop() {
	p.mu.Lock()
	prev := p.state
	p.state = StateStopped
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if prev != StateRunning {
		return
	}
	cancel()
	<-done
	p.logger.Info().Msg("Poller stopped")
}

// Done is closed when the loop goroutine exits. It is nil before Start.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Refresh performs one fetch outside the schedule and updates the cache on
// success. It never runs concurrently with a loop cycle. Callbacks are not
// invoked.
func (p *Poller) Refresh(ctx context.Context) (*netio.Snapshot, error) {
	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()
	return p.fetch(ctx)
}

// Stats returns a copy of the poller statistics.
func (p *Poller) Stats() Stats {
	s := Stats{
		State:      p.State(),
		Total:      p.total.Load(),
		Failed:     p.failed.Load(),
		LastFailed: p.lastFailed.Load(),
	}
	if ns := p.lastSuccess.Load(); ns != 0 {
		s.LastSuccess = time.Unix(0, ns)
	}
	if e := p.lastErr.Load(); e != nil {
		s.LastError = *e
	}
	return s
}

func (p *Poller) run(ctx context.Context, done chan struct{}, onUpdate UpdateFunc, onError ErrorFunc) {
	defer close(done)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		p.cycle(ctx, onUpdate, onError)
		timer.Reset(p.interval)
	}
}

func (p *Poller) cycle(ctx context.Context, onUpdate UpdateFunc, onError ErrorFunc) {
	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()

	snap, err := p.fetch(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return
	}
	if onUpdate != nil {
		onUpdate(snap)
	}
}

// fetch runs one read and records its outcome. Callers hold fetchMu.
func (p *Poller) fetch(ctx context.Context) (*netio.Snapshot, error) {
	start := time.Now()
	snap, err := p.fetcher.FetchSnapshot(ctx)
	elapsed := time.Since(start)
	if err == nil && snap == nil {
		err = fmt.Errorf("%w: empty snapshot", netio.ErrDecode)
	}

	// A read cut short by Stop is neither a success nor a device failure.
	if err != nil && ctx.Err() != nil {
		return nil, err
	}

	p.total.Add(1)
	for _, o := range p.observers {
		o.ObservePoll(elapsed, err)
	}

	if err != nil {
		p.failed.Add(1)
		p.lastFailed.Store(true)
		p.lastErr.Store(&err)
		p.logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("Poll failed")
		return nil, err
	}

	p.cache.Store(snap)
	p.lastFailed.Store(false)
	p.lastSuccess.Store(time.Now().UnixNano())
	p.logger.Debug().Int("outlets", len(snap.Outputs)).Dur("elapsed", elapsed).Msg("Poll succeeded")
	return snap, nil
}

// Fanout combines several update callbacks into one, called in order.
func Fanout(fns ...UpdateFunc) UpdateFunc {
	return func(s *netio.Snapshot) {
		for _, fn := range fns {
			if fn != nil {
				fn(s)
			}
		}
	}
}
