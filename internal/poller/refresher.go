// Package poller keeps a view's collection approximately fresh by re-fetching
// it on a fixed cadence until the view goes away.
//
// A Refresher fetches once on Start, then once per interval. Each successful
// fetch replaces the held snapshot wholesale; a failed fetch is logged and
// the previous snapshot is kept. Stop ends the timer but leaves fetches that
// are already in flight alone, so whoever consumes results must ignore the
// ones that arrive after teardown.
package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrActive is returned when Start is called on a running refresher.
	ErrActive = errors.New("poller: refresher already active")
	// ErrStopped is returned when Start is called after Stop.
	ErrStopped = errors.New("poller: refresher stopped")
)

// OverlapPolicy decides what happens when a tick fires while an earlier
// fetch has not resolved yet.
type OverlapPolicy int

const (
	// OverlapAllow issues every tick and applies results in resolution
	// order. A slow early fetch can overwrite newer data.
	OverlapAllow OverlapPolicy = iota
	// OverlapDropStale issues every tick but discards a result when a later
	// tick has already been applied.
	OverlapDropStale
	// OverlapSkip does not start a fetch while another is in flight.
	OverlapSkip
)

func (p OverlapPolicy) String() string {
	switch p {
	case OverlapAllow:
		return "allow"
	case OverlapDropStale:
		return "drop-stale"
	case OverlapSkip:
		return "skip"
	default:
		return fmt.Sprintf("overlap(%d)", int(p))
	}
}

// ParseOverlapPolicy maps configuration strings onto policies.
func ParseOverlapPolicy(value string) (OverlapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "allow":
		return OverlapAllow, nil
	case "drop-stale", "drop_stale", "sequence":
		return OverlapDropStale, nil
	case "skip", "serialize":
		return OverlapSkip, nil
	default:
		return OverlapAllow, fmt.Errorf("poller: unknown overlap policy %q", value)
	}
}

// FetchFunc loads one snapshot of a resource.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Snapshot is the most recently applied fetch result.
type Snapshot[T any] struct {
	Data      T
	FetchedAt time.Time
	Seq       uint64
	Loaded    bool
}

// Result is delivered to the OnResult hook after every resolution. On
// failure Snapshot is the retained previous snapshot and Err is set.
type Result[T any] struct {
	Snapshot Snapshot[T]
	Seq      uint64
	Err      error
}

// Logger records refresher diagnostics. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

// Option customizes a Refresher.
type Option func(*settings)

type settings struct {
	clock  Clock
	logger Logger
	policy OverlapPolicy
	name   string
}

// WithClock swaps the time source.
func WithClock(c Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger injects a logger for failures and dropped results.
func WithLogger(l Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithOverlapPolicy selects how overlapping ticks are handled.
func WithOverlapPolicy(p OverlapPolicy) Option {
	return func(s *settings) {
		s.policy = p
	}
}

// WithName labels log lines.
func WithName(name string) Option {
	return func(s *settings) {
		if name = strings.TrimSpace(name); name != "" {
			s.name = name
		}
	}
}

// Refresher owns one polling subscription. At most one timer is active per
// Refresher, and its lifecycle is one-way: Start, then Stop.
type Refresher[T any] struct {
	fetch    FetchFunc[T]
	interval time.Duration
	settings

	mu          sync.Mutex
	snapshot    Snapshot[T]
	lastErr     error
	resolved    bool
	issued      uint64
	lastApplied uint64
	inFlight    int
	started     bool
	stopped     bool
	onResult    func(Result[T])

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Refresher. interval must be positive.
func New[T any](fetch FetchFunc[T], interval time.Duration, opts ...Option) (*Refresher[T], error) {
	if fetch == nil {
		return nil, fmt.Errorf("poller: fetch function is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("poller: interval must be positive, got %s", interval)
	}
	r := &Refresher[T]{
		fetch:    fetch,
		interval: interval,
		settings: settings{
			clock:  SystemClock{},
			logger: nopLogger{},
			policy: OverlapAllow,
			name:   "refresher",
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&r.settings)
		}
	}
	return r, nil
}

// OnResult registers a hook called after every resolution, from the fetching
// goroutine. It must be set before Start.
func (r *Refresher[T]) OnResult(fn func(Result[T])) {
	r.mu.Lock()
	r.onResult = fn
	r.mu.Unlock()
}

// Start fetches immediately and begins the timer. ctx scopes the fetches
// themselves; Stop does not cancel it.
func (r *Refresher[T]) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}
	if r.started {
		r.mu.Unlock()
		return ErrActive
	}
	r.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	ticker := r.clock.NewTicker(r.interval)
	r.mu.Unlock()

	r.tick(ctx)
	go r.loop(loopCtx, ctx, ticker)
	return nil
}

// Stop cancels the timer and waits for the loop to exit. After Stop returns
// no new fetch is issued. It is safe to call more than once.
func (r *Refresher[T]) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Active reports whether the timer is running.
func (r *Refresher[T]) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started && !r.stopped
}

// Loading is true until the first fetch resolves, successfully or not.
func (r *Refresher[T]) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.resolved
}

// Snapshot returns the held snapshot and the error of the latest resolution.
func (r *Refresher[T]) Snapshot() (Snapshot[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot, r.lastErr
}

func (r *Refresher[T]) loop(loopCtx, fetchCtx context.Context, ticker Ticker) {
	defer close(r.done)
	defer ticker.Stop()
	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C():
			// Stop may race the tick; the loop context wins.
			if loopCtx.Err() != nil {
				return
			}
			r.tick(fetchCtx)
		}
	}
}

func (r *Refresher[T]) tick(ctx context.Context) {
	r.mu.Lock()
	if r.policy == OverlapSkip && r.inFlight > 0 {
		r.mu.Unlock()
		r.logger.Printf("poller: %s tick skipped; previous fetch still in flight", r.name)
		return
	}
	r.issued++
	seq := r.issued
	r.inFlight++
	r.mu.Unlock()
	go func() {
		data, err := r.safeFetch(ctx)
		r.apply(seq, data, err)
	}()
}

func (r *Refresher[T]) safeFetch(ctx context.Context) (data T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("poller: fetch panicked: %v", rec)
		}
	}()
	return r.fetch(ctx)
}

func (r *Refresher[T]) apply(seq uint64, data T, err error) {
	r.mu.Lock()
	r.inFlight--
	r.resolved = true
	if r.policy == OverlapDropStale && seq < r.lastApplied {
		r.mu.Unlock()
		r.logger.Printf("poller: %s dropped stale result #%d (applied #%d)", r.name, seq, r.lastApplied)
		return
	}
	if err != nil {
		r.lastErr = err
	} else {
		r.snapshot = Snapshot[T]{
			Data:      data,
			FetchedAt: r.clock.Now(),
			Seq:       seq,
			Loaded:    true,
		}
		r.lastErr = nil
		r.lastApplied = seq
	}
	res := Result[T]{Snapshot: r.snapshot, Seq: seq, Err: err}
	hook := r.onResult
	r.mu.Unlock()

	if err != nil {
		r.logger.Printf("poller: %s fetch #%d failed: %v", r.name, seq, err)
	}
	if hook != nil {
		hook(res)
	}
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
