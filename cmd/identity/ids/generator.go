package ids

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// DefaultMaxRollback is how far the clock may step back before Next fails
// instead of waiting.
const DefaultMaxRollback = 5 * time.Millisecond

// DefaultEpoch is 2020-01-01T00:00:00Z in Unix milliseconds.
const DefaultEpoch int64 = 1577836800000

// Source is what entity stores depend on to mint keys.
type Source interface {
	NextContext(ctx context.Context) (ID, error)
}

// Observer receives generator events. Implementations must be cheap and
// non-blocking; they are called after the generator lock is released.
type Observer interface {
	IDIssued()
	SequenceExhausted()
	ClockRollback(drift time.Duration, tolerated bool)
}

type nopObserver struct{}

func (nopObserver) IDIssued()                         {}
func (nopObserver) SequenceExhausted()                {}
func (nopObserver) ClockRollback(time.Duration, bool) {}

// Option configures a Generator.
type Option func(*Generator)

func WithClock(c Clock) Option {
	return func(g *Generator) {
		if c != nil {
			g.clock = c
		}
	}
}

func WithLayout(l Layout) Option { return func(g *Generator) { g.layout = l } }

// WithMaxRollback sets the rollback tolerance. Zero disables waiting.
func WithMaxRollback(d time.Duration) Option {
	return func(g *Generator) {
		if d >= 0 {
			g.maxRollback = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(g *Generator) {
		if o != nil {
			g.observer = o
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(g *Generator) {
		if log != nil {
			g.log = log
		}
	}
}

// Generator issues unique, time ordered IDs for one worker. It is safe for
// concurrent use; share a single instance per process.
type Generator struct {
	layout      Layout
	workerID    int64
	epoch       int64
	clock       Clock
	maxRollback time.Duration
	observer    Observer
	log         *slog.Logger

	mu            sync.Mutex
	lastTimestamp int64
	sequence      int64
}

// NewGenerator validates workerID and epochMillis (Unix milliseconds) and
// returns a generator that has not issued anything yet.
func NewGenerator(workerID, epochMillis int64, opts ...Option) (*Generator, error) {
	g := &Generator{
		layout:        DefaultLayout,
		workerID:      workerID,
		epoch:         epochMillis,
		clock:         NewMonotonicClock(),
		maxRollback:   DefaultMaxRollback,
		observer:      nopObserver{},
		log:           slog.Default(),
		lastTimestamp: -1,
	}
	for _, opt := range opts {
		opt(g)
	}

	if err := g.layout.Validate(); err != nil {
		return nil, err
	}
	if workerID < 0 || workerID > g.layout.MaxWorkerID() {
		return nil, fmt.Errorf("%w: %d not in [0, %d]", ErrWorkerIDOutOfRange, workerID, g.layout.MaxWorkerID())
	}
	if epochMillis < 0 {
		return nil, fmt.Errorf("%w: negative epoch %d", ErrInvalidEpoch, epochMillis)
	}
	if now := g.clock.NowMillis(); epochMillis > now {
		return nil, fmt.Errorf("%w: epoch %d is after current time %d", ErrInvalidEpoch, epochMillis, now)
	}
	return g, nil
}

func (g *Generator) WorkerID() int64 { return g.workerID }
func (g *Generator) Epoch() int64    { return g.epoch }
func (g *Generator) Layout() Layout  { return g.layout }

// Decode splits id using this generator's layout.
func (g *Generator) Decode(id ID) Parts { return g.layout.Decode(id) }

// Time returns the wall time encoded in id.
func (g *Generator) Time(id ID) time.Time { return g.layout.Decode(id).Time(g.epoch) }

// genEvent collects what happened inside the critical section so observers
// and logging run without the lock held.
type genEvent struct {
	drift     time.Duration
	tolerated bool
	exhausted bool
}

// Next returns a fresh ID. It fails with ErrClockRolledBack when the clock
// stepped back beyond the tolerance, with ErrInvalidEpoch when the first
// reading falls before the epoch and with ErrEpochExhausted once the
// timestamp field is full. State is only updated on success.
func (g *Generator) Next() (ID, error) {
	g.mu.Lock()
	id, ev, err := g.nextLocked()
	g.mu.Unlock()

	if ev.drift > 0 {
		g.observer.ClockRollback(ev.drift, ev.tolerated)
		if !ev.tolerated {
			g.log.Warn("ids.clock_rollback",
				"worker_id", g.workerID,
				"drift_ms", ev.drift.Milliseconds(),
				"tolerance_ms", g.maxRollback.Milliseconds(),
			)
		}
	}
	if ev.exhausted {
		g.observer.SequenceExhausted()
	}
	if err != nil {
		return 0, err
	}
	g.observer.IDIssued()
	return id, nil
}

// NextContext is Next with a cancellation check before the lock is taken.
func (g *Generator) NextContext(ctx context.Context) (ID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return g.Next()
}

// MustNext panics on error. For tests and fixtures where a generator
// failure is a programming error.
func (g *Generator) MustNext() ID {
	id, err := g.Next()
	if err != nil {
		panic(err)
	}
	return id
}

func (g *Generator) nextLocked() (ID, genEvent, error) {
	var ev genEvent
	now := g.since()

	// A pre-epoch reading cannot be packed. After the first id it is
	// handled as a rollback instead.
	if now < 0 && g.lastTimestamp < 0 {
		return 0, ev, fmt.Errorf("%w: clock reads %dms before the epoch", ErrInvalidEpoch, -now)
	}

	if now < g.lastTimestamp {
		ev.drift = time.Duration(g.lastTimestamp-now) * time.Millisecond
		if ev.drift > g.maxRollback {
			return 0, ev, &ClockRollbackError{Drift: ev.drift, Tolerance: g.maxRollback}
		}
		ev.tolerated = true
		now = g.waitUntil(g.lastTimestamp)
	}

	var seq int64
	if now == g.lastTimestamp {
		seq = (g.sequence + 1) & g.layout.MaxSequence()
		if seq == 0 {
			ev.exhausted = true
			now = g.waitUntil(g.lastTimestamp + 1)
		}
	}

	if now > g.layout.MaxTimestamp() {
		return 0, ev, ErrEpochExhausted
	}

	g.lastTimestamp = now
	g.sequence = seq
	return g.layout.Pack(now, g.workerID, seq), ev, nil
}

func (g *Generator) since() int64 { return g.clock.NowMillis() - g.epoch }

// waitUntil spins until the clock reaches target and returns the reading.
func (g *Generator) waitUntil(target int64) int64 {
	for {
		now := g.since()
		if now >= target {
			return now
		}
		runtime.Gosched()
	}
}
