package ids

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEpoch int64 = 1577836800000 // 2020-01-01T00:00:00Z

type fakeClock struct{ ms atomic.Int64 }

func newFakeClock(ms int64) *fakeClock {
	c := &fakeClock{}
	c.ms.Store(ms)
	return c
}

func (c *fakeClock) NowMillis() int64 { return c.ms.Load() }
func (c *fakeClock) Set(ms int64)     { c.ms.Store(ms) }

type recordingObserver struct {
	issued    atomic.Int64
	exhausted atomic.Int64
	tolerated atomic.Int64
	rejected  atomic.Int64
}

func (o *recordingObserver) IDIssued()          { o.issued.Add(1) }
func (o *recordingObserver) SequenceExhausted() { o.exhausted.Add(1) }
func (o *recordingObserver) ClockRollback(_ time.Duration, tolerated bool) {
	if tolerated {
		o.tolerated.Add(1)
		return
	}
	o.rejected.Add(1)
}

func newTestGenerator(t *testing.T, workerID int64, clock Clock, opts ...Option) *Generator {
	t.Helper()
	g, err := NewGenerator(workerID, testEpoch, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return g
}

// nextAfter runs g.Next on a goroutine and moves the clock to ms once the
// call has had time to reach its wait loop.
func nextAfter(t *testing.T, g *Generator, clock *fakeClock, ms int64) ID {
	t.Helper()
	type result struct {
		id  ID
		err error
	}
	done := make(chan result, 1)
	go func() {
		id, err := g.Next()
		done <- result{id, err}
	}()

	time.AfterFunc(10*time.Millisecond, func() { clock.Set(ms) })

	select {
	case r := <-done:
		require.NoError(t, r.err)
		return r.id
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for generator to observe clock advance")
		return 0
	}
}

func TestNewGenerator_WorkerIDBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		workerID int64
		wantErr  bool
	}{
		{"negative", -1, true},
		{"zero", 0, false},
		{"max", 1023, false},
		{"above max", 1024, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewGenerator(tt.workerID, testEpoch, WithClock(newFakeClock(testEpoch+1000)))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrWorkerIDOutOfRange)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewGenerator_Epoch(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch)

	_, err := NewGenerator(1, testEpoch+1, WithClock(clock))
	assert.ErrorIs(t, err, ErrInvalidEpoch, "future epoch")

	_, err = NewGenerator(1, -1, WithClock(clock))
	assert.ErrorIs(t, err, ErrInvalidEpoch, "negative epoch")

	_, err = NewGenerator(1, testEpoch, WithClock(clock))
	assert.NoError(t, err, "epoch equal to now")
}

func TestNext_SameMillisecondIncrementsSequence(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(t, 5, newFakeClock(testEpoch+1000))

	first, err := g.Next()
	require.NoError(t, err)
	second, err := g.Next()
	require.NoError(t, err)

	assert.Equal(t, Parts{Timestamp: 1000, WorkerID: 5, Sequence: 0}, Decode(first))
	assert.Equal(t, Parts{Timestamp: 1000, WorkerID: 5, Sequence: 1}, Decode(second))
	assert.Equal(t, ID(1000<<22|5<<12), first)
}

func TestNext_NewMillisecondResetsSequence(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch + 1000)
	g := newTestGenerator(t, 5, clock)

	for range 3 {
		_, err := g.Next()
		require.NoError(t, err)
	}
	clock.Set(testEpoch + 1005)

	id, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, Parts{Timestamp: 1005, WorkerID: 5, Sequence: 0}, Decode(id))
}

func TestNext_SequenceOverflowWaitsForNextMillisecond(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch + 1000)
	obs := &recordingObserver{}
	g := newTestGenerator(t, 5, clock, WithObserver(obs))

	for want := int64(0); want <= DefaultLayout.MaxSequence(); want++ {
		id, err := g.Next()
		require.NoError(t, err)
		p := Decode(id)
		require.Equal(t, int64(1000), p.Timestamp)
		require.Equal(t, want, p.Sequence)
	}

	id := nextAfter(t, g, clock, testEpoch+1001)

	assert.Equal(t, Parts{Timestamp: 1001, WorkerID: 5, Sequence: 0}, Decode(id))
	assert.Equal(t, int64(1), obs.exhausted.Load())
	assert.Equal(t, int64(4097), obs.issued.Load())
}

func TestNext_ClockRollbackBeyondTolerance(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch + 1000)
	obs := &recordingObserver{}
	g := newTestGenerator(t, 5, clock, WithObserver(obs))

	_, err := g.Next()
	require.NoError(t, err)

	clock.Set(testEpoch + 990)
	_, err = g.Next()
	require.ErrorIs(t, err, ErrClockRolledBack)

	var rbErr *ClockRollbackError
	require.True(t, errors.As(err, &rbErr))
	assert.Equal(t, 10*time.Millisecond, rbErr.Drift)
	assert.Equal(t, DefaultMaxRollback, rbErr.Tolerance)
	assert.Equal(t, int64(1), obs.rejected.Load())

	// The failed call must not have touched the state.
	clock.Set(testEpoch + 1000)
	id, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, Parts{Timestamp: 1000, WorkerID: 5, Sequence: 1}, Decode(id))
}

func TestNext_ClockRollbackWithinToleranceWaits(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch + 1000)
	obs := &recordingObserver{}
	g := newTestGenerator(t, 5, clock, WithObserver(obs))

	first, err := g.Next()
	require.NoError(t, err)

	clock.Set(testEpoch + 998)
	second := nextAfter(t, g, clock, testEpoch+1000)

	assert.Greater(t, second, first)
	assert.Equal(t, Parts{Timestamp: 1000, WorkerID: 5, Sequence: 1}, Decode(second))
	assert.Equal(t, int64(1), obs.tolerated.Load())
}

func TestNext_ZeroToleranceRejectsAnyRollback(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch + 1000)
	g := newTestGenerator(t, 1, clock, WithMaxRollback(0))

	_, err := g.Next()
	require.NoError(t, err)

	clock.Set(testEpoch + 999)
	_, err = g.Next()
	assert.ErrorIs(t, err, ErrClockRolledBack)
}

func TestNext_ClockBeforeEpoch(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch + 10)
	obs := &recordingObserver{}
	g := newTestGenerator(t, 5, clock, WithObserver(obs))

	for _, ms := range []int64{testEpoch - 1, testEpoch - 1000} {
		clock.Set(ms)
		_, err := g.Next()
		require.ErrorIs(t, err, ErrInvalidEpoch)
	}
	assert.Zero(t, obs.issued.Load())

	clock.Set(testEpoch + 20)
	id, err := g.Next()
	require.NoError(t, err)
	assert.Positive(t, id.Int64())
	assert.Equal(t, Parts{Timestamp: 20, WorkerID: 5, Sequence: 0}, Decode(id))
}

func TestNext_ClockBeforeEpochAfterIssueIsRollback(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch + 2)
	g := newTestGenerator(t, 5, clock)

	_, err := g.Next()
	require.NoError(t, err)

	clock.Set(testEpoch - 10)
	_, err = g.Next()
	var rbErr *ClockRollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, 12*time.Millisecond, rbErr.Drift)
}

func TestNext_EpochExhausted(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(1 << 41)
	g, err := NewGenerator(0, 0, WithClock(clock))
	require.NoError(t, err)

	_, err = g.Next()
	assert.ErrorIs(t, err, ErrEpochExhausted)

	clock.Set(1<<41 - 1)
	id, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<41-1), Decode(id).Timestamp)
}

func TestNext_MonotonicWithRealClock(t *testing.T) {
	t.Parallel()

	g, err := NewGenerator(7, testEpoch)
	require.NoError(t, err)

	var prev ID
	var prevParts Parts
	for i := range 20000 {
		id, err := g.Next()
		require.NoError(t, err)
		p := g.Decode(id)
		if i > 0 {
			require.Greater(t, id, prev)
			ordered := p.Timestamp > prevParts.Timestamp ||
				(p.Timestamp == prevParts.Timestamp && p.Sequence > prevParts.Sequence)
			require.True(t, ordered, "decoded fields out of order at %d", i)
		}
		require.Equal(t, int64(7), p.WorkerID)
		prev, prevParts = id, p
	}
}

func TestNext_ConcurrentCallersGetUniqueIDs(t *testing.T) {
	t.Parallel()

	const (
		workers = 8
		perG    = 5000
	)

	g, err := NewGenerator(3, testEpoch)
	require.NoError(t, err)

	results := make([][]ID, workers)
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := make([]ID, 0, perG)
			for range perG {
				id, err := g.Next()
				if err != nil {
					t.Errorf("Next: %v", err)
					return
				}
				out = append(out, id)
			}
			results[w] = out
		}()
	}
	wg.Wait()

	seen := make(map[ID]struct{}, workers*perG)
	for _, out := range results {
		for i, id := range out {
			if i > 0 && id <= out[i-1] {
				t.Fatalf("ids observed by one goroutine must increase: %d then %d", out[i-1], id)
			}
			if _, dup := seen[id]; dup {
				t.Fatalf("duplicate id %d", id)
			}
			seen[id] = struct{}{}
		}
	}
	assert.Len(t, seen, workers*perG)
}

func TestNext_DistinctWorkersNeverCollide(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch + 42)
	a := newTestGenerator(t, 1, clock)
	b := newTestGenerator(t, 2, clock)

	seen := make(map[ID]int64)
	for range 1000 {
		for _, g := range []*Generator{a, b} {
			id, err := g.Next()
			require.NoError(t, err)
			if owner, dup := seen[id]; dup {
				t.Fatalf("id %d issued by worker %d and %d", id, owner, g.WorkerID())
			}
			seen[id] = g.WorkerID()
			assert.Equal(t, g.WorkerID(), Decode(id).WorkerID)
		}
	}
}

func TestGenerator_CustomLayout(t *testing.T) {
	t.Parallel()

	layout := Layout{WorkerBits: 5, SequenceBits: 3}
	clock := newFakeClock(testEpoch + 50)

	_, err := NewGenerator(32, testEpoch, WithClock(clock), WithLayout(layout))
	assert.ErrorIs(t, err, ErrWorkerIDOutOfRange)

	g := newTestGenerator(t, 31, clock, WithLayout(layout))
	for want := int64(0); want < 8; want++ {
		id, err := g.Next()
		require.NoError(t, err)
		assert.Equal(t, Parts{Timestamp: 50, WorkerID: 31, Sequence: want}, g.Decode(id))
	}

	id := nextAfter(t, g, clock, testEpoch+51)
	assert.Equal(t, Parts{Timestamp: 51, WorkerID: 31, Sequence: 0}, g.Decode(id))
}

func TestGenerator_InvalidLayout(t *testing.T) {
	t.Parallel()

	for _, l := range []Layout{
		{WorkerBits: 0, SequenceBits: 12},
		{WorkerBits: 10, SequenceBits: 0},
		{WorkerBits: 20, SequenceBits: 20},
	} {
		_, err := NewGenerator(0, testEpoch, WithLayout(l))
		assert.ErrorIs(t, err, ErrInvalidLayout, "%+v", l)
	}
}

func TestGenerator_TimeRoundTrip(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(t, 9, newFakeClock(testEpoch+86_400_000))
	id := g.MustNext()

	assert.Equal(t, time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), g.Time(id))
}

func TestNextContext_Canceled(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(t, 1, newFakeClock(testEpoch+1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.NextContext(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = g.NextContext(context.Background())
	assert.NoError(t, err)
}

func BenchmarkNext(b *testing.B) {
	g, err := NewGenerator(1, testEpoch)
	if err != nil {
		b.Fatal(err)
	}
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := g.Next(); err != nil {
				b.Fatal(err)
			}
		}
	})
}
