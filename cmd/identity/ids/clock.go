package ids

import "time"

// Clock reports wall-clock Unix milliseconds.
type Clock interface {
	NowMillis() int64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() int64

func (f ClockFunc) NowMillis() int64 { return f() }

// monotonicClock is anchored to the wall clock once and then advanced by the
// process monotonic reading, so wall-clock steps after start are not seen.
type monotonicClock struct {
	start     time.Time
	startWall int64
}

// NewMonotonicClock returns the default clock.
func NewMonotonicClock() Clock {
	now := time.Now()
	return &monotonicClock{start: now, startWall: now.UnixMilli()}
}

func (c *monotonicClock) NowMillis() int64 {
	return c.startWall + time.Since(c.start).Milliseconds()
}

// SystemClock reads time.Now on every call. Wall-clock steps are visible,
// which is what the rollback tolerance exists for.
var SystemClock Clock = ClockFunc(func() int64 { return time.Now().UnixMilli() })
