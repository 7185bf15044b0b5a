package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// failureWindow is a sliding-window record of failed attempts for one key.
type failureWindow struct {
	events []time.Time
}

// prune drops events at or before cut.
func (f *failureWindow) prune(cut time.Time) {
	dst := f.events[:0]
	for _, t := range f.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	f.events = dst
}

// ipThrottle counts failed signins per client IP.
type ipThrottle struct {
	mu     sync.Mutex
	byKey  map[string]*failureWindow
	limit  int
	window time.Duration
}

func newIPThrottle(limit int, window time.Duration) *ipThrottle {
	return &ipThrottle{
		byKey:  make(map[string]*failureWindow),
		limit:  limit,
		window: window,
	}
}

// Blocked reports whether key has reached the failure limit, and for how
// long it stays blocked.
func (t *ipThrottle) Blocked(key string, now time.Time) (bool, time.Duration) {
	if t == nil || key == "" || t.limit <= 0 {
		return false, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	fw, ok := t.byKey[key]
	if !ok {
		return false, 0
	}
	fw.prune(now.Add(-t.window))
	if len(fw.events) == 0 {
		delete(t.byKey, key)
		return false, 0
	}
	if len(fw.events) < t.limit {
		return false, 0
	}
	// Unblocked once the oldest counted failure leaves the window.
	oldest := fw.events[len(fw.events)-t.limit]
	return true, oldest.Add(t.window).Sub(now)
}

// Fail records a failed attempt for key.
func (t *ipThrottle) Fail(key string, now time.Time) {
	if t == nil || key == "" || t.limit <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	fw, ok := t.byKey[key]
	if !ok {
		fw = &failureWindow{events: make([]time.Time, 0, t.limit)}
		t.byKey[key] = fw
	}
	fw.prune(now.Add(-t.window))
	fw.events = append(fw.events, now)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "Too many attempts")
}
