// ABOUTME: Fixed-window request rate limiter keyed by caller identity
// ABOUTME: Counters live behind an injectable store; the default is in-memory

package ratelimit

import (
	"sync"
	"time"
)

// CounterStore tracks one fixed window of request counts per key.
// Implementations must be safe for concurrent use. MemoryStore is the
// default backend; a deployment that needs shared limits across
// replicas can put an external store behind the same contract.
type CounterStore interface {
	// Incr records one request for key at now and returns the updated
	// count together with the start of the window the request landed
	// in. A key with no live window starts a fresh one at now.
	Incr(key string, now time.Time) (count int, windowStart time.Time)
}

// window tracks one key's current fixed window.
type window struct {
	start time.Time
	count int
}

// MemoryStore is the in-process CounterStore. Stale windows are swept
// during Incr, so it needs no background goroutine and nothing to close.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	period  time.Duration
}

// NewMemoryStore creates a store whose windows expire after period.
func NewMemoryStore(period time.Duration) *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*window),
		period:  period,
	}
}

// Incr implements CounterStore.
func (s *MemoryStore) Incr(key string, now time.Time) (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(now)

	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) > s.period {
		s.windows[key] = &window{start: now, count: 1}
		return 1, now
	}

	w.count++
	return w.count, w.start
}

// sweepLocked drops windows whose period has fully elapsed. Must be
// called with mu held.
func (s *MemoryStore) sweepLocked(now time.Time) {
	for key, w := range s.windows {
		if now.Sub(w.start) > s.period {
			delete(s.windows, key)
		}
	}
}

// Limiter enforces a fixed-window request limit per key. Keys are
// opaque; callers typically use a client IP or a correlation ID.
type Limiter struct {
	counters CounterStore
	limit    int
	period   time.Duration

	now func() time.Time // overridable in tests
}

// New creates a limiter allowing limit requests per key per period,
// backed by an in-memory store.
func New(limit int, period time.Duration) *Limiter {
	return NewWithStore(NewMemoryStore(period), limit, period)
}

// NewWithStore creates a limiter over the given counter store.
func NewWithStore(counters CounterStore, limit int, period time.Duration) *Limiter {
	return &Limiter{
		counters: counters,
		limit:    limit,
		period:   period,
		now:      time.Now,
	}
}

// Allow records one request for key and reports whether it is within
// the limit. When denied, retryAfter is how long the caller should wait
// before the window resets; it is always at least one second.
func (l *Limiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	now := l.now()

	count, start := l.counters.Incr(key, now)
	if count <= l.limit {
		return true, 0
	}

	retryAfter = l.period - now.Sub(start)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter
}
