// ABOUTME: Tests for the fixed-window rate limiter
// ABOUTME: Uses a fake clock to exercise window reset, denial and sweeping

package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(limit int, period time.Duration) (*Limiter, *MemoryStore, *time.Time) {
	ms := NewMemoryStore(period)
	l := NewWithStore(ms, limit, period)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, ms, &now
}

func TestAllow_UnderLimit(t *testing.T) {
	l, _, _ := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		allowed, _ := l.Allow("ip-1")
		assert.True(t, allowed, "request %d", i+1)
	}
}

func TestAllow_DeniesOverLimit(t *testing.T) {
	l, _, _ := newTestLimiter(2, time.Minute)

	l.Allow("ip-1")
	l.Allow("ip-1")
	allowed, retryAfter := l.Allow("ip-1")
	assert.False(t, allowed)
	assert.Equal(t, time.Minute, retryAfter)
}

func TestAllow_RetryAfterShrinksWithTime(t *testing.T) {
	l, _, now := newTestLimiter(1, time.Minute)

	l.Allow("ip-1")
	*now = now.Add(45 * time.Second)
	allowed, retryAfter := l.Allow("ip-1")
	require.False(t, allowed)
	assert.Equal(t, 15*time.Second, retryAfter)
}

func TestAllow_RetryAfterFloorsAtOneSecond(t *testing.T) {
	l, _, now := newTestLimiter(1, time.Minute)

	l.Allow("ip-1")
	*now = now.Add(time.Minute - 100*time.Millisecond)
	allowed, retryAfter := l.Allow("ip-1")
	require.False(t, allowed)
	assert.Equal(t, time.Second, retryAfter)
}

func TestAllow_WindowResets(t *testing.T) {
	l, _, now := newTestLimiter(1, time.Minute)

	l.Allow("ip-1")
	allowed, _ := l.Allow("ip-1")
	require.False(t, allowed)

	*now = now.Add(61 * time.Second)
	allowed, _ = l.Allow("ip-1")
	assert.True(t, allowed)
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l, _, _ := newTestLimiter(1, time.Minute)

	l.Allow("ip-1")
	allowed, _ := l.Allow("ip-2")
	assert.True(t, allowed)
}

func TestAllow_SweepsStaleWindows(t *testing.T) {
	l, ms, now := newTestLimiter(1, time.Minute)

	for i := 0; i < 100; i++ {
		l.Allow(fmt.Sprintf("ip-%d", i))
	}
	*now = now.Add(2 * time.Minute)
	l.Allow("fresh")

	ms.mu.Lock()
	defer ms.mu.Unlock()
	assert.Len(t, ms.windows, 1)
}

// recordingStore counts monotonically regardless of time, proving the
// limiter consults whatever backend it is given.
type recordingStore struct {
	count int
	start time.Time
	keys  []string
}

func (s *recordingStore) Incr(key string, now time.Time) (int, time.Time) {
	if s.count == 0 {
		s.start = now
	}
	s.count++
	s.keys = append(s.keys, key)
	return s.count, s.start
}

func TestAllow_UsesInjectedStore(t *testing.T) {
	rs := &recordingStore{}
	l := NewWithStore(rs, 1, time.Minute)

	allowed, _ := l.Allow("ip-1")
	require.True(t, allowed)

	allowed, retryAfter := l.Allow("ip-1")
	assert.False(t, allowed)
	assert.GreaterOrEqual(t, retryAfter, time.Second)
	assert.Equal(t, []string{"ip-1", "ip-1"}, rs.keys)
}
