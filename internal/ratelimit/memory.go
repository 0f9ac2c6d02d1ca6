package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// evictEvery is how often the janitor scans for idle buckets.
	evictEvery = time.Minute
	// idleEviction is how long a key may go untouched before its
	// bucket is dropped. Long enough that a quota never resets
	// between requests of an active caller.
	idleEviction = 10 * time.Minute
)

// tokenBucket tracks the remaining quota for one limiter key
// ("auth:10.0.0.1", "execute:<user-uuid>", ...).
type tokenBucket struct {
	remaining float64
	touched   time.Time
}

// refill tops the bucket up for the time elapsed since it was last
// touched, capped at burst.
func (b *tokenBucket) refill(now time.Time, rate, burst float64) {
	b.remaining += now.Sub(b.touched).Seconds() * rate
	if b.remaining > burst {
		b.remaining = burst
	}
	b.touched = now
}

// MemoryLimiter is the single-instance Limiter: a token bucket per key,
// held in process memory. It is the fallback when PLUME_REDIS_URL is
// unset; quotas are per instance, not shared.
//
// A janitor goroutine drops idle buckets so one-off callers (signup
// attempts, scanners) do not grow the map without bound.
type MemoryLimiter struct {
	rate  float64 // tokens restored per second
	burst float64 // bucket capacity

	mu    sync.Mutex
	byKey map[string]*tokenBucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter returns a limiter allowing a sustained rate of
// requests per second per key, with bursts up to burst. Call Close to
// stop the janitor.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:  rate,
		burst: float64(burst),
		byKey: make(map[string]*tokenBucket),
		done:  make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Allow takes one token for key, reporting whether one was available.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.byKey[key]
	if !ok {
		// Unseen key: full bucket, minus the token for this request.
		m.byKey[key] = &tokenBucket{remaining: m.burst - 1, touched: now}
		return true, nil
	}

	b.refill(now, m.rate, m.burst)
	if b.remaining < 1 {
		return false, nil
	}
	b.remaining--
	return true, nil
}

// Close stops the janitor. Idempotent.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) janitor() {
	ticker := time.NewTicker(evictEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *MemoryLimiter) evictIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-idleEviction)
	for key, b := range m.byKey {
		if b.touched.Before(cutoff) {
			delete(m.byKey, key)
		}
	}
}
