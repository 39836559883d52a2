package realtime

import (
	"sync"
	"time"
)

// RateLimiter bounds how many events a single connection may submit within a
// sliding window. At most limit timestamps are held in a ring, so memory
// stays flat no matter how hard a client pushes.
type RateLimiter struct {
	mu     sync.Mutex
	stamps []time.Time
	head   int
	n      int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter, falling back to package defaults
// when inputs are invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = defaultRateEvents
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLimiter{
		stamps: make([]time.Time, limit),
		window: window,
	}
}

// Allow reports whether an event happening at now fits the window, and
// records it when it does.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.n < len(r.stamps) {
		r.stamps[(r.head+r.n)%len(r.stamps)] = now
		r.n++
		return true
	}

	// Full ring: the slot holding the oldest event frees up once that event
	// leaves the window.
	if r.stamps[r.head].After(now.Add(-r.window)) {
		return false
	}
	r.stamps[r.head] = now
	r.head = (r.head + 1) % len(r.stamps)
	return true
}
