package realtime

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d denied under the limit", i)
		}
	}
	if rl.Allow(now) {
		t.Fatalf("event over the limit was allowed")
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Second)
	base := time.Now().UTC()

	if !rl.Allow(base) || !rl.Allow(base) {
		t.Fatalf("initial burst denied")
	}
	if rl.Allow(base.Add(500 * time.Millisecond)) {
		t.Fatalf("mid-window event should be denied")
	}
	// Both earlier events fall out of the window.
	if !rl.Allow(base.Add(1100 * time.Millisecond)) {
		t.Fatalf("post-window event should be allowed")
	}
}

func TestRateLimiter_DefaultsOnInvalidInput(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	now := time.Now().UTC()
	for i := 0; i < defaultRateEvents; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d denied under default limit", i)
		}
	}
	if rl.Allow(now) {
		t.Fatalf("event over the default limit was allowed")
	}
}
