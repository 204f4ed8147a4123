// Package ratelimit enforces a per-caller request budget over a fixed
// one-hour window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is the budget window length.
const DefaultWindow = time.Hour

// bucket tracks admitted requests for one caller. Each bucket has its own
// lock so concurrent callers never contend with each other.
type bucket struct {
	mu    sync.Mutex
	start time.Time
	count int
}

// Limiter admits requests per caller identity, up to limit per window.
// Buckets are created lazily and evicted once idle past a full window.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration

	now func() time.Time
}

// New creates a Limiter allowing limit requests per caller per window.
// A zero window selects DefaultWindow.
func New(limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Admit reports whether the caller has budget left. When rejected, the
// returned duration is the time until the caller's window resets.
func (l *Limiter) Admit(caller string) (bool, time.Duration) {
	b := l.bucket(caller)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	if now.Sub(b.start) >= l.window {
		b.start = now
		b.count = 0
	}
	if b.count < l.limit {
		b.count++
		return true, 0
	}
	return false, b.start.Add(l.window).Sub(now)
}

func (l *Limiter) bucket(caller string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[caller]
	if !ok {
		b = &bucket{start: l.now()}
		l.buckets[caller] = b
	}
	return b
}

// Start runs periodic eviction of idle buckets until ctx is cancelled.
// Non-blocking.
func (l *Limiter) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(l.window / 4)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.evict()
			}
		}
	}()
}

// evict drops buckets whose window elapsed a full window ago; a later
// request recreates them with a fresh window.
func (l *Limiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-2 * l.window)
	for caller, b := range l.buckets {
		b.mu.Lock()
		stale := b.start.Before(cutoff)
		b.mu.Unlock()
		if stale {
			delete(l.buckets, caller)
		}
	}
}
