// Package ratelimit holds the in-process rate limiter used when no shared
// store is configured.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"chat-token-budget/internal/domain/ports/adapter"
)

var _ adapter.RateLimiter = (*MemoryLimiter)(nil)

// MemoryLimiter is a sliding-window limiter keyed by identity. State lives in
// the instance, so each replica counts separately.
type MemoryLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	recent := l.hits[key][:0]
	for _, ts := range l.hits[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	if len(recent) >= l.limit {
		l.hits[key] = recent
		return false, nil
	}
	l.hits[key] = append(recent, now)
	return true, nil
}

// Sweep drops keys with no hits inside the window and returns how many went.
func (l *MemoryLimiter) Sweep(_ context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	var n int64
	for k, ts := range l.hits {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(l.hits, k)
			n++
		}
	}
	return n, nil
}
