//go:build !integration

package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "user-1"); !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if ok, _ := l.Allow(ctx, "user-1"); ok {
		t.Fatal("third request inside the window should be rejected")
	}
	if ok, _ := l.Allow(ctx, "user-2"); !ok {
		t.Fatal("other identities have their own window")
	}

	clock = clock.Add(61 * time.Second)
	if ok, _ := l.Allow(ctx, "user-1"); !ok {
		t.Fatal("request after the window slides should be allowed")
	}
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(5, time.Minute)
	l.now = func() time.Time { return clock }

	_, _ = l.Allow(context.Background(), "user-1")
	clock = clock.Add(2 * time.Minute)
	n, _ := l.Sweep(context.Background())

	if n != 1 || len(l.hits) != 0 {
		t.Fatalf("expected idle keys to be swept, got %d", len(l.hits))
	}
}
