package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-token-budget/internal/domain"
)

// localLocker is the single-process stand-in for a distributed lock.
type localLocker struct {
	mu    sync.Mutex
	held  map[string]localLock
	now   func() time.Time
	tries int
	pause time.Duration
}

type localLock struct {
	token   string
	expires time.Time
}

func newLocalLocker() *localLocker {
	return &localLocker{
		held:  map[string]localLock{},
		now:   time.Now,
		tries: 5,
		pause: 50 * time.Millisecond,
	}
}

func (l *localLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	for i := 0; i < l.tries; i++ {
		if token, ok := l.acquire(key, ttl); ok {
			return token, nil
		}
		select {
		case <-time.After(l.pause):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", domain.ErrChatBusy
}

func (l *localLocker) acquire(key string, ttl time.Duration) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return "", false
	}
	token := uuid.NewString()
	l.held[key] = localLock{token: token, expires: now.Add(ttl)}
	return token, true
}

func (l *localLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[key]; ok && cur.token == token {
		delete(l.held, key)
	}
	return nil
}
