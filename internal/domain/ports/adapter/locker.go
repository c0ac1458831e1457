package adapter

import (
	"context"
	"time"
)

// Locker guards short critical sections across replicas.
type Locker interface {
	// TryLock returns a token to pass to Unlock, or domain.ErrChatBusy.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
