package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"chat-token-budget/internal/domain"
	"chat-token-budget/internal/domain/ports/adapter"
)

var _ adapter.Locker = (*RedisLocker)(nil)

const (
	lockAttempts = 5
	lockBackoff  = 50 * time.Millisecond
)

type RedisLocker struct {
	cli *redis.Client
}

func NewLocker(c *redClient) *RedisLocker {
	return &RedisLocker{cli: c.cli}
}

func lockKey(key string) string { return "lock:" + key }

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	for i := 0; i < lockAttempts; i++ {
		ok, err := l.cli.SetNX(ctx, lockKey(key), token, ttl).Result()
		if err == nil && ok {
			return token, nil
		}
		select {
		case <-time.After(lockBackoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", domain.ErrChatBusy
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Unlock deletes the lock only if it is still held with token.
func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{lockKey(key)}, token).Result()
	return err
}
