package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"chat-token-budget/internal/domain/ports/adapter"
)

var _ adapter.RateLimiter = (*SlidingWindowLimiter)(nil)

// SlidingWindowLimiter keeps one sorted set of request timestamps per key so
// that every API replica shares the same window.
type SlidingWindowLimiter struct {
	client *redClient
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewSlidingWindowLimiter(client *redClient, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{client: client, limit: limit, window: window, now: time.Now}
}

func (r *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := RateLimitKey(key)
	now := r.now()
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()
	windowStart := now.Add(-r.window).UnixNano()

	var card *redis.IntCmd
	_, err := r.client.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(windowStart, 10))
		pipe.ZAdd(ctx, k, &redis.Z{Score: float64(now.UnixNano()), Member: member})
		card = pipe.ZCard(ctx, k)
		pipe.Expire(ctx, k, r.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", k, err)
	}

	if card.Val() > int64(r.limit) {
		// Rejected requests do not consume the window.
		_ = r.client.cli.ZRem(ctx, k, member).Err()
		return false, nil
	}
	return true, nil
}

func RateLimitKey(key string) string {
	return "rate_limit:" + key
}
