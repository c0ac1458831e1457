package adapter

import "context"

// RateLimiter admits or rejects one request for key within a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
