package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chat-token-budget/internal/domain/model"
)

// cacheVersion is bumped whenever the cached session layout changes so that
// entries written by older replicas read as misses.
const cacheVersion = 1

type cachedSession struct {
	Version  int                `json:"v"`
	CachedAt time.Time          `json:"cachedAt"`
	Session  *model.ChatSession `json:"session"`
}

// ChatCache keeps read-through copies of whole sessions, messages included.
type ChatCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewChatCache(client RedisClient, ttl time.Duration) *ChatCache {
	return &ChatCache{client: client, ttl: ttl}
}

func sessionKey(id string) string { return "chat_session:" + id }

func (c *ChatCache) StoreSession(ctx context.Context, session *model.ChatSession) error {
	data, err := json.Marshal(cachedSession{Version: cacheVersion, CachedAt: time.Now().UTC(), Session: session})
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}
	return c.client.Set(ctx, sessionKey(session.ID), data, c.ttl)
}

// GetSession returns ErrCacheMiss when the session is absent, unreadable or
// written with another cache version. Unreadable entries are dropped.
func (c *ChatCache) GetSession(ctx context.Context, sessionID string) (*model.ChatSession, error) {
	key := sessionKey(sessionID)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var entry cachedSession
	if err := json.Unmarshal([]byte(data), &entry); err != nil || entry.Session == nil {
		_ = c.client.Del(ctx, key)
		return nil, ErrCacheMiss
	}
	if entry.Version != cacheVersion || entry.Session.ID != sessionID {
		return nil, ErrCacheMiss
	}
	return entry.Session, nil
}

func (c *ChatCache) DeleteSession(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, sessionKey(sessionID))
}
