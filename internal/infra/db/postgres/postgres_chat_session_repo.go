package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"chat-token-budget/internal/domain"
	"chat-token-budget/internal/domain/model"
	"chat-token-budget/internal/domain/ports/repository"
	"chat-token-budget/internal/infra/metrics"
	"chat-token-budget/internal/infra/redis"
	"chat-token-budget/internal/infra/security"
)

const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

var _ repository.ChatSessionRepository = (*ChatSessionRepo)(nil)

// ChatSessionRepo stores sessions and their messages. FindByID reads through
// the optional redis cache; writes invalidate it. With a cipher set, message
// content is sealed before it reaches the database.
type ChatSessionRepo struct {
	pool   *pgxpool.Pool
	cache  *redis.ChatCache
	cipher *security.MessageCipher
}

func NewChatSessionRepo(pool *pgxpool.Pool, cache *redis.ChatCache, cipher *security.MessageCipher) *ChatSessionRepo {
	return &ChatSessionRepo{pool: pool, cache: cache, cipher: cipher}
}

func (r *ChatSessionRepo) Save(ctx context.Context, qx any, session *model.ChatSession) error {
	const q = `
INSERT INTO chat_sessions (id, user_id, model, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET
  model = EXCLUDED.model,
  status = EXCLUDED.status,
  updated_at = EXCLUDED.updated_at;`
	createdAt, updatedAt := session.CreatedAt, session.UpdatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	_, err := pick(r.pool, qx).Exec(ctx, q,
		session.ID, session.UserID, session.Model, string(session.Status), createdAt, updatedAt)
	if err != nil {
		return mapPgError("save session", err)
	}
	r.invalidate(ctx, session.ID)
	return nil
}

func (r *ChatSessionRepo) SaveMessage(ctx context.Context, qx any, m *model.ChatMessage) error {
	const q = `
INSERT INTO chat_messages (id, session_id, role, content, tokens, created_at)
VALUES ($1,$2,$3,$4,$5,$6);`
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	content := m.Content
	if r.cipher != nil {
		sealed, err := r.cipher.Seal(content)
		if err != nil {
			return fmt.Errorf("seal message: %w", err)
		}
		content = sealed
	}
	exec := pick(r.pool, qx)
	if _, err := exec.Exec(ctx, q, m.ID, m.SessionID, string(m.Role), content, m.Tokens, ts); err != nil {
		return mapPgError("save message", err)
	}
	const touch = `UPDATE chat_sessions SET updated_at=$2 WHERE id=$1;`
	if _, err := exec.Exec(ctx, touch, m.SessionID, ts); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	r.invalidate(ctx, m.SessionID)
	return nil
}

func (r *ChatSessionRepo) FindActiveByUser(ctx context.Context, qx any, userID string) (*model.ChatSession, error) {
	const q = `SELECT id FROM chat_sessions WHERE user_id=$1 AND status='active' ORDER BY created_at DESC LIMIT 1;`
	var id string
	if err := pick(r.pool, qx).QueryRow(ctx, q, userID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return r.FindByID(ctx, qx, id)
}

func (r *ChatSessionRepo) FindByID(ctx context.Context, qx any, id string) (*model.ChatSession, error) {
	// Inside a transaction the cache may be stale relative to uncommitted writes.
	useCache := r.cache != nil && qx == nil
	if useCache {
		s, err := r.cache.GetSession(ctx, id)
		if err == nil {
			metrics.IncCacheRequest("chat_session", "hit")
			return s, nil
		}
		metrics.IncCacheRequest("chat_session", "miss")
	}

	exec := pick(r.pool, qx)
	const qs = `SELECT id, user_id, model, status, created_at, updated_at FROM chat_sessions WHERE id=$1;`
	var s model.ChatSession
	var status string
	if err := exec.QueryRow(ctx, qs, id).Scan(&s.ID, &s.UserID, &s.Model, &status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: session: %v", domain.ErrReadDatabaseRow, err)
	}
	s.Status = model.ChatSessionStatus(status)

	const qm = `SELECT id, role, content, tokens, created_at FROM chat_messages WHERE session_id=$1 ORDER BY created_at ASC, id ASC;`
	rows, err := exec.Query(ctx, qm, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			msg  model.ChatMessage
			role string
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.Tokens, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: message: %v", domain.ErrReadDatabaseRow, err)
		}
		if security.IsSealed(msg.Content) {
			if r.cipher == nil {
				return nil, fmt.Errorf("%w: message %s is encrypted but no key is configured", domain.ErrReadDatabaseRow, msg.ID)
			}
			plain, err := r.cipher.Open(msg.Content)
			if err != nil {
				return nil, fmt.Errorf("%w: open message %s: %v", domain.ErrReadDatabaseRow, msg.ID, err)
			}
			msg.Content = plain
		}
		msg.SessionID = s.ID
		msg.Role = model.Role(role)
		s.Messages = append(s.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}

	if useCache {
		_ = r.cache.StoreSession(ctx, &s)
	}
	return &s, nil
}

func (r *ChatSessionRepo) UpdateStatus(ctx context.Context, qx any, sessionID string, status model.ChatSessionStatus) error {
	const q = `UPDATE chat_sessions SET status=$2, updated_at=NOW() WHERE id=$1;`
	tag, err := pick(r.pool, qx).Exec(ctx, q, sessionID, string(status))
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	r.invalidate(ctx, sessionID)
	return nil
}

func (r *ChatSessionRepo) PurgeFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM chat_sessions WHERE status='finished' AND updated_at < $1 RETURNING id;`
	rows, err := r.pool.Query(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	defer rows.Close()
	var n int64
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return n, fmt.Errorf("%w: purge: %v", domain.ErrReadDatabaseRow, err)
		}
		r.invalidate(ctx, id)
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("rows err: %w", err)
	}
	return n, nil
}

func (r *ChatSessionRepo) invalidate(ctx context.Context, sessionID string) {
	if r.cache != nil {
		_ = r.cache.DeleteSession(ctx, sessionID)
	}
}

func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w", op, domain.ErrAlreadyExists)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
