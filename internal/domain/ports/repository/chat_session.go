package repository

import (
	"context"
	"time"

	"chat-token-budget/internal/domain/model"
)

// -----------------------------
// Chat Sessions
// -----------------------------

// ChatSessionRepository supplies conversation history and stores new messages.
// qx is an optional transaction handle; nil selects the non-transactional path.
type ChatSessionRepository interface {
	Save(ctx context.Context, qx any, session *model.ChatSession) error
	SaveMessage(ctx context.Context, qx any, message *model.ChatMessage) error
	FindActiveByUser(ctx context.Context, qx any, userID string) (*model.ChatSession, error)
	FindByID(ctx context.Context, qx any, id string) (*model.ChatSession, error)
	UpdateStatus(ctx context.Context, qx any, sessionID string, status model.ChatSessionStatus) error
	// PurgeFinishedBefore deletes finished sessions (and their messages) last
	// updated before cutoff and returns how many were removed.
	PurgeFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
