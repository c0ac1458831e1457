//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"chat-token-budget/internal/domain"
	"chat-token-budget/internal/domain/model"
	"chat-token-budget/internal/domain/ports/repository"
	"chat-token-budget/internal/infra/security"
)

func TestChatSessionRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	// nil cache: only the database layer is under test.
	repo := NewChatSessionRepo(testPool, nil, nil)

	t.Run("should save and find a session with messages", func(t *testing.T) {
		cleanup(t)

		session := model.NewChatSession(uuid.NewString(), "user-1", model.ModelGPT4o)
		if err := repo.Save(ctx, nil, session); err != nil {
			t.Fatalf("failed to save session: %v", err)
		}

		msg1 := session.AddMessage(ulid.Make().String(), model.RoleUser, "Hello World", 3)
		msg2 := session.AddMessage(ulid.Make().String(), model.RoleAssistant, "Hello User", 3)
		if err := repo.SaveMessage(ctx, nil, msg1); err != nil {
			t.Fatalf("failed to save message 1: %v", err)
		}
		if err := repo.SaveMessage(ctx, nil, msg2); err != nil {
			t.Fatalf("failed to save message 2: %v", err)
		}

		found, err := repo.FindByID(ctx, nil, session.ID)
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if len(found.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(found.Messages))
		}
		if found.Messages[0].Content != "Hello World" || found.Messages[1].Role != model.RoleAssistant {
			t.Errorf("messages not retrieved in order: %+v", found.Messages)
		}
	})

	t.Run("should handle active and finished statuses", func(t *testing.T) {
		cleanup(t)

		active := model.NewChatSession(uuid.NewString(), "user-2", model.ModelGPT4oMini)
		finished := model.NewChatSession(uuid.NewString(), "user-2", model.ModelGPT35Turbo)
		finished.Status = model.ChatSessionFinished
		if err := repo.Save(ctx, nil, active); err != nil {
			t.Fatal(err)
		}
		if err := repo.Save(ctx, nil, finished); err != nil {
			t.Fatal(err)
		}

		got, err := repo.FindActiveByUser(ctx, nil, "user-2")
		if err != nil {
			t.Fatalf("FindActiveByUser failed: %v", err)
		}
		if got.ID != active.ID {
			t.Errorf("expected active session %s, got %s", active.ID, got.ID)
		}

		if err := repo.UpdateStatus(ctx, nil, active.ID, model.ChatSessionFinished); err != nil {
			t.Fatalf("UpdateStatus failed: %v", err)
		}
		if _, err := repo.FindActiveByUser(ctx, nil, "user-2"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound after finishing, got %v", err)
		}
	})

	t.Run("should reject messages for unknown sessions", func(t *testing.T) {
		cleanup(t)
		msg := &model.ChatMessage{ID: ulid.Make().String(), SessionID: "missing", Role: model.RoleUser, Content: "hi"}
		if err := repo.SaveMessage(ctx, nil, msg); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("should commit within a transaction", func(t *testing.T) {
		cleanup(t)
		txm := NewTxManager(testPool)
		session := model.NewChatSession(uuid.NewString(), "user-3", model.ModelGPT4o)
		err := txm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			if err := repo.Save(ctx, tx, session); err != nil {
				return err
			}
			return repo.SaveMessage(ctx, tx, session.AddMessage(ulid.Make().String(), model.RoleUser, "in tx", 2))
		})
		if err != nil {
			t.Fatalf("WithTx failed: %v", err)
		}
		found, err := repo.FindByID(ctx, nil, session.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(found.Messages) != 1 {
			t.Errorf("expected 1 message, got %d", len(found.Messages))
		}
	})

	t.Run("should seal message content at rest", func(t *testing.T) {
		cleanup(t)
		cipher, err := security.NewMessageCipher("0123456789abcdef0123456789abcdef")
		if err != nil {
			t.Fatal(err)
		}
		sealedRepo := NewChatSessionRepo(testPool, nil, cipher)
		session := model.NewChatSession(uuid.NewString(), "user-4", model.ModelGPT4o)
		if err := sealedRepo.Save(ctx, nil, session); err != nil {
			t.Fatal(err)
		}
		msg := session.AddMessage(ulid.Make().String(), model.RoleUser, "top secret", 3)
		if err := sealedRepo.SaveMessage(ctx, nil, msg); err != nil {
			t.Fatal(err)
		}

		var raw string
		if err := testPool.QueryRow(ctx, `SELECT content FROM chat_messages WHERE id=$1`, msg.ID).Scan(&raw); err != nil {
			t.Fatal(err)
		}
		if !security.IsSealed(raw) {
			t.Errorf("stored content is not sealed: %q", raw)
		}
		found, err := sealedRepo.FindByID(ctx, nil, session.ID)
		if err != nil {
			t.Fatal(err)
		}
		if found.Messages[0].Content != "top secret" {
			t.Errorf("unexpected content after open: %q", found.Messages[0].Content)
		}
		if _, err := repo.FindByID(ctx, nil, session.ID); !errors.Is(err, domain.ErrReadDatabaseRow) {
			t.Errorf("expected ErrReadDatabaseRow without a key, got %v", err)
		}
	})

	t.Run("should purge old finished sessions only", func(t *testing.T) {
		cleanup(t)
		old := time.Now().Add(-48 * time.Hour)
		done := model.NewChatSession(uuid.NewString(), "user-5", model.ModelGPT4o)
		done.Status = model.ChatSessionFinished
		done.CreatedAt, done.UpdatedAt = old, old
		stillActive := model.NewChatSession(uuid.NewString(), "user-5", model.ModelGPT4o)
		stillActive.CreatedAt, stillActive.UpdatedAt = old, old
		for _, s := range []*model.ChatSession{done, stillActive} {
			if err := repo.Save(ctx, nil, s); err != nil {
				t.Fatal(err)
			}
		}
		n, err := repo.PurgeFinishedBefore(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("PurgeFinishedBefore failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 purged session, got %d", n)
		}
		if _, err := repo.FindByID(ctx, nil, done.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("finished session should be gone, got %v", err)
		}
		if _, err := repo.FindByID(ctx, nil, stillActive.ID); err != nil {
			t.Errorf("active session should survive: %v", err)
		}
	})
}
