package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"chat-token-budget/internal/domain/ports/repository"
	"chat-token-budget/internal/infra/metrics"
)

// RetentionUseCase removes finished chat sessions once they age past ttl.
type RetentionUseCase struct {
	sessions repository.ChatSessionRepository
	ttl      time.Duration
	now      func() time.Time
	log      *zerolog.Logger
}

// NewRetentionUseCase returns a use case that keeps everything when ttl <= 0.
func NewRetentionUseCase(sessions repository.ChatSessionRepository, ttl time.Duration, logger *zerolog.Logger) *RetentionUseCase {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RetentionUseCase{sessions: sessions, ttl: ttl, now: time.Now, log: logger}
}

func (r *RetentionUseCase) Enabled() bool { return r.ttl > 0 }

// PurgeFinished deletes finished sessions last touched before now-ttl.
func (r *RetentionUseCase) PurgeFinished(ctx context.Context) (int64, error) {
	if !r.Enabled() {
		return 0, nil
	}
	cutoff := r.now().Add(-r.ttl)
	n, err := r.sessions.PurgeFinishedBefore(ctx, cutoff)
	if err != nil {
		return n, err
	}
	metrics.AddSessionsPurged(n)
	if n > 0 {
		r.log.Debug().Int64("sessions", n).Time("cutoff", cutoff).Msg("purged finished chats")
	}
	return n, nil
}
