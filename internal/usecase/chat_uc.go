package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"chat-token-budget/internal/domain"
	"chat-token-budget/internal/domain/model"
	"chat-token-budget/internal/domain/ports/adapter"
	"chat-token-budget/internal/domain/ports/repository"
	"chat-token-budget/internal/infra/logging"
	"chat-token-budget/internal/infra/metrics"
	"chat-token-budget/internal/tokenbudget"
)

// Compile-time check
var _ ChatUseCase = (*chatUC)(nil)

const startChatLockTTL = 5 * time.Second

// ChatReply is the outcome of one SendMessage round trip.
type ChatReply struct {
	Message    model.ChatMessage      `json:"message"`
	Usage      adapter.Usage          `json:"usage"`
	TokenCheck model.TokenLimitReport `json:"tokenCheck"`
	// SentMessages counts the messages sent to the provider after trimming.
	SentMessages int     `json:"sentMessages"`
	Trimmed      bool    `json:"trimmed"`
	Cost         float64 `json:"estimatedCost"`
}

type ChatUseCase interface {
	StartChat(ctx context.Context, userID, modelName string) (*model.ChatSession, error)
	SendMessage(ctx context.Context, userID, sessionID, content string) (*ChatReply, error)
	GetSession(ctx context.Context, userID, sessionID string) (*model.ChatSession, error)
	EndChat(ctx context.Context, userID, sessionID string) error
}

type chatUC struct {
	sessions     repository.ChatSessionRepository
	tx           repository.TransactionManager
	ai           adapter.AIServiceAdapter
	registry     *tokenbudget.Registry
	locker       adapter.Locker
	systemPrompt string
	log          *zerolog.Logger
	devMode      bool
}

// NewChatUseCase wires the chat flow. tx and locker may be nil; a nil locker
// serialises StartChat within this process only.
func NewChatUseCase(
	sessions repository.ChatSessionRepository,
	tx repository.TransactionManager,
	ai adapter.AIServiceAdapter,
	registry *tokenbudget.Registry,
	locker adapter.Locker,
	systemPrompt string,
	logger *zerolog.Logger,
	devMode bool,
) *chatUC {
	if locker == nil {
		locker = newLocalLocker()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &chatUC{
		sessions:     sessions,
		tx:           tx,
		ai:           ai,
		registry:     registry,
		locker:       locker,
		systemPrompt: strings.TrimSpace(systemPrompt),
		log:          logger,
		devMode:      devMode,
	}
}

// StartChat returns the user's active session or creates one for modelName.
func (c *chatUC) StartChat(ctx context.Context, userID, modelName string) (*model.ChatSession, error) {
	name, err := c.registry.Resolve(modelName)
	if err != nil {
		return nil, err
	}

	lockKey := "chat:start:" + userID
	token, err := c.locker.TryLock(ctx, lockKey, startChatLockTTL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.locker.Unlock(context.WithoutCancel(ctx), lockKey, token) }()

	// Only one active session per user
	s, err := c.sessions.FindActiveByUser(ctx, nil, userID)
	if err == nil && s != nil {
		return s, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	s = model.NewChatSession(uuid.NewString(), userID, name)
	if err := c.sessions.Save(ctx, nil, s); err != nil {
		return nil, err
	}
	logging.With(logging.WithSessID(ctx, s.ID), c.log).Info().Str("model", name).Msg("chat started")
	return s, nil
}

func (c *chatUC) GetSession(ctx context.Context, userID, sessionID string) (*model.ChatSession, error) {
	s, err := c.sessions.FindByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	// Foreign sessions are reported as missing.
	if s.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

// SendMessage fits the conversation into the model's window, asks the
// provider and stores the user message and the reply in one transaction.
func (c *chatUC) SendMessage(ctx context.Context, userID, sessionID, content string) (*ChatReply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty message", domain.ErrInvalidArgument)
	}
	s, err := c.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != model.ChatSessionActive {
		return nil, domain.ErrChatNotActive
	}
	mgr, err := c.registry.Manager(s.Model)
	if err != nil {
		return nil, err
	}
	log := logging.With(logging.WithSessID(ctx, s.ID), c.log)

	// The user turn is persisted together with the reply so a failed provider
	// call leaves no unanswered message in the history.
	userMsg := s.AddMessage(ulid.Make().String(), model.RoleUser, content, mgr.CountTokens(content))

	convo := c.withSystemPrompt(s.Messages)
	check := mgr.CheckTokenLimits(convo, nil)
	sent := convo
	trimmed := false
	if !check.WithinLimits {
		sent = mgr.TrimMessagesToFit(convo, nil)
		trimmed = true
		truncated := wasTruncated(convo, sent)
		metrics.IncTrim(s.Model, truncated)
		log.Info().
			Int("original", len(convo)).
			Int("kept", len(sent)).
			Bool("truncated", truncated).
			Msg("conversation trimmed to fit context window")
	}

	profile := mgr.Profile()
	start := time.Now()
	reply, usage, err := c.ai.ChatWithUsage(ctx, s.Model, toAdapterMessages(sent), adapter.ChatOptions{
		MaxOutputTokens: profile.MaxOutputTokens,
	})
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		metrics.ObserveChatUsage(c.ai.Provider(), s.Model, 0, 0, 0, 0, latency, false)
		log.Error().Err(err).Str("provider", c.ai.Provider()).Msg("ai chat failed")
		return nil, fmt.Errorf("%w: ai chat: %v", domain.ErrOperationFailed, err)
	}

	// Providers that do not report usage are accounted locally.
	if usage.PromptTokens == 0 {
		usage.PromptTokens = mgr.CountMessageTokens(sent)
	}
	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = mgr.CountTokens(reply)
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	assistant := s.AddMessage(ulid.Make().String(), model.RoleAssistant, reply, usage.CompletionTokens)
	err = c.withTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := c.sessions.SaveMessage(ctx, tx, userMsg); err != nil {
			return fmt.Errorf("user message: %w", err)
		}
		if err := c.sessions.SaveMessage(ctx, tx, assistant); err != nil {
			return err
		}
		return c.sessions.Save(ctx, tx, s)
	})
	if err != nil {
		return nil, fmt.Errorf("save reply: %w", err)
	}

	cost := mgr.CalculateCost(usage.PromptTokens, usage.CompletionTokens)
	metrics.ObserveChatUsage(c.ai.Provider(), s.Model,
		usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens,
		int64(cost*1_000_000), latency, true)

	log.Debug().
		Str("reply", logging.Redact(reply, c.devMode)).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Float64("cost", cost).
		Msg("chat reply stored")

	return &ChatReply{
		Message:      *assistant,
		Usage:        usage,
		TokenCheck:   check,
		SentMessages: len(sent),
		Trimmed:      trimmed,
		Cost:         cost,
	}, nil
}

func (c *chatUC) EndChat(ctx context.Context, userID, sessionID string) error {
	s, err := c.GetSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if s.Status != model.ChatSessionActive {
		return nil
	}
	if err := c.sessions.UpdateStatus(ctx, nil, s.ID, model.ChatSessionFinished); err != nil {
		return err
	}
	logging.With(logging.WithSessID(ctx, s.ID), c.log).Info().Msg("chat finished")
	return nil
}

func (c *chatUC) withSystemPrompt(history []model.ChatMessage) []model.ChatMessage {
	if c.systemPrompt == "" {
		return history
	}
	out := make([]model.ChatMessage, 0, len(history)+1)
	out = append(out, model.ChatMessage{Role: model.RoleSystem, Content: c.systemPrompt})
	return append(out, history...)
}

func (c *chatUC) withTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if c.tx == nil {
		return fn(ctx, repository.NoTX)
	}
	return c.tx.WithTx(ctx, fn)
}

func toAdapterMessages(msgs []model.ChatMessage) []adapter.Message {
	out := make([]adapter.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, adapter.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
