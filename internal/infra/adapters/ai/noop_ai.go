package ai

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"chat-token-budget/internal/domain/model"
	"chat-token-budget/internal/domain/ports/adapter"
	"chat-token-budget/internal/tokenbudget"
)

var _ adapter.AIServiceAdapter = (*NoopAIAdapter)(nil)

// NoopAIAdapter implements adapter.AIServiceAdapter for local/dev testing.
// It echoes the last user message instead of calling a provider.
type NoopAIAdapter struct {
	log   *zerolog.Logger
	delay time.Duration
	est   *tokenbudget.Manager
}

// NewNoopAIAdapter constructs the noop adapter.
func NewNoopAIAdapter(logger *zerolog.Logger) *NoopAIAdapter {
	return &NoopAIAdapter{
		log:   logger,
		delay: 100 * time.Millisecond,
		est:   tokenbudget.New(model.ModelProfile{Name: "noop-ai-model"}, nil),
	}
}

func (a *NoopAIAdapter) Provider() string { return "noop" }

func (a *NoopAIAdapter) ListModels(ctx context.Context) ([]string, error) {
	return []string{"noop-ai-model"}, nil
}

func (a *NoopAIAdapter) Chat(ctx context.Context, model string, messages []adapter.Message, opts adapter.ChatOptions) (string, error) {
	reply, _, err := a.ChatWithUsage(ctx, model, messages, opts)
	return reply, err
}

// ChatWithUsage simulates a short delay and reports character-estimated usage.
func (a *NoopAIAdapter) ChatWithUsage(ctx context.Context, modelName string, messages []adapter.Message, opts adapter.ChatOptions) (string, adapter.Usage, error) {
	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return "", adapter.Usage{}, ctx.Err()
	}

	last := ""
	prompt := 0
	for _, m := range messages {
		prompt += a.est.CountTokens(m.Content)
		if m.Role == "user" {
			last = m.Content
		}
	}
	reply := "echo: " + last
	if opts.MaxOutputTokens > 0 {
		reply = a.est.TruncateText(reply, opts.MaxOutputTokens)
	}
	completion := a.est.CountTokens(reply)

	if a.log != nil {
		a.log.Debug().Str("model", modelName).Int("messages", len(messages)).Msg("[noop-ai] chat")
	}
	return reply, adapter.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}, nil
}
