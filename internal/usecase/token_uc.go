package usecase

import (
	"context"
	"fmt"

	"chat-token-budget/internal/domain"
	"chat-token-budget/internal/domain/model"
	"chat-token-budget/internal/infra/metrics"
	"chat-token-budget/internal/tokenbudget"
)

// Compile-time check
var _ TokenUseCase = (*tokenUC)(nil)

// TokenAnalysis is the result of a token accounting request.
type TokenAnalysis struct {
	Model        string
	TokenCheck   model.TokenLimitReport
	UsageSummary model.UsageSummary
	// TrimmedMessages is nil when the conversation already fits.
	TrimmedMessages []model.ChatMessage
	OriginalCount   int
	TrimmedCount    int
}

type TokenUseCase interface {
	Analyze(ctx context.Context, modelName string, messages []model.ChatMessage, maxOutputOverride *int) (*TokenAnalysis, error)
	Models(ctx context.Context) []model.ModelProfile
}

type tokenUC struct {
	registry *tokenbudget.Registry
}

func NewTokenUseCase(registry *tokenbudget.Registry) *tokenUC {
	return &tokenUC{registry: registry}
}

// Analyze checks the conversation against the model's window and trims it
// when it does not fit. Unknown models yield domain.ErrUnknownModel.
func (t *tokenUC) Analyze(ctx context.Context, modelName string, messages []model.ChatMessage, maxOutputOverride *int) (*TokenAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxOutputOverride != nil && *maxOutputOverride < 0 {
		return nil, fmt.Errorf("%w: maxOutputTokens must not be negative", domain.ErrInvalidArgument)
	}
	name, err := t.registry.Resolve(modelName)
	if err != nil {
		return nil, err
	}
	mgr, err := t.registry.Manager(name)
	if err != nil {
		return nil, err
	}

	check := mgr.CheckTokenLimits(messages, maxOutputOverride)
	summary := mgr.GetUsageSummary(messages, maxOutputOverride)
	out := &TokenAnalysis{
		Model:         name,
		TokenCheck:    check,
		UsageSummary:  summary,
		OriginalCount: len(messages),
		TrimmedCount:  len(messages),
	}
	metrics.ObserveTokenCheck(name, check.WithinLimits, check.InputTokens, summary.UtilizationPercentage)

	if !check.WithinLimits {
		trimmed := mgr.TrimMessagesToFit(messages, maxOutputOverride)
		out.TrimmedMessages = trimmed
		out.TrimmedCount = len(trimmed)
		metrics.IncTrim(name, wasTruncated(messages, trimmed))
	}
	return out, nil
}

func (t *tokenUC) Models(ctx context.Context) []model.ModelProfile {
	return t.registry.Profiles()
}

// wasTruncated reports whether the newest non-system message was cut.
func wasTruncated(original, trimmed []model.ChatMessage) bool {
	a, okA := lastConversation(original)
	b, okB := lastConversation(trimmed)
	return okA && okB && a.Content != b.Content
}

func lastConversation(msgs []model.ChatMessage) (model.ChatMessage, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != model.RoleSystem {
			return msgs[i], true
		}
	}
	return model.ChatMessage{}, false
}
