package tokenizer

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"chat-token-budget/internal/domain/model"
	"chat-token-budget/internal/domain/ports/adapter"
	"chat-token-budget/internal/infra/metrics"
	"chat-token-budget/internal/tokenbudget"
)

const (
	ModeTiktoken = "tiktoken"
	ModeEstimate = "estimate"
)

// ValidateMode rejects unknown tokenizer modes.
func ValidateMode(mode string) error {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeTiktoken, ModeEstimate:
		return nil
	}
	return fmt.Errorf("tokenizer mode %q: want %s or %s", mode, ModeTiktoken, ModeEstimate)
}

// NewCounterFactory picks the token counter strategy once, at startup.
// In tiktoken mode a model whose encoding cannot be loaded gets the character
// estimator instead; the failure is logged and never surfaced to callers.
func NewCounterFactory(mode string, cache *Cache, logger *zerolog.Logger) tokenbudget.CounterFactory {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeTiktoken
	}
	return func(modelName string) adapter.TokenCounter {
		if mode == ModeEstimate || cache == nil {
			return tokenbudget.EstimateCounter{}
		}
		c, err := cache.CounterForModel(modelName)
		if err != nil {
			if logger != nil {
				logger.Warn().Err(err).Str("model", modelName).Msg("tokenizer unavailable, using character estimate")
			}
			return tokenbudget.EstimateCounter{}
		}
		if logger != nil {
			logger.Debug().Str("model", modelName).Str("encoding", c.Encoding()).Msg("tokenizer loaded")
		}
		return c
	}
}

// NewRegistry builds the model registry for the default profile table with
// the selected counter strategy. Per-call tokenizer failures are counted in
// metrics.
func NewRegistry(mode, cacheDir, defaultModel string, logger *zerolog.Logger) (*tokenbudget.Registry, error) {
	if err := ValidateMode(mode); err != nil {
		return nil, err
	}
	factory := NewCounterFactory(mode, NewCache(cacheDir), logger)
	hook := func(modelName string) []tokenbudget.Option {
		return []tokenbudget.Option{tokenbudget.WithFallbackHook(func(error) {
			metrics.IncTokenizerFallback(modelName)
		})}
	}
	return tokenbudget.NewRegistry(model.DefaultProfiles(), defaultModel, factory, hook)
}
