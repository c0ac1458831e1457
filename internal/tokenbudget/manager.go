// Package tokenbudget counts conversation tokens against a model's context
// window and trims history so that a request fits.
package tokenbudget

import (
	"chat-token-budget/internal/domain/model"
	"chat-token-budget/internal/domain/ports/adapter"
)

const (
	// perMessageOverhead models role markers and separators added to every message.
	perMessageOverhead = 4
	// conversationOverhead models the priming tokens before the first message.
	conversationOverhead = 3
	// truncationMargin is kept free when the newest message has to be cut.
	truncationMargin = 100
	// ellipsis marks a truncated message.
	ellipsis = "..."

	imageTileSize   = 512
	imageBaseTokens = 85
	imageTileTokens = 170
)

// Manager holds one model profile and a token counter. It keeps no mutable
// state and is safe for concurrent use.
type Manager struct {
	profile    model.ModelProfile
	counter    adapter.TokenCounter
	onFallback func(err error)
}

type Option func(*Manager)

// WithFallbackHook is called every time the counter fails and the character
// estimate is used instead.
func WithFallbackHook(fn func(err error)) Option {
	return func(m *Manager) { m.onFallback = fn }
}

// New builds a Manager. A nil counter selects the character estimator.
func New(profile model.ModelProfile, counter adapter.TokenCounter, opts ...Option) *Manager {
	if counter == nil {
		counter = EstimateCounter{}
	}
	m := &Manager{profile: profile, counter: counter}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Profile() model.ModelProfile { return m.profile }

// CountTokens never fails: counter errors fall back to EstimateTokens for this call only.
func (m *Manager) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	n, err := m.counter.Count(text)
	if err != nil {
		if m.onFallback != nil {
			m.onFallback(err)
		}
		return EstimateTokens(text)
	}
	return n
}

func (m *Manager) messageTokens(msg model.ChatMessage) int {
	return m.CountTokens(msg.Content) + m.CountTokens(string(msg.Role)) + perMessageOverhead
}

// CountMessageTokens returns the prompt size of messages including protocol overhead.
func (m *Manager) CountMessageTokens(messages []model.ChatMessage) int {
	total := conversationOverhead
	for _, msg := range messages {
		total += m.messageTokens(msg)
	}
	return total
}

// CountImageTokens applies the 512px tile heuristic. width and height must be positive.
func (m *Manager) CountImageTokens(width, height int) int {
	tiles := ceilDiv(width, imageTileSize) * ceilDiv(height, imageTileSize)
	return imageBaseTokens + tiles*imageTileTokens
}

func (m *Manager) outputBudget(override *int) int {
	if override != nil {
		return *override
	}
	return m.profile.MaxOutputTokens
}

func (m *Manager) maxInputTokens(override *int) int {
	return m.profile.MaxContextTokens - m.outputBudget(override)
}

// CheckTokenLimits reports whether messages plus the output budget fit the
// context window. override replaces the profile's output budget when non-nil.
func (m *Manager) CheckTokenLimits(messages []model.ChatMessage, override *int) model.TokenLimitReport {
	estimatedOutput := m.outputBudget(override)
	maxInput := m.profile.MaxContextTokens - estimatedOutput
	input := m.CountMessageTokens(messages)
	total := input + estimatedOutput

	// Both clauses are kept even though they coincide while maxInput is
	// derived from the context window.
	within := total <= m.profile.MaxContextTokens && input <= maxInput

	return model.TokenLimitReport{
		WithinLimits:          within,
		InputTokens:           input,
		MaxInputTokens:        maxInput,
		EstimatedOutputTokens: estimatedOutput,
		TotalEstimated:        total,
	}
}

// TrimMessagesToFit returns the subsequence of messages that fits the input
// budget. System messages and the newest non-system message are always kept;
// older messages are re-admitted newest first until the first one that does
// not fit. If even the essential set is too large, the newest message is
// truncated. Relative order is never changed.
func (m *Manager) TrimMessagesToFit(messages []model.ChatMessage, override *int) []model.ChatMessage {
	maxInput := m.maxInputTokens(override)

	var systemIdx, convIdx []int
	for i, msg := range messages {
		if msg.Role == model.RoleSystem {
			systemIdx = append(systemIdx, i)
		} else {
			convIdx = append(convIdx, i)
		}
	}
	if len(convIdx) == 0 {
		return messages
	}

	systemTokens := conversationOverhead
	for _, i := range systemIdx {
		systemTokens += m.messageTokens(messages[i])
	}

	lastIdx := convIdx[len(convIdx)-1]
	last := messages[lastIdx]
	essential := systemTokens + m.messageTokens(last)

	if essential > maxInput {
		available := maxInput - systemTokens - truncationMargin
		if available <= 0 {
			// No room at all: send the newest message whole and accept the overflow.
			return pick(messages, map[int]bool{lastIdx: true})
		}
		cut := make([]model.ChatMessage, len(messages))
		copy(cut, messages)
		cut[lastIdx].Content = m.TruncateText(last.Content, available)
		return pick(cut, map[int]bool{lastIdx: true})
	}

	keep := map[int]bool{lastIdx: true}
	total := essential
	for k := len(convIdx) - 2; k >= 0; k-- {
		i := convIdx[k]
		cost := m.messageTokens(messages[i])
		if total+cost > maxInput {
			break
		}
		total += cost
		keep[i] = true
	}
	return pick(messages, keep)
}

// pick returns system messages plus the kept conversation messages in their
// original order.
func pick(messages []model.ChatMessage, keep map[int]bool) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, len(keep))
	for i, msg := range messages {
		if msg.Role == model.RoleSystem || keep[i] {
			out = append(out, msg)
		}
	}
	return out
}

// CalculateCost prices input and output tokens with the profile's per-1000 rates.
func (m *Manager) CalculateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*m.profile.CostPerThousandInput +
		float64(outputTokens)/1000*m.profile.CostPerThousandOutput
}

// GetUsageSummary combines CheckTokenLimits with utilization and cost.
func (m *Manager) GetUsageSummary(messages []model.ChatMessage, override *int) model.UsageSummary {
	report := m.CheckTokenLimits(messages, override)
	return model.UsageSummary{
		TokenLimitReport:      report,
		UtilizationPercentage: float64(report.TotalEstimated) / float64(m.profile.MaxContextTokens) * 100,
		EstimatedCost:         m.CalculateCost(report.InputTokens, report.EstimatedOutputTokens),
	}
}

// EstimateTokens is the character based estimate: one token per four UTF-16
// code units, rounded up. Characters outside the Basic Multilingual Plane
// (most emoji) count as two units.
func EstimateTokens(text string) int {
	return ceilDiv(utf16Len(text), 4)
}

func utf16Len(text string) int {
	n := 0
	for _, r := range text {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// EstimateCounter is a TokenCounter that never fails.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) (int, error) { return EstimateTokens(text), nil }

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
