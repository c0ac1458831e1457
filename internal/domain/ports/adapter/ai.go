package adapter

import "context"

// Message represents a chat message sent to a provider.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ChatOptions carries per-call generation limits.
type ChatOptions struct {
	// MaxOutputTokens caps the completion; 0 leaves the provider default.
	MaxOutputTokens int
}

// Usage for a single chat call.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// AIServiceAdapter is the port for LLM chat.
type AIServiceAdapter interface {
	// Provider is a short label used in logs and metrics.
	Provider() string

	ListModels(ctx context.Context) ([]string, error)

	// Chat returns only the assistant text
	Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error)

	// ChatWithUsage returns assistant text + usage as reported by the provider.
	ChatWithUsage(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, Usage, error)
}
