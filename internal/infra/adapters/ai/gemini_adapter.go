package ai

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"chat-token-budget/internal/domain"
	"chat-token-budget/internal/domain/ports/adapter"
)

var _ adapter.AIServiceAdapter = (*GeminiAdapter)(nil)

type GeminiAdapter struct {
	client       *genai.Client
	defaultModel string
}

// NewGeminiAdapter creates a Gemini adapter using the official SDK.
// Requests for non-gemini model names are served by defaultModel.
func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, defaultModel string) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{client: c, defaultModel: defaultModel}, nil
}

func (g *GeminiAdapter) Provider() string { return "gemini" }

func (g *GeminiAdapter) ListModels(ctx context.Context) ([]string, error) {
	var out []string
	for m, err := range g.client.Models.All(ctx) {
		if err != nil {
			return nil, err
		}
		if m.Name != "" {
			out = append(out, m.Name)
		}
	}
	if len(out) == 0 && g.defaultModel != "" {
		out = []string{g.defaultModel}
	}
	return out, nil
}

func (g *GeminiAdapter) Chat(ctx context.Context, model string, messages []adapter.Message, opts adapter.ChatOptions) (string, error) {
	reply, _, err := g.ChatWithUsage(ctx, model, messages, opts)
	return reply, err
}

func (g *GeminiAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message, opts adapter.ChatOptions) (string, adapter.Usage, error) {
	system, rest := splitSystem(messages)
	if len(rest) == 0 {
		return "", adapter.Usage{}, errors.New("gemini: no messages")
	}
	last := rest[len(rest)-1]
	if strings.ToLower(last.Role) != "user" {
		return "", adapter.Usage{}, errors.New("gemini: last message must be from user")
	}

	cfg := &genai.GenerateContentConfig{}
	if opts.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxOutputTokens)
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	chat, err := g.client.Chats.Create(ctx, g.resolveModel(model), cfg, toGenAIHistory(rest[:len(rest)-1]))
	if err != nil {
		return "", adapter.Usage{}, err
	}
	resp, err := chat.SendMessage(ctx, genai.Part{Text: last.Content})
	if err != nil {
		return "", adapter.Usage{}, err
	}

	u := adapter.Usage{}
	if resp != nil && resp.UsageMetadata != nil {
		u.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		u.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		u.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	text := ""
	if resp != nil {
		text = resp.Text()
	}
	if text == "" {
		return "", u, domain.ErrEmptyReply
	}
	return text, u, nil
}

func (g *GeminiAdapter) resolveModel(model string) string {
	if strings.HasPrefix(strings.ToLower(model), "gemini") {
		return model
	}
	return g.defaultModel
}

// splitSystem joins system messages into one instruction; Gemini has no
// system role in history.
func splitSystem(msgs []adapter.Message) (string, []adapter.Message) {
	var sys []string
	rest := make([]adapter.Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.ToLower(m.Role) == "system" {
			sys = append(sys, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(sys, "\n\n"), rest
}

func toGenAIHistory(msgs []adapter.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		if strings.ToLower(m.Role) == "assistant" {
			role = genai.RoleModel
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return out
}

func modelOrDefault(model, def string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return def
}
