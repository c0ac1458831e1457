package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"chat-token-budget/internal/domain"
	"chat-token-budget/internal/domain/model"
	"chat-token-budget/internal/infra/logging"
	"chat-token-budget/internal/usecase"
)

const (
	maxBodyBytes       = 4 << 20
	tokenAccountingErr = "failed to process token accounting"
)

type messageIn struct {
	ID      string          `json:"id,omitempty"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type messageOut struct {
	ID      string `json:"id,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tokenCheckRequest struct {
	Messages        []messageIn `json:"messages"`
	Model           string      `json:"model,omitempty"`
	MaxOutputTokens *int        `json:"maxOutputTokens,omitempty"`
}

type tokenCheckResponse struct {
	Model           string                 `json:"model"`
	TokenCheck      model.TokenLimitReport `json:"tokenCheck"`
	UsageSummary    model.UsageSummary     `json:"usageSummary"`
	TrimmedMessages []messageOut           `json:"trimmedMessages"`
	OriginalCount   int                    `json:"originalCount"`
	TrimmedCount    int                    `json:"trimmedCount"`
}

// tokenCheckHandler accounts a conversation against a model's window.
func tokenCheckHandler(tokens usecase.TokenUseCase, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tokenCheckRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Messages == nil {
			writeError(w, http.StatusBadRequest, "messages must be an array")
			return
		}
		msgs, err := toDomainMessages(req.Messages)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		out, err := tokens.Analyze(r.Context(), req.Model, msgs, req.MaxOutputTokens)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrUnknownModel), errors.Is(err, domain.ErrInvalidArgument):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				logging.With(r.Context(), logger).Error().Err(err).Msg("token accounting failed")
				writeError(w, http.StatusInternalServerError, tokenAccountingErr)
			}
			return
		}

		resp := tokenCheckResponse{
			Model:         out.Model,
			TokenCheck:    out.TokenCheck,
			UsageSummary:  out.UsageSummary,
			OriginalCount: out.OriginalCount,
			TrimmedCount:  out.TrimmedCount,
		}
		if out.TrimmedMessages != nil {
			resp.TrimmedMessages = toMessagesOut(out.TrimmedMessages)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func modelsHandler(tokens usecase.TokenUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Items []model.ModelProfile `json:"items"`
		}{Items: tokens.Models(r.Context())})
	}
}

type startChatRequest struct {
	Model string `json:"model"`
}

type sendMessageRequest struct {
	Content json.RawMessage `json:"content"`
}

type sessionResponse struct {
	ID        string              `json:"id"`
	Model     string              `json:"model"`
	Status    string              `json:"status"`
	Messages  []model.ChatMessage `json:"messages"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

func toSessionResponse(s *model.ChatSession) sessionResponse {
	msgs := s.Messages
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	return sessionResponse{
		ID:        s.ID,
		Model:     s.Model,
		Status:    string(s.Status),
		Messages:  msgs,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func startChatHandler(chats usecase.ChatUseCase, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := logging.UserID(r.Context())
		var req startChatRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}
		s, err := chats.StartChat(r.Context(), userID, req.Model)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, toSessionResponse(s))
	}
}

func getChatHandler(chats usecase.ChatUseCase, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := logging.UserID(r.Context())
		s, err := chats.GetSession(r.Context(), userID, chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toSessionResponse(s))
	}
}

func sendMessageHandler(chats usecase.ChatUseCase, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := logging.UserID(r.Context())
		var req sendMessageRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		content, err := normalizeContent(req.Content)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid content")
			return
		}
		reply, err := chats.SendMessage(r.Context(), userID, chi.URLParam(r, "id"), content)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	}
}

func endChatHandler(chats usecase.ChatUseCase, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := logging.UserID(r.Context())
		if err := chats.EndChat(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ===== helpers =====

func toDomainMessages(in []messageIn) ([]model.ChatMessage, error) {
	out := make([]model.ChatMessage, 0, len(in))
	for i, m := range in {
		role := model.Role(strings.ToLower(strings.TrimSpace(m.Role)))
		switch role {
		case model.RoleSystem, model.RoleUser, model.RoleAssistant:
		default:
			return nil, fmt.Errorf("messages[%d]: unsupported role %q", i, m.Role)
		}
		content, err := normalizeContent(m.Content)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: invalid content", i)
		}
		out = append(out, model.ChatMessage{ID: m.ID, Role: role, Content: content})
	}
	return out, nil
}

func toMessagesOut(msgs []model.ChatMessage) []messageOut {
	out := make([]messageOut, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageOut{ID: m.ID, Role: string(m.Role), Content: m.Content})
	}
	return out
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("missing body")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps sentinel errors to status codes. 5xx bodies never
// carry the underlying message.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *zerolog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrUnknownModel):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrChatNotActive), errors.Is(err, domain.ErrChatBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrOperationFailed):
		logging.With(r.Context(), logger).Error().Err(err).Msg("upstream failure")
		writeError(w, http.StatusBadGateway, "upstream model failed")
	default:
		logging.With(r.Context(), logger).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
