package model

import (
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatSessionStatus string

const (
	ChatSessionActive   ChatSessionStatus = "active"
	ChatSessionFinished ChatSessionStatus = "finished"
)

// ChatMessage represents one message within a conversation.
// ID is opaque; the token budget manager carries it through trimming untouched.
type ChatMessage struct {
	ID        string    `json:"id,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Tokens    int       `json:"tokens,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSession is the aggregate root for a running conversation with a model.
type ChatSession struct {
	ID        string
	UserID    string
	Model     string
	Status    ChatSessionStatus
	Messages  []ChatMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewChatSession(id, userID, model string) *ChatSession {
	now := time.Now()
	return &ChatSession{
		ID:        id,
		UserID:    userID,
		Model:     model,
		Status:    ChatSessionActive,
		Messages:  make([]ChatMessage, 0, 8),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddMessage appends a message and returns a pointer to the stored copy.
func (s *ChatSession) AddMessage(id string, role Role, content string, tokens int) *ChatMessage {
	now := time.Now()
	s.Messages = append(s.Messages, ChatMessage{
		ID:        id,
		SessionID: s.ID,
		Role:      role,
		Content:   content,
		Tokens:    tokens,
		Timestamp: now,
	})
	s.UpdatedAt = now
	return &s.Messages[len(s.Messages)-1]
}
