package domain

import (
	"context"
	"time"
)

// SessionStore persists conversations and their message history.
// Conversations are keyed by session key (channel:chatID, or a
// supervisor-assigned task id for subagents).
type SessionStore interface {
	CreateConversation(ctx context.Context, conv Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	AddMessage(ctx context.Context, convID string, msg MessageRecord) error
	GetMessages(ctx context.Context, convID string, limit int) ([]MessageRecord, error)

	Close() error
}

type Conversation struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	ChatID    string    `json:"chat_id"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MessageRecord struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	ToolCalls      string    `json:"tool_calls,omitempty"` // JSON-encoded []ToolCall
	ToolCallID     string    `json:"tool_call_id,omitempty"`
	ToolName       string    `json:"tool_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
