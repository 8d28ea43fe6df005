package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"gigabot/internal/domain"
)

// SessionManager maps session keys to stored conversations and converts
// between provider messages and persisted records.
type SessionManager struct {
	store  domain.SessionStore
	logger *slog.Logger
	mu     sync.Mutex
}

func NewSessionManager(store domain.SessionStore, logger *slog.Logger) *SessionManager {
	return &SessionManager{store: store, logger: logger}
}

// GetOrCreate returns the conversation ID for a session key, creating
// the conversation on first contact. The conversation ID is the session
// key itself.
func (sm *SessionManager) GetOrCreate(ctx context.Context, sessionKey, channel, chatID, model string) (string, error) {
	conv, err := sm.store.GetConversation(ctx, sessionKey)
	if err != nil {
		return "", err
	}
	if conv != nil {
		return conv.ID, nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	conv, err = sm.store.GetConversation(ctx, sessionKey)
	if err != nil {
		return "", err
	}
	if conv != nil {
		return conv.ID, nil
	}

	if err := sm.store.CreateConversation(ctx, domain.Conversation{
		ID:      sessionKey,
		Channel: channel,
		ChatID:  chatID,
		Model:   model,
	}); err != nil {
		return "", err
	}
	sm.logger.Info("created conversation", "session", sessionKey)
	return sessionKey, nil
}

// History loads the last N persisted messages as provider messages,
// dropping any tool result whose pairing assistant entry fell outside
// the window.
func (sm *SessionManager) History(ctx context.Context, convID string, limit int) ([]domain.Message, error) {
	records, err := sm.store.GetMessages(ctx, convID, limit)
	if err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0, len(records))
	pendingCalls := make(map[string]bool)
	for _, r := range records {
		msg := domain.Message{
			Role:       r.Role,
			Content:    r.Content,
			ToolCallID: r.ToolCallID,
			ToolName:   r.ToolName,
		}
		if r.ToolCalls != "" {
			var toolCalls []domain.ToolCall
			if err := json.Unmarshal([]byte(r.ToolCalls), &toolCalls); err == nil {
				msg.ToolCalls = toolCalls
				for _, tc := range toolCalls {
					pendingCalls[tc.ID] = true
				}
			}
		}
		if msg.Role == "tool" && !pendingCalls[msg.ToolCallID] {
			// Orphaned result: its request was trimmed out of the window.
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// SaveMessage persists one transcript entry.
func (sm *SessionManager) SaveMessage(ctx context.Context, convID string, msg domain.Message) error {
	record := domain.MessageRecord{
		ConversationID: convID,
		Role:           msg.Role,
		Content:        msg.Content,
		ToolCallID:     msg.ToolCallID,
		ToolName:       msg.ToolName,
	}
	if len(msg.ToolCalls) > 0 {
		if data, err := json.Marshal(msg.ToolCalls); err == nil {
			record.ToolCalls = string(data)
		}
	}
	return sm.store.AddMessage(ctx, convID, record)
}

// Clear deletes a conversation and its history.
func (sm *SessionManager) Clear(ctx context.Context, sessionKey string) {
	if err := sm.store.DeleteConversation(ctx, sessionKey); err != nil {
		sm.logger.Warn("failed to clear session", "session", sessionKey, "err", err)
		return
	}
	sm.logger.Info("session cleared", "session", sessionKey)
}
