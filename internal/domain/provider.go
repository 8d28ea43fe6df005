package domain

import "context"

// Provider is the language-model client consumed by the reasoning
// loop. It is a stateless request/response client per call and safe
// for concurrent use.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Healthy(ctx context.Context) error
}

type ChatRequest struct {
	Messages    []Message
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string // stop | function_call | length | error
	Usage        Usage
}

func (r *ChatResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Message is one role-tagged conversation entry. A "tool" entry always
// pairs with a previously appended assistant entry whose ToolCalls
// contain the originating request; ToolCallID carries the correlation.
type Message struct {
	Role       string     `json:"role"` // system | user | assistant | tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// ToolCall is a capability-call request parsed from a provider
// response. ID correlates the eventual tool result back to the
// request within one reasoning round.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
