package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"gigabot/internal/domain"
)

// GigaChat implements domain.Provider against the Sber GigaChat API.
// Tool calling maps onto GigaChat functions: definitions go out as
// `functions`, the model answers with `message.function_call`, and tool
// results go back as role `function` messages with JSON content.
type GigaChat struct {
	apiBase string
	model   string
	tokens  *tokenSource
	client  *http.Client
	logger  *slog.Logger
}

type GigaChatConfig struct {
	Credentials string // base64 client_id:client_secret for Basic auth
	Scope       string
	Model       string
	APIBase     string
	AuthURL     string
	Timeout     time.Duration
	TLS         TLSOptions
	Logger      *slog.Logger
}

func NewGigaChat(cfg GigaChatConfig) (*GigaChat, error) {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://gigachat.devices.sberbank.ru/api/v1"
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	}
	if cfg.Scope == "" {
		cfg.Scope = "GIGACHAT_API_PERS"
	}
	if cfg.Model == "" {
		cfg.Model = "GigaChat"
	}
	client, err := newHTTPClient(cfg.Timeout, cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("gigachat http client: %w", err)
	}
	return &GigaChat{
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		tokens:  newTokenSource(cfg.AuthURL, cfg.Credentials, cfg.Scope, client, cfg.Logger),
		client:  client,
		logger:  cfg.Logger,
	}, nil
}

func (g *GigaChat) Name() string { return "gigachat" }

func (g *GigaChat) Healthy(ctx context.Context) error {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("gigachat auth: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", g.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gigachat not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("gigachat: invalid credentials")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gigachat returned %d", resp.StatusCode)
	}
	return nil
}

// --- wire types ---

type gcRequest struct {
	Model        string       `json:"model"`
	Messages     []gcMessage  `json:"messages"`
	Functions    []gcFunction `json:"functions,omitempty"`
	FunctionCall string       `json:"function_call,omitempty"`
	MaxTokens    int          `json:"max_tokens,omitempty"`
	Temperature  *float64     `json:"temperature,omitempty"`
	Stream       bool         `json:"stream"`
}

type gcMessage struct {
	Role         string          `json:"role"`
	Content      string          `json:"content"`
	FunctionCall *gcFunctionCall `json:"function_call,omitempty"`
}

type gcFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type gcFunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// UnmarshalJSON tolerates the two argument shapes GigaChat emits: a
// JSON object, or a string that itself contains a JSON object.
func (fc *gcFunctionCall) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fc.Name = raw.Name
	fc.Arguments = decodeArguments(raw.Arguments)
	return nil
}

func decodeArguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if err := json.Unmarshal([]byte(s), &obj); err == nil && obj != nil {
			return obj
		}
	}
	return map[string]any{}
}

type gcResponse struct {
	Choices []gcChoice `json:"choices"`
	Usage   gcUsage    `json:"usage"`
}

type gcChoice struct {
	Message      gcMessage `json:"message"`
	FinishReason string    `json:"finish_reason"`
}

type gcUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (g *GigaChat) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}

	body := gcRequest{
		Model:    model,
		Messages: toGigaChatMessages(req.Messages),
		Stream:   false,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}
	if len(req.Tools) > 0 {
		for _, t := range req.Tools {
			body.Functions = append(body.Functions, gcFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		body.FunctionCall = "auto"
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := doWithRetry(ctx, g.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", g.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+token)
		return httpReq, nil
	}, g.logger)
	if err != nil {
		return nil, fmt.Errorf("gigachat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		g.tokens.Invalidate()
		return nil, fmt.Errorf("gigachat: token rejected")
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gigachat %d: %s", resp.StatusCode, string(respBody))
	}

	var gcResp gcResponse
	if err := json.NewDecoder(resp.Body).Decode(&gcResp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	if len(gcResp.Choices) == 0 {
		return &domain.ChatResponse{Content: "", FinishReason: "stop"}, nil
	}

	choice := gcResp.Choices[0]
	out := &domain.ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: domain.Usage{
			PromptTokens:     gcResp.Usage.PromptTokens,
			CompletionTokens: gcResp.Usage.CompletionTokens,
			TotalTokens:      gcResp.Usage.TotalTokens,
		},
	}

	// GigaChat has no tool-call ids; generate one per call so the
	// transcript can pair calls with results.
	if fc := choice.Message.FunctionCall; fc != nil {
		args := fc.Arguments
		if args == nil {
			args = make(map[string]any)
		}
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:        uuid.NewString()[:8],
			Name:      fc.Name,
			Arguments: args,
		})
	}

	return out, nil
}

// toGigaChatMessages maps the transcript onto GigaChat roles. Assistant
// tool calls serialize as function_call; tool results go out as role
// `function`, with the content wrapped into a JSON object when it is
// not already valid JSON — the API requires it.
func toGigaChatMessages(messages []domain.Message) []gcMessage {
	msgs := make([]gcMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "tool", "function":
			msgs = append(msgs, gcMessage{Role: "function", Content: ensureJSON(m.Content)})
		case "assistant":
			gm := gcMessage{Role: "assistant", Content: m.Content}
			if len(m.ToolCalls) > 0 {
				tc := m.ToolCalls[0]
				args := tc.Arguments
				if args == nil {
					args = make(map[string]any)
				}
				gm.FunctionCall = &gcFunctionCall{Name: tc.Name, Arguments: args}
			}
			msgs = append(msgs, gm)
		default:
			msgs = append(msgs, gcMessage{Role: m.Role, Content: m.Content})
		}
	}
	return msgs
}

func ensureJSON(content string) string {
	if json.Valid([]byte(content)) {
		return content
	}
	wrapped, err := json.Marshal(map[string]string{"result": content})
	if err != nil {
		return `{"result":""}`
	}
	return string(wrapped)
}

var _ domain.Provider = (*GigaChat)(nil)
