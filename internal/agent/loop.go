package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gigabot/internal/domain"
	"gigabot/internal/metrics"
	"gigabot/internal/persona"
	"gigabot/internal/tool"
)

const (
	defaultMaxRounds     = 20
	defaultHistoryLimit  = 40
	defaultMaxTokens     = 4096
	defaultTemperature   = 0.7
	defaultConcurrency   = 3
	defaultRateBurst     = 5
	defaultRatePerMinute = 30.0

	// heartbeatOK is the token the model answers with when a heartbeat
	// poll needs no user-visible action.
	heartbeatOK = "HEARTBEAT_OK"

	exhaustedReply = "I couldn't complete this task within the allowed number of steps."
)

// Loop is the core agent engine: consume message → call model → execute
// tools → publish reply. Messages from different sessions run
// concurrently; messages within one session run in arrival order.
type Loop struct {
	provider     domain.Provider
	sessions     *SessionManager
	prompt       *PromptBuilder
	tools        *tool.Registry
	personas     *persona.Library
	supervisor   domain.SubagentSpawner
	bus          domain.MessageBus
	logger       *slog.Logger
	maxRounds    int
	historyLimit int
	concurrency  int
	maxTokens    int
	temperature  float64
	rateLimiter  *RateLimiter

	mu            sync.Mutex // guards activePersona
	activePersona persona.Persona

	sessionLocks sync.Map // session key → *sync.Mutex
}

// LoopConfig holds all dependencies and tuning parameters for the agent loop.
type LoopConfig struct {
	Provider     domain.Provider
	Sessions     *SessionManager
	Prompt       *PromptBuilder
	Tools        *tool.Registry
	Personas     *persona.Library
	Supervisor   domain.SubagentSpawner // optional
	Bus          domain.MessageBus
	Logger       *slog.Logger
	MaxRounds    int
	HistoryLimit int
	Concurrency  int // max parallel sessions (default 3)
	MaxTokens    int
	Temperature  float64
	RateLimiter  *RateLimiter // optional; shared with the supervisor
}

// NewLoop creates a new agent loop with the given configuration.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Personas == nil {
		cfg.Personas = persona.NewLibrary("", cfg.Logger)
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = NewRateLimiter(defaultRateBurst, defaultRatePerMinute)
	}
	active, ok := cfg.Personas.Get("assistant")
	if !ok {
		active = persona.Default()
	}
	return &Loop{
		provider:      cfg.Provider,
		sessions:      cfg.Sessions,
		prompt:        cfg.Prompt,
		tools:         cfg.Tools,
		personas:      cfg.Personas,
		supervisor:    cfg.Supervisor,
		bus:           cfg.Bus,
		logger:        cfg.Logger,
		maxRounds:     cfg.MaxRounds,
		historyLimit:  cfg.HistoryLimit,
		concurrency:   cfg.Concurrency,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		rateLimiter:   cfg.RateLimiter,
		activePersona: active,
	}
}

// ActivePersona returns the persona currently applied to new messages.
func (l *Loop) ActivePersona() persona.Persona {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activePersona
}

func (l *Loop) SetActivePersona(p persona.Persona) {
	l.mu.Lock()
	l.activePersona = p
	l.mu.Unlock()
	l.logger.Info("persona switched", "name", p.Name)
}

// Run consumes inbound messages until ctx is cancelled, processing them
// with bounded concurrency.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("agent loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	for {
		msg, err := l.bus.ConsumeInbound(ctx)
		if err != nil {
			l.logger.Info("agent loop stopping")
			return
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			l.logger.Info("agent loop stopping")
			return
		}
		go func(m domain.InboundMessage) {
			defer func() { <-sem }()
			l.processMessage(ctx, m)
		}(msg)
	}
}

// ProcessDirect runs one message through the loop synchronously,
// bypassing the bus, and returns the reply text.
func (l *Loop) ProcessDirect(ctx context.Context, content, channel, chatID string) (string, error) {
	reply, _, err := l.handleMessage(ctx, domain.InboundMessage{
		Channel:   channel,
		ChatID:    chatID,
		SenderID:  "user",
		Content:   content,
		Timestamp: time.Now(),
	})
	return reply, err
}

// processMessage handles a single inbound message and publishes the
// reply on the outbound queue. Failures never propagate: a model error
// becomes an error reply, an empty reply is dropped.
func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	metrics.MessagesIn.Inc()
	l.logger.Info("processing message",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"content_len", len(msg.Content),
	)

	if cmd := ParseCommand(msg.Content); cmd != nil {
		if res := l.HandleCommand(ctx, cmd, msg); res.Handled {
			l.publish(msg, res.Response, nil)
			return
		}
	}

	reply, media, err := l.handleMessage(ctx, msg)
	if err != nil {
		l.logger.Error("message processing failed", "err", err, "channel", msg.Channel, "chat_id", msg.ChatID)
		l.publish(msg, fmt.Sprintf("Sorry, I ran into an error: %v", err), nil)
		return
	}

	// Heartbeat polls that need no action answer with a token instead
	// of text; strip it and stay silent when nothing remains.
	if msg.SenderID == "heartbeat" {
		reply = strings.TrimSpace(strings.ReplaceAll(reply, heartbeatOK, ""))
	}
	if reply == "" && len(media) == 0 {
		l.logger.Debug("empty reply suppressed", "channel", msg.Channel, "chat_id", msg.ChatID)
		return
	}
	l.publish(msg, reply, media)
}

func (l *Loop) publish(msg domain.InboundMessage, content string, media []string) {
	metrics.MessagesOut.Inc()
	l.bus.PublishOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
		Media:   media,
	})
}

// lockSession serializes processing per session key so a slow tool run
// cannot interleave with the next message from the same chat.
func (l *Loop) lockSession(key string) func() {
	v, _ := l.sessionLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// handleMessage is the main agent logic: build prompt → call model →
// execute tool calls in order → repeat until a plain reply or the round
// limit. It returns the reply text plus any media the tools produced.
func (l *Loop) handleMessage(ctx context.Context, msg domain.InboundMessage) (string, []string, error) {
	sessionKey := msg.SessionKey()
	unlock := l.lockSession(sessionKey)
	defer unlock()

	pers := l.ActivePersona()

	convID, err := l.sessions.GetOrCreate(ctx, sessionKey, msg.Channel, msg.ChatID, l.provider.Name())
	if err != nil {
		return "", nil, fmt.Errorf("session: %w", err)
	}

	history, err := l.sessions.History(ctx, convID, l.historyLimit)
	if err != nil {
		l.logger.Warn("failed to load history, continuing without it", "err", err)
		history = nil
	}

	systemPrompt := l.prompt.SystemPrompt(pers, msg.Channel, msg.ChatID)
	messages := l.prompt.BuildMessages(systemPrompt, history, msg.Content)

	filter := NewToolFilter(pers.AllowedTools)
	toolDefs := filter.FilterDefinitions(l.tools.Definitions())

	l.saveMessage(ctx, convID, domain.Message{Role: "user", Content: msg.Content})

	// Tools that need to know which conversation invoked them read the
	// origin from the context.
	execCtx := domain.WithOrigin(ctx, domain.Origin{Channel: msg.Channel, ChatID: msg.ChatID})

	var media []string
	for round := 0; round < l.maxRounds; round++ {
		if err := l.rateLimiter.Wait(ctx); err != nil {
			return "", nil, fmt.Errorf("rate limit: %w", err)
		}

		metrics.ProviderRequests.Inc()
		start := time.Now()
		resp, err := l.provider.Chat(ctx, domain.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			MaxTokens:   l.maxTokens,
			Temperature: l.temperature,
		})
		if err != nil {
			// Provider errors are terminal for this message: no retry.
			return "", nil, fmt.Errorf("model request: %w", err)
		}
		l.logger.Debug("model responded",
			"round", round+1,
			"latency_ms", time.Since(start).Milliseconds(),
			"tool_calls", len(resp.ToolCalls),
		)

		// No tool calls — we have our final answer.
		if !resp.HasToolCalls() {
			if resp.Content != "" {
				l.saveMessage(ctx, convID, domain.Message{Role: "assistant", Content: resp.Content})
			}
			return resp.Content, media, nil
		}

		assistant := domain.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistant)
		l.saveMessage(ctx, convID, assistant)

		// Execute in request order; every result goes back to the model.
		for _, tc := range resp.ToolCalls {
			result := l.executeCall(execCtx, filter, tc)
			if tc.Name == "voice_note" {
				if path, ok := strings.CutPrefix(result, "Voice note saved: "); ok {
					media = append(media, strings.TrimSpace(path))
				}
			}
			toolMsg := domain.Message{Role: "tool", Content: result, ToolCallID: tc.ID, ToolName: tc.Name}
			messages = append(messages, toolMsg)
			l.saveMessage(ctx, convID, toolMsg)
		}
	}

	l.logger.Warn("round limit reached", "session", sessionKey, "rounds", l.maxRounds)
	l.saveMessage(ctx, convID, domain.Message{Role: "assistant", Content: exhaustedReply})
	return exhaustedReply, media, nil
}

// executeCall runs one tool call. Personas restrict by pretending the
// tool does not exist; all other failures are handled by the registry.
func (l *Loop) executeCall(ctx context.Context, filter *ToolFilter, tc domain.ToolCall) string {
	if !filter.IsAllowed(tc.Name) {
		return fmt.Sprintf("Error: Tool '%s' not found", tc.Name)
	}

	l.logger.Info("executing tool", "tool", tc.Name)
	metrics.ToolExecutions.Inc()

	result := l.tools.Execute(ctx, tc.Name, tc.Arguments)
	l.logger.Debug("tool completed", "tool", tc.Name, "result_len", len(result))
	return result
}

func (l *Loop) saveMessage(ctx context.Context, convID string, msg domain.Message) {
	if err := l.sessions.SaveMessage(ctx, convID, msg); err != nil {
		l.logger.Warn("failed to save message", "err", err, "conv_id", convID, "role", msg.Role)
	}
}
