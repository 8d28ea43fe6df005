package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gigabot/internal/domain"
	"gigabot/internal/metrics"
	"gigabot/internal/tool"
)

const (
	defaultSubagentRounds = 15
	maxSubagentResult     = 4000 // runes kept of a subagent result in its report
	labelRunes            = 30
)

// Supervisor runs background tasks in their own bounded reasoning
// loops. Each subagent gets a fresh registry with a reduced tool set:
// it cannot message users and cannot spawn further subagents. When a
// subagent finishes, the supervisor publishes one synthetic inbound
// message to the conversation that spawned it, so the main loop can
// report the outcome.
type Supervisor struct {
	provider        domain.Provider
	bus             domain.MessageBus
	prompt          *PromptBuilder
	registryFactory func() *tool.Registry
	rateLimiter     *RateLimiter
	logger          *slog.Logger
	maxRounds       int
	maxTokens       int
	temperature     float64

	mu    sync.Mutex
	tasks map[string]*subagentTask
}

type subagentTask struct {
	info   domain.SubagentInfo
	cancel context.CancelFunc
}

type SupervisorConfig struct {
	Provider        domain.Provider
	Bus             domain.MessageBus
	Prompt          *PromptBuilder
	RegistryFactory func() *tool.Registry
	RateLimiter     *RateLimiter // optional; shared with the main loop
	Logger          *slog.Logger
	MaxRounds       int
	MaxTokens       int
	Temperature     float64
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultSubagentRounds
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = NewRateLimiter(defaultRateBurst, defaultRatePerMinute)
	}
	return &Supervisor{
		provider:        cfg.Provider,
		bus:             cfg.Bus,
		prompt:          cfg.Prompt,
		registryFactory: cfg.RegistryFactory,
		rateLimiter:     cfg.RateLimiter,
		logger:          cfg.Logger,
		maxRounds:       cfg.MaxRounds,
		maxTokens:       cfg.MaxTokens,
		temperature:     cfg.Temperature,
		tasks:           make(map[string]*subagentTask),
	}
}

var _ domain.SubagentSpawner = (*Supervisor)(nil)

// Spawn starts a background task and returns its ID immediately. The
// task runs until it completes, hits its round limit, or the context
// is cancelled; a cancelled task is reaped without a report.
func (s *Supervisor) Spawn(ctx context.Context, task, label, originChannel, originChatID string) string {
	id := uuid.NewString()[:8]
	if label == "" {
		label = truncateRunes(task, labelRunes)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.tasks[id] = &subagentTask{
		info: domain.SubagentInfo{
			ID:        id,
			Label:     label,
			Task:      task,
			StartedAt: time.Now(),
		},
		cancel: cancel,
	}
	s.mu.Unlock()

	metrics.SubagentsSpawned.Inc()
	metrics.ActiveSubagents.Inc()
	s.logger.Info("subagent spawned", "id", id, "label", label, "origin", originChannel+":"+originChatID)

	go s.run(runCtx, id, task, label, originChannel, originChatID)
	return id
}

// Running returns a snapshot of the active subagents, oldest first.
func (s *Supervisor) Running() []domain.SubagentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]domain.SubagentInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		infos = append(infos, t.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.Before(infos[j].StartedAt) })
	return infos
}

func (s *Supervisor) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every running subagent. Cancelled subagents publish no
// report.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.tasks))
	for _, t := range s.tasks {
		cancels = append(cancels, t.cancel)
	}
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (s *Supervisor) run(ctx context.Context, id, task, label, originChannel, originChatID string) {
	defer func() {
		s.mu.Lock()
		if t, ok := s.tasks[id]; ok {
			t.cancel()
			delete(s.tasks, id)
		}
		s.mu.Unlock()
		metrics.ActiveSubagents.Dec()
	}()

	result, status := s.execute(ctx, id, task)

	if ctx.Err() != nil {
		s.logger.Info("subagent cancelled, discarding result", "id", id)
		return
	}

	s.bus.PublishInbound(domain.InboundMessage{
		Channel:   originChannel,
		ChatID:    originChatID,
		SenderID:  "subagent",
		Content:   subagentReport(label, task, status, result),
		Metadata:  map[string]string{"subagent": id, "subagent_status": status},
		Timestamp: time.Now(),
	})
	s.logger.Info("subagent finished", "id", id, "status", status)
}

// execute runs the subagent's own reasoning loop against a fresh
// reduced registry. It returns the result text and "ok" or "error".
func (s *Supervisor) execute(ctx context.Context, id, task string) (result, status string) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("subagent panicked", "id", id, "panic", rec)
			result = fmt.Sprintf("panic: %v", rec)
			status = "error"
		}
	}()

	registry := s.registryFactory()
	toolDefs := registry.Definitions()
	messages := []domain.Message{
		{Role: "system", Content: s.prompt.SubagentPrompt()},
		{Role: "user", Content: task},
	}

	for round := 0; round < s.maxRounds; round++ {
		if err := s.rateLimiter.Wait(ctx); err != nil {
			return fmt.Sprintf("interrupted: %v", err), "error"
		}

		metrics.ProviderRequests.Inc()
		resp, err := s.provider.Chat(ctx, domain.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			MaxTokens:   s.maxTokens,
			Temperature: s.temperature,
		})
		if err != nil {
			return fmt.Sprintf("model request failed: %v", err), "error"
		}

		if !resp.HasToolCalls() {
			if resp.Content == "" {
				return "(no output)", "ok"
			}
			return resp.Content, "ok"
		}

		messages = append(messages, domain.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			s.logger.Debug("subagent executing tool", "id", id, "tool", tc.Name)
			metrics.ToolExecutions.Inc()
			out := registry.Execute(ctx, tc.Name, tc.Arguments)
			messages = append(messages, domain.Message{
				Role:       "tool",
				Content:    out,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
	}

	return "round limit reached before the task completed", "error"
}

// subagentReport packages a finished task as a message the main loop
// can relay to the user.
func subagentReport(label, task, status, result string) string {
	outcome := "completed"
	if status != "ok" {
		outcome = "failed"
	}
	return fmt.Sprintf(`Background task %q %s.

Task: %s
Result:
%s

Relay this outcome to the user in a natural way. If the task failed, say what went wrong.`,
		label, outcome, task, truncateRunes(result, maxSubagentResult))
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
