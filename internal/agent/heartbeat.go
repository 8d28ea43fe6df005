package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gigabot/internal/domain"
)

// heartbeatFile is the checklist the heartbeat reads from the workspace.
const heartbeatFile = "HEARTBEAT.md"

// HeartbeatConfig configures the periodic self-check.
type HeartbeatConfig struct {
	Enabled         bool
	IntervalMinutes int
	Channel         string // conversation the heartbeat runs in
	ChatID          string
	Workspace       string
	Logger          *slog.Logger
}

// Heartbeat periodically feeds the workspace checklist to the agent as
// a synthetic inbound message. The loop answers HEARTBEAT_OK when
// nothing needs doing, which suppresses the reply; anything else is
// delivered to the configured chat like a normal response.
type Heartbeat struct {
	enabled   bool
	interval  time.Duration
	channel   string
	chatID    string
	workspace string
	bus       domain.MessageBus
	logger    *slog.Logger
}

func NewHeartbeat(cfg HeartbeatConfig, bus domain.MessageBus) *Heartbeat {
	interval := time.Duration(cfg.IntervalMinutes) * time.Minute
	if interval < time.Minute {
		interval = 30 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	enabled := cfg.Enabled
	if enabled && (cfg.Channel == "" || cfg.ChatID == "") {
		cfg.Logger.Warn("heartbeat enabled but no target chat configured, disabling")
		enabled = false
	}
	return &Heartbeat{
		enabled:   enabled,
		interval:  interval,
		channel:   cfg.Channel,
		chatID:    cfg.ChatID,
		workspace: cfg.Workspace,
		bus:       bus,
		logger:    cfg.Logger,
	}
}

// Start runs the heartbeat loop. Blocks until ctx is cancelled.
func (h *Heartbeat) Start(ctx context.Context) {
	if !h.enabled {
		return
	}

	h.logger.Info("heartbeat started",
		"interval", h.interval,
		"channel", h.channel,
	)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("heartbeat stopped")
			return
		case <-ticker.C:
			h.beat()
		}
	}
}

func (h *Heartbeat) beat() {
	data, err := os.ReadFile(filepath.Join(h.workspace, heartbeatFile))
	if err != nil {
		h.logger.Debug("no heartbeat checklist, skipping beat", "err", err)
		return
	}
	checklist := string(data)
	if !hasActionableContent(checklist) {
		h.logger.Debug("heartbeat checklist has no actionable content, skipping beat")
		return
	}

	h.bus.PublishInbound(domain.InboundMessage{
		Channel:   h.channel,
		ChatID:    h.chatID,
		SenderID:  "heartbeat",
		Content:   heartbeatPrompt(checklist),
		Timestamp: time.Now(),
	})
	h.logger.Debug("heartbeat published", "channel", h.channel)
}

// hasActionableContent reports whether the checklist holds anything
// beyond blank lines, headings, and HTML comments.
func hasActionableContent(checklist string) bool {
	for _, line := range strings.Split(checklist, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "<!--") {
			continue
		}
		return true
	}
	return false
}

func heartbeatPrompt(checklist string) string {
	return fmt.Sprintf(`This is a scheduled heartbeat check, not a user message. Review the checklist below and act on anything that needs action right now. If nothing needs action, reply with exactly %s and nothing else.

%s`, heartbeatOK, checklist)
}
