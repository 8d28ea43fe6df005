package domain

import (
	"context"
	"time"
)

// SubagentInfo describes one running background task.
type SubagentInfo struct {
	ID        string
	Label     string
	Task      string
	StartedAt time.Time
}

// SubagentSpawner launches background helper agents. Implemented by the
// supervisor in internal/agent.
type SubagentSpawner interface {
	// Spawn schedules a background task and returns its ID without
	// waiting for it to run. The completion report is delivered to the
	// origin conversation as a synthetic inbound message.
	Spawn(ctx context.Context, task, label, originChannel, originChatID string) string
	Running() []SubagentInfo
	RunningCount() int
}

type originKey struct{}

// Origin identifies the conversation a tool call came from.
type Origin struct {
	Channel string
	ChatID  string
}

// WithOrigin returns a context carrying the calling conversation.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom extracts the calling conversation, if set.
func OriginFrom(ctx context.Context) (Origin, bool) {
	o, ok := ctx.Value(originKey{}).(Origin)
	return o, ok
}
