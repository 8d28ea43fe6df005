package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gigabot/internal/domain"
)

// SubagentTool hands work to background agents so the conversation
// stays responsive. Results come back later as a system message to the
// chat that spawned the task.
type SubagentTool struct {
	spawner domain.SubagentSpawner
}

func NewSubagentTool(spawner domain.SubagentSpawner) *SubagentTool {
	return &SubagentTool{spawner: spawner}
}

func (t *SubagentTool) Name() string { return "subagent" }

func (t *SubagentTool) Description() string {
	return "Delegate a task to a background agent. Actions: 'spawn' (start a task, returns immediately), 'status' (list running tasks). Use spawn for long research or multi-step work so you can keep chatting."
}

func (t *SubagentTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"action": {Type: "string", Description: "Action to perform", Enum: []string{"spawn", "status"}},
			"task":   {Type: "string", Description: "Complete task description for the background agent (for spawn)"},
			"label":  {Type: "string", Description: "Optional short label shown in status output (for spawn)"},
		},
		[]string{"action"},
	)
}

func (t *SubagentTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	switch ArgsString(args, "action") {
	case "spawn":
		task := ArgsString(args, "task")
		if task == "" {
			return "Error: task is required for spawn.", nil
		}
		origin, ok := domain.OriginFrom(ctx)
		if !ok {
			return "Error: spawn is only available from a conversation.", nil
		}
		id := t.spawner.Spawn(ctx, task, ArgsString(args, "label"), origin.Channel, origin.ChatID)
		return fmt.Sprintf("Subagent %s started. You will get a system message with the result when it finishes; tell the user the task is running in the background.", id), nil

	case "status":
		running := t.spawner.Running()
		if len(running) == 0 {
			return "No subagents running.", nil
		}
		var lines []string
		for _, info := range running {
			lines = append(lines, fmt.Sprintf("- [%s] %s (running %s)",
				info.ID, info.Label, time.Since(info.StartedAt).Round(time.Second)))
		}
		return strings.Join(lines, "\n"), nil

	default:
		return "Unknown action. Use: spawn, status.", nil
	}
}

var _ domain.Tool = (*SubagentTool)(nil)
