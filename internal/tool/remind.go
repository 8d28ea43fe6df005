package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gigabot/internal/domain"
	"gigabot/internal/schedule"
)

// RemindTool manages reminder entries in the scheduler. Due reminders
// come back to the agent as ordinary inbound messages.
type RemindTool struct {
	scheduler *schedule.Scheduler
}

func NewRemindTool(scheduler *schedule.Scheduler) *RemindTool {
	return &RemindTool{scheduler: scheduler}
}

func (t *RemindTool) Name() string { return "remind" }

func (t *RemindTool) Description() string {
	return "Manage reminders. Actions: 'list' (show all), 'add' (create with name, message, and either interval_seconds or daily HH:MM, plus channel and chat_id), 'remove' (delete by id)."
}

func (t *RemindTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"action":           {Type: "string", Description: "Action to perform", Enum: []string{"list", "add", "remove"}},
			"id":               {Type: "string", Description: "Reminder ID (for remove)"},
			"name":             {Type: "string", Description: "Short reminder name (for add)"},
			"message":          {Type: "string", Description: "Message delivered when the reminder fires (for add)"},
			"interval_seconds": {Type: "number", Description: "Repeat interval in seconds (for add)"},
			"daily":            {Type: "string", Description: "Daily fire time as HH:MM (for add, alternative to interval_seconds)"},
			"channel":          {Type: "string", Description: "Target channel (for add)"},
			"chat_id":          {Type: "string", Description: "Target chat ID (for add)"},
		},
		[]string{"action"},
	)
}

func (t *RemindTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	action := ArgsString(args, "action")
	switch action {
	case "list":
		entries := t.scheduler.List()
		if len(entries) == 0 {
			return "No reminders set.", nil
		}
		var lines []string
		for _, e := range entries {
			schedule := fmt.Sprintf("every %ds", e.IntervalS)
			if e.Daily != "" {
				schedule = "daily at " + e.Daily
			}
			lines = append(lines, fmt.Sprintf("- [%s] %s: %q %s, next %s",
				e.ID, e.Name, e.Message, schedule, e.NextRun.Format(time.RFC3339)))
		}
		return strings.Join(lines, "\n"), nil

	case "add":
		name := ArgsString(args, "name")
		message := ArgsString(args, "message")
		if name == "" || message == "" {
			return "Error: name and message are required for add.", nil
		}

		interval := 0
		if raw, ok := args["interval_seconds"].(float64); ok {
			interval = int(raw)
		}
		daily := ArgsString(args, "daily")
		if interval <= 0 && daily == "" {
			return "Error: add needs interval_seconds or daily HH:MM.", nil
		}

		entry, err := t.scheduler.Add(schedule.Entry{
			Name:      name,
			Message:   message,
			IntervalS: interval,
			Daily:     daily,
			Channel:   ArgsString(args, "channel"),
			ChatID:    ArgsString(args, "chat_id"),
		})
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}
		return fmt.Sprintf("Reminder created: %s (ID: %s), next run %s",
			entry.Name, entry.ID, entry.NextRun.Format(time.RFC3339)), nil

	case "remove":
		id := ArgsString(args, "id")
		if id == "" {
			return "Error: id is required for remove.", nil
		}
		if !t.scheduler.Remove(id) {
			return fmt.Sprintf("No reminder with ID %s.", id), nil
		}
		return fmt.Sprintf("Reminder removed: %s", id), nil

	default:
		return "Unknown action. Use: list, add, remove.", nil
	}
}

var _ domain.Tool = (*RemindTool)(nil)
