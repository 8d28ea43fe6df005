package tool

import (
	"context"
	"fmt"
	"os"

	"gigabot/internal/domain"
)

// SendMessageTool lets the agent push a message to a chat without
// waiting for the current turn's reply, e.g. progress updates during a
// long task or messages to a different chat than the one that asked.
type SendMessageTool struct {
	bus domain.MessageBus
}

func NewSendMessageTool(bus domain.MessageBus) *SendMessageTool {
	return &SendMessageTool{bus: bus}
}

func (t *SendMessageTool) Name() string { return "send_message" }

func (t *SendMessageTool) Description() string {
	return "Send a message to a chat immediately, before your final reply. Use for progress updates during long tasks or to message another chat."
}

func (t *SendMessageTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"channel": {Type: "string", Description: "Channel to send through (telegram, discord, gateway, cli)"},
			"chat_id": {Type: "string", Description: "Chat or user identifier within the channel"},
			"content": {Type: "string", Description: "Message text to send"},
			"media":   {Type: "array", Description: "Optional list of local file paths to attach"},
		},
		[]string{"channel", "chat_id", "content"},
	)
}

func (t *SendMessageTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	channel := ArgsString(args, "channel")
	chatID := ArgsString(args, "chat_id")
	content := ArgsString(args, "content")
	if channel == "" || chatID == "" {
		return "", fmt.Errorf("channel and chat_id are required")
	}
	if content == "" {
		return "", fmt.Errorf("content must not be empty")
	}

	var media []string
	if raw, ok := args["media"].([]any); ok {
		for _, item := range raw {
			path, ok := item.(string)
			if !ok {
				continue
			}
			if _, err := os.Stat(path); err != nil {
				return "", fmt.Errorf("media file not found: %s", path)
			}
			media = append(media, path)
		}
	}

	t.bus.PublishOutbound(domain.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: content,
		Media:   media,
	})

	return fmt.Sprintf("Message sent to %s:%s", channel, chatID), nil
}

var _ domain.Tool = (*SendMessageTool)(nil)
