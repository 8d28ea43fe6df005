package agent

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gigabot/internal/domain"
	"gigabot/internal/persona"
)

// PromptBuilder assembles the system prompt from the identity block,
// workspace, current time, and the active persona.
type PromptBuilder struct {
	workspace string
	extra     string
}

func NewPromptBuilder(workspace, systemPromptExtra string) *PromptBuilder {
	return &PromptBuilder{workspace: workspace, extra: systemPromptExtra}
}

func (p *PromptBuilder) SystemPrompt(pers persona.Persona, channel, chatID string) string {
	workspacePath, err := filepath.Abs(p.workspace)
	if err != nil {
		workspacePath = p.workspace
	}

	var sb strings.Builder
	sb.WriteString(pers.SystemPrompt)
	sb.WriteString("\n\n## Current Time\n")
	sb.WriteString(time.Now().Format("2006-01-02 15:04 (Monday)"))
	sb.WriteString("\n\n## Workspace\n")
	sb.WriteString(workspacePath)
	sb.WriteString("\n\n## Session\nChannel: ")
	sb.WriteString(channel)
	sb.WriteString(" | Chat ID: ")
	sb.WriteString(chatID)
	sb.WriteString(`

## Rules
1. When the user asks you to DO something, use the appropriate tool. Never claim you can't without trying.
2. Use exec for system operations, web_search and web_fetch for the internet.
3. For long tasks, delegate to a subagent and keep the conversation responsive.
4. Do not output raw JSON tool calls in your reply text. Use the function calling mechanism.
5. After tool execution, present results clearly. Do not mention tool names to the user.
6. Respond in the same language the user writes in.`)

	if p.extra != "" {
		sb.WriteString("\n\n## Custom Instructions\n")
		sb.WriteString(p.extra)
	}

	return sb.String()
}

// SubagentPrompt is the focused system prompt for background tasks.
// The task itself arrives as the first user message.
func (p *PromptBuilder) SubagentPrompt() string {
	workspacePath, err := filepath.Abs(p.workspace)
	if err != nil {
		workspacePath = p.workspace
	}
	return fmt.Sprintf(`You are a background task agent. Complete the task you are given and nothing else.

## Workspace
%s

## Rules
1. Work the task to completion with the tools available, then reply with a concise result.
2. You cannot message users; your final reply is reported back for you.
3. If the task cannot be done, say exactly what is missing.`, workspacePath)
}

// BuildMessages assembles system + history + the new user message.
func (p *PromptBuilder) BuildMessages(systemPrompt string, history []domain.Message, content string) []domain.Message {
	messages := make([]domain.Message, 0, len(history)+2)
	messages = append(messages, domain.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, domain.Message{Role: "user", Content: content})
	return messages
}
