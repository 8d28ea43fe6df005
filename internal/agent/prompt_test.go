package agent

import (
	"strings"
	"testing"

	"gigabot/internal/domain"
	"gigabot/internal/persona"
)

func TestPromptBuilder_SystemPrompt(t *testing.T) {
	workspace := t.TempDir()
	pb := NewPromptBuilder(workspace, "Always answer in haiku.")

	got := pb.SystemPrompt(persona.Default(), "telegram", "42")

	for _, want := range []string{
		persona.Default().SystemPrompt,
		workspace,
		"Channel: telegram",
		"Chat ID: 42",
		"Always answer in haiku.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestPromptBuilder_NoExtraSection(t *testing.T) {
	pb := NewPromptBuilder(t.TempDir(), "")
	got := pb.SystemPrompt(persona.Default(), "cli", "direct")
	if strings.Contains(got, "Custom Instructions") {
		t.Error("empty extra must not add a Custom Instructions section")
	}
}

func TestPromptBuilder_BuildMessages(t *testing.T) {
	pb := NewPromptBuilder(t.TempDir(), "")
	history := []domain.Message{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}

	msgs := pb.BuildMessages("SYSTEM", history, "new question")

	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "SYSTEM" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Content != "earlier question" || msgs[2].Content != "earlier answer" {
		t.Errorf("history out of order: %+v", msgs[1:3])
	}
	if msgs[3].Role != "user" || msgs[3].Content != "new question" {
		t.Errorf("last message = %+v", msgs[3])
	}
}

func TestPromptBuilder_SubagentPrompt(t *testing.T) {
	workspace := t.TempDir()
	pb := NewPromptBuilder(workspace, "")

	got := pb.SubagentPrompt()
	if !strings.Contains(got, workspace) {
		t.Error("subagent prompt missing workspace")
	}
	if !strings.Contains(got, "background task agent") {
		t.Errorf("subagent prompt = %q", got)
	}
}
