package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"gigabot/internal/domain"
)

// Synthesizer turns text into OGG Opus audio. The SaluteSpeech client
// implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// VoiceNoteTool renders text to speech and saves it under the workspace
// voice directory. Channel adapters send files from that directory as
// voice messages rather than documents.
type VoiceNoteTool struct {
	synth    Synthesizer
	voiceDir string
	voice    string
}

type VoiceNoteConfig struct {
	Synthesizer Synthesizer
	VoiceDir    string
	Voice       string
}

func NewVoiceNoteTool(cfg VoiceNoteConfig) *VoiceNoteTool {
	if cfg.Voice == "" {
		cfg.Voice = "Nec_24000"
	}
	return &VoiceNoteTool{
		synth:    cfg.Synthesizer,
		voiceDir: cfg.VoiceDir,
		voice:    cfg.Voice,
	}
}

func (t *VoiceNoteTool) Name() string { return "voice_note" }

func (t *VoiceNoteTool) Description() string {
	return "Convert text to a voice note (OGG file). Returns the file path; attach it via send_message media, or mention it in your reply to have it delivered."
}

func (t *VoiceNoteTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"text":  {Type: "string", Description: "Text to speak"},
			"voice": {Type: "string", Description: "Voice name (optional, defaults to the configured voice)"},
		},
		[]string{"text"},
	)
}

func (t *VoiceNoteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	text := ArgsString(args, "text")
	if text == "" {
		return "", fmt.Errorf("missing argument: text")
	}
	voice := ArgsString(args, "voice")
	if voice == "" {
		voice = t.voice
	}

	audio, err := t.synth.Synthesize(ctx, text, voice)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}

	if err := os.MkdirAll(t.voiceDir, 0o755); err != nil {
		return "", fmt.Errorf("create voice dir: %w", err)
	}
	name := fmt.Sprintf("note_%s_%s.ogg", time.Now().Format("20060102_150405"), uuid.NewString()[:8])
	path := filepath.Join(t.voiceDir, name)
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("write voice note: %w", err)
	}

	return fmt.Sprintf("Voice note saved: %s", path), nil
}

var _ domain.Tool = (*VoiceNoteTool)(nil)
