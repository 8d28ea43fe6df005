package tool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type stubSynth struct {
	audio []byte
	voice string
	err   error
}

func (s *stubSynth) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	s.voice = voice
	if s.err != nil {
		return nil, s.err
	}
	return s.audio, nil
}

func TestVoiceNoteTool_WritesOGG(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "voice")
	synth := &stubSynth{audio: []byte("OggS...")}
	vt := NewVoiceNoteTool(VoiceNoteConfig{Synthesizer: synth, VoiceDir: dir})

	result, err := vt.Execute(context.Background(), map[string]any{"text": "hello there"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(result, "Voice note saved: ") {
		t.Fatalf("result = %q", result)
	}

	path := strings.TrimPrefix(result, "Voice note saved: ")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read note: %v", err)
	}
	if string(data) != "OggS..." {
		t.Errorf("file content = %q", data)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("note written outside voice dir: %s", path)
	}
	if filepath.Ext(path) != ".ogg" {
		t.Errorf("expected .ogg extension, got %s", path)
	}
}

func TestVoiceNoteTool_DefaultVoice(t *testing.T) {
	synth := &stubSynth{audio: []byte("x")}
	vt := NewVoiceNoteTool(VoiceNoteConfig{Synthesizer: synth, VoiceDir: t.TempDir()})

	if _, err := vt.Execute(context.Background(), map[string]any{"text": "hi"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if synth.voice != "Nec_24000" {
		t.Errorf("voice = %q, want default", synth.voice)
	}

	if _, err := vt.Execute(context.Background(), map[string]any{"text": "hi", "voice": "Bys_24000"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if synth.voice != "Bys_24000" {
		t.Errorf("voice = %q, want override", synth.voice)
	}
}

func TestVoiceNoteTool_SynthesizeError(t *testing.T) {
	synth := &stubSynth{err: errors.New("quota exceeded")}
	vt := NewVoiceNoteTool(VoiceNoteConfig{Synthesizer: synth, VoiceDir: t.TempDir()})

	if _, err := vt.Execute(context.Background(), map[string]any{"text": "hi"}); err == nil {
		t.Fatal("expected error from synthesizer")
	}
}

func TestVoiceNoteTool_MissingText(t *testing.T) {
	vt := NewVoiceNoteTool(VoiceNoteConfig{Synthesizer: &stubSynth{}, VoiceDir: t.TempDir()})
	if _, err := vt.Execute(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing text")
	}
}
