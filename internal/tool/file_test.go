package tool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadFileTool_ReadsContent(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "note.txt")
	if err := os.WriteFile(path, []byte("remember the milk"), 0o644); err != nil {
		t.Fatal(err)
	}

	rt := NewReadFileTool(ws)
	out, err := rt.Execute(context.Background(), map[string]any{"path": "note.txt"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "remember the milk" {
		t.Fatalf("unexpected content: %q", out)
	}
}

func TestReadFileTool_RefusesEscape(t *testing.T) {
	ws := t.TempDir()
	rt := NewReadFileTool(ws)
	_, err := rt.Execute(context.Background(), map[string]any{"path": "../../etc/passwd"})
	if err == nil {
		t.Fatal("expected error for path outside workspace")
	}
	if !strings.Contains(err.Error(), "outside workspace") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWriteFileTool_CreatesParentDirs(t *testing.T) {
	ws := t.TempDir()
	wt := NewWriteFileTool(ws)

	out, err := wt.Execute(context.Background(), map[string]any{
		"path":    "deep/nested/file.txt",
		"content": "hi",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "Wrote 2 bytes") {
		t.Fatalf("unexpected result: %q", out)
	}

	data, err := os.ReadFile(filepath.Join(ws, "deep", "nested", "file.txt"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "hi" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestListDirTool_ListsEntries(t *testing.T) {
	ws := t.TempDir()
	os.WriteFile(filepath.Join(ws, "a.txt"), []byte("a"), 0o644)
	os.Mkdir(filepath.Join(ws, "sub"), 0o755)

	lt := NewListDirTool(ws)
	out, err := lt.Execute(context.Background(), map[string]any{"path": "."})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "a.txt") || !strings.Contains(out, "sub/") {
		t.Fatalf("missing entries in: %q", out)
	}
}

func TestListDirTool_EmptyDir(t *testing.T) {
	lt := NewListDirTool(t.TempDir())
	out, err := lt.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "(empty directory)" {
		t.Fatalf("unexpected: %q", out)
	}
}
