package tool

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gigabot/internal/domain"
)

const (
	defaultExecTimeout    = 60
	defaultMaxOutputBytes = 65536
)

// ExecTool runs shell commands in the workspace.
type ExecTool struct {
	workingDir      string
	timeoutSeconds  int
	maxOutputBytes  int
	blockedCommands []string
}

type ExecConfig struct {
	WorkingDir      string
	TimeoutSeconds  int
	MaxOutputBytes  int
	BlockedCommands []string
}

func NewExecTool(cfg ExecConfig) *ExecTool {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultExecTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &ExecTool{
		workingDir:      cfg.WorkingDir,
		timeoutSeconds:  cfg.TimeoutSeconds,
		maxOutputBytes:  cfg.MaxOutputBytes,
		blockedCommands: cfg.BlockedCommands,
	}
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Execute a shell command in the workspace. Returns stdout and stderr. Use for scripts, file conversion, or any CLI work."
}

func (t *ExecTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"command": {Type: "string", Description: "The shell command to execute (e.g. 'ls -la', 'git status')"},
		},
		[]string{"command"},
	)
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command := strings.TrimSpace(ArgsString(args, "command"))
	if command == "" {
		return "", fmt.Errorf("missing argument: command")
	}

	for _, blocked := range t.blockedCommands {
		if blocked != "" && strings.Contains(command, blocked) {
			return "", fmt.Errorf("command blocked by policy: %q", blocked)
		}
	}

	dir := t.workingDir
	if dir == "" {
		dir = "."
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = dir
	}

	timeout := time.Duration(t.timeoutSeconds) * time.Second
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// sh -c for pipes, redirects and quoting.
	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = absDir

	output, err := cmd.CombinedOutput()
	result := string(output)
	if len(result) > t.maxOutputBytes {
		result = result[:t.maxOutputBytes] + "\n... (output truncated)"
	}
	if err != nil {
		if execCtx.Err() != nil {
			return "", fmt.Errorf("command timed out after %ds", t.timeoutSeconds)
		}
		if result == "" {
			return "", fmt.Errorf("exit: %w", err)
		}
		return fmt.Sprintf("%s\n(exit: %v)", result, err), nil
	}
	return result, nil
}

var _ domain.Tool = (*ExecTool)(nil)
