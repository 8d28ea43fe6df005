package agent

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"gigabot/internal/domain"
	"gigabot/internal/metrics"
)

// ChatCommand represents a parsed chat command.
type ChatCommand struct {
	Name string   // command name without "/"
	Args []string // arguments after the command
	Raw  string   // original full text
}

// CommandResult holds the response for a handled command.
type CommandResult struct {
	Response string // text response to send back
	Handled  bool   // true if the command was handled (don't send to LLM)
}

// startTime records when the process started for /status.
var startTime = time.Now()

// ParseCommand checks if a message starts with "/" and parses it into a ChatCommand.
// Returns nil if the message is not a command.
func ParseCommand(text string) *ChatCommand {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil
	}

	name := strings.TrimPrefix(parts[0], "/")
	name = strings.ToLower(name)

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return &ChatCommand{
		Name: name,
		Args: args,
		Raw:  text,
	}
}

// HandleCommand processes a chat command and returns a result.
// If the command is not recognized, returns Handled=false so the message
// can be forwarded to the model as a normal message.
func (l *Loop) HandleCommand(ctx context.Context, cmd *ChatCommand, msg domain.InboundMessage) CommandResult {
	switch cmd.Name {
	case "help":
		return CommandResult{Response: helpText(), Handled: true}

	case "new", "clear":
		l.sessions.Clear(ctx, msg.SessionKey())
		return CommandResult{Response: "Conversation cleared. Starting fresh.", Handled: true}

	case "status":
		return CommandResult{Response: l.statusText(), Handled: true}

	case "version":
		return CommandResult{Response: fmt.Sprintf("GigaBot v%s (%s/%s, Go %s)", version, runtime.GOOS, runtime.GOARCH, runtime.Version()), Handled: true}

	case "tools":
		return CommandResult{Response: l.toolsText(), Handled: true}

	case "subagents":
		return CommandResult{Response: l.subagentsText(), Handled: true}

	case "persona":
		return CommandResult{Response: l.personaText(cmd.Args), Handled: true}

	default:
		// Unknown command — pass through to the model as a normal message
		return CommandResult{Handled: false}
	}
}

// version is set by the build system. Default fallback.
var version = "0.1.0"

// SetVersion sets the version string used by commands.
func SetVersion(v string) {
	version = v
}

func helpText() string {
	return `**GigaBot Commands**

/help — Show this help message
/new — Start a new conversation (clear history)
/clear — Same as /new
/status — Show bot status and counters
/tools — List available tools
/subagents — List running background tasks
/persona — Show or switch the active persona
/version — Show version info`
}

func (l *Loop) statusText() string {
	uptime := time.Since(startTime).Round(time.Second)
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**GigaBot v%s**\n\n", version))
	sb.WriteString(fmt.Sprintf("Provider: %s\n", l.provider.Name()))
	sb.WriteString(fmt.Sprintf("Persona: %s\n", l.ActivePersona().Name))
	sb.WriteString(fmt.Sprintf("Tools: %d registered\n", len(l.tools.Names())))
	sb.WriteString(fmt.Sprintf("Uptime: %s\n", uptime))
	sb.WriteString(fmt.Sprintf("Runtime: %s/%s, Go %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version()))
	if vals := metrics.Collector.Snapshot(); len(vals) > 0 {
		sb.WriteString("\n**Counters**\n")
		for _, v := range vals {
			sb.WriteString(fmt.Sprintf("%s: %d\n", v.Name, v.Value))
		}
	}
	return sb.String()
}

func (l *Loop) toolsText() string {
	names := l.tools.Names()
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**Available Tools** (%d)\n\n", len(names)))
	for _, name := range names {
		t := l.tools.Get(name)
		if t != nil {
			sb.WriteString(fmt.Sprintf("• **%s** — %s\n", name, t.Description()))
		}
	}
	return sb.String()
}

func (l *Loop) subagentsText() string {
	if l.supervisor == nil {
		return "Subagents are not enabled."
	}
	running := l.supervisor.Running()
	if len(running) == 0 {
		return "No subagents running."
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**Running Subagents** (%d)\n\n", len(running)))
	for _, info := range running {
		sb.WriteString(fmt.Sprintf("• [%s] %s (running %s)\n", info.ID, info.Label, time.Since(info.StartedAt).Round(time.Second)))
	}
	return sb.String()
}

func (l *Loop) personaText(args []string) string {
	if len(args) == 0 {
		names := l.personas.Names()
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Active persona: **%s**\n\nAvailable: %s\n", l.ActivePersona().Name, strings.Join(names, ", ")))
		sb.WriteString("Use /persona <name> to switch.")
		return sb.String()
	}
	name := args[0]
	p, ok := l.personas.Get(name)
	if !ok {
		return fmt.Sprintf("Unknown persona %q. Available: %s", name, strings.Join(l.personas.Names(), ", "))
	}
	l.SetActivePersona(p)
	return fmt.Sprintf("Persona switched to **%s**.", p.Name)
}
