package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"gigabot/internal/domain"
)

// CLI implements domain.Channel for interactive terminal chat. It has
// no allow-list; whoever holds the terminal is the user.
type CLI struct {
	bus       domain.MessageBus
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer
	onQuit    func()
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
	OnQuit func() // called when the REPL exits
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
		onQuit: cfg.OnQuit,
	}
}

func (c *CLI) Name() string { return "cli" }

func (c *CLI) IsAllowed(string) bool { return true }

// Start runs the interactive REPL until ctx is cancelled or the user
// quits.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus
	if c.onQuit != nil {
		defer c.onQuit()
	}

	_, _ = fmt.Fprintln(c.out, "GigaBot CLI. Type your message and press Enter. Type /quit to exit.")
	_, _ = fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			_, _ = fmt.Fprint(c.out, "You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		c.startThinking()
		c.bus.PublishInbound(domain.InboundMessage{
			Channel:  "cli",
			ChatID:   "direct",
			SenderID: "user",
			Content:  line,
		})
	}
}

// Stop is a no-op; the REPL exits when Start returns.
func (c *CLI) Stop() error { return nil }

// Send prints the reply and restores the prompt.
func (c *CLI) Send(ctx context.Context, msg domain.OutboundMessage) error {
	c.stopThinking()
	_, _ = fmt.Fprint(c.out, "\r\033[K") // clear spinner line
	_, _ = fmt.Fprintln(c.out, "--- GigaBot ---")
	_, _ = fmt.Fprintln(c.out, msg.Content)
	for _, path := range msg.Media {
		_, _ = fmt.Fprintln(c.out, "[media: "+path+"]")
	}
	_, _ = fmt.Fprintln(c.out, "---------------")
	_, _ = fmt.Fprint(c.out, "You> ")
	return nil
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-c.thinkStop:
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}

var _ domain.Channel = (*CLI)(nil)
