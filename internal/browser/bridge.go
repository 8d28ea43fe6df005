// Package browser drives a headless Chrome through chromedp. It backs
// the render mode of the web_fetch capability, where plain HTTP
// fetching cannot see script-generated content.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

const defaultRenderTimeout = 45 * time.Second

// Bridge manages Chrome instances with a persistent profile, so pages
// behind cookie walls keep working between runs.
type Bridge struct {
	profileDir string
	headless   bool
	timeout    time.Duration
	logger     *slog.Logger
}

type BridgeConfig struct {
	ProfileDir string // Chrome user data directory (persists cookies/sessions)
	Headless   bool
	Timeout    time.Duration
	Logger     *slog.Logger
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".gigabot", "chrome-profile")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRenderTimeout
	}
	return &Bridge{
		profileDir: cfg.ProfileDir,
		headless:   cfg.Headless,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
	}
}

// NewContext creates a chromedp context using the bridge's profile.
// The caller MUST call cancel() when done.
func (b *Bridge) NewContext(parent context.Context) (context.Context, context.CancelFunc) {
	if err := os.MkdirAll(b.profileDir, 0o755); err != nil {
		b.logger.Error("failed to create profile dir", "dir", b.profileDir, "err", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(b.profileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"),
	)
	if b.headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	return taskCtx, func() {
		taskCancel()
		allocCancel()
	}
}

// FetchText loads the page, lets scripts settle, and returns the
// rendered body text.
func (b *Bridge) FetchText(ctx context.Context, pageURL string) (string, error) {
	taskCtx, cancel := b.NewContext(ctx)
	defer cancel()

	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, b.timeout)
	defer timeoutCancel()

	b.logger.Debug("rendering page", "url", pageURL)

	var text string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(2*time.Second),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}
	return strings.TrimSpace(text), nil
}
