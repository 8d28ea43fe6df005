package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gigabot/internal/bus"
	"gigabot/internal/domain"
	"gigabot/internal/tool"
)

// blockingProvider parks Chat calls until released or cancelled.
type blockingProvider struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingProvider() *blockingProvider {
	return &blockingProvider{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (p *blockingProvider) Chat(ctx context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	select {
	case p.started <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.release:
		return &domain.ChatResponse{Content: "late result", FinishReason: "stop"}, nil
	}
}

func (p *blockingProvider) Name() string                    { return "blocking" }
func (p *blockingProvider) Healthy(_ context.Context) error { return nil }

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestSupervisor(t *testing.T, provider domain.Provider) (*Supervisor, *bus.InMemoryBus) {
	t.Helper()
	logger := testLogger()
	b := bus.New(0, logger)
	sup := NewSupervisor(SupervisorConfig{
		Provider: provider,
		Bus:      b,
		Prompt:   NewPromptBuilder(t.TempDir(), ""),
		RegistryFactory: func() *tool.Registry {
			reg := tool.NewRegistry(logger)
			reg.Register(&fakeTool{name: "echo", result: "pong"})
			return reg
		},
		RateLimiter: NewRateLimiter(1000, 60000),
		Logger:      logger,
	})
	return sup, b
}

func consumeInbound(t *testing.T, b *bus.InMemoryBus) domain.InboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := b.ConsumeInbound(ctx)
	if err != nil {
		t.Fatalf("no inbound report: %v", err)
	}
	return msg
}

func TestSupervisor_ReportsToOrigin(t *testing.T) {
	sup, b := newTestSupervisor(t, &scriptProvider{script: []scriptStep{reply("found 3 files")}})

	id := sup.Spawn(context.Background(), "count the files", "", "telegram", "42")
	if len(id) != 8 {
		t.Errorf("task id = %q, want 8 chars", id)
	}

	report := consumeInbound(t, b)
	if report.Channel != "telegram" || report.ChatID != "42" {
		t.Errorf("report addressed to %s:%s, want telegram:42", report.Channel, report.ChatID)
	}
	if report.SenderID != "subagent" {
		t.Errorf("sender = %q, want subagent", report.SenderID)
	}
	if report.Metadata["subagent"] != id || report.Metadata["subagent_status"] != "ok" {
		t.Errorf("metadata = %v", report.Metadata)
	}
	if !strings.Contains(report.Content, "found 3 files") || !strings.Contains(report.Content, "count the files") {
		t.Errorf("report content = %q", report.Content)
	}

	waitFor(t, func() bool { return sup.RunningCount() == 0 }, "subagent not reaped")
}

func TestSupervisor_UsesToolsFromFreshRegistry(t *testing.T) {
	sup, b := newTestSupervisor(t, &scriptProvider{script: []scriptStep{
		callTool("echo", map[string]any{"text": "x"}),
		reply("echoed"),
	}})

	sup.Spawn(context.Background(), "echo something", "", "cli", "direct")

	report := consumeInbound(t, b)
	if report.Metadata["subagent_status"] != "ok" {
		t.Errorf("status = %q, want ok", report.Metadata["subagent_status"])
	}
	if !strings.Contains(report.Content, "echoed") {
		t.Errorf("report content = %q", report.Content)
	}
}

func TestSupervisor_ProviderErrorReportsFailure(t *testing.T) {
	sup, b := newTestSupervisor(t, &scriptProvider{script: []scriptStep{{err: errors.New("api down")}}})

	sup.Spawn(context.Background(), "doomed task", "", "telegram", "42")

	report := consumeInbound(t, b)
	if report.Metadata["subagent_status"] != "error" {
		t.Errorf("status = %q, want error", report.Metadata["subagent_status"])
	}
	if !strings.Contains(report.Content, "model request failed") {
		t.Errorf("report content = %q", report.Content)
	}
	waitFor(t, func() bool { return sup.RunningCount() == 0 }, "subagent not reaped")
}

func TestSupervisor_RoundLimitReportsFailure(t *testing.T) {
	sup, b := newTestSupervisor(t, &scriptProvider{script: []scriptStep{
		callTool("echo", nil),
		callTool("echo", nil),
		callTool("echo", nil),
	}})
	sup.maxRounds = 2

	sup.Spawn(context.Background(), "never ends", "", "telegram", "42")

	report := consumeInbound(t, b)
	if report.Metadata["subagent_status"] != "error" {
		t.Errorf("status = %q, want error", report.Metadata["subagent_status"])
	}
	if !strings.Contains(report.Content, "round limit") {
		t.Errorf("report content = %q", report.Content)
	}
}

func TestSupervisor_CancelledPublishesNoReport(t *testing.T) {
	provider := newBlockingProvider()
	sup, b := newTestSupervisor(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	sup.Spawn(ctx, "long task", "", "telegram", "42")

	select {
	case <-provider.started:
	case <-time.After(2 * time.Second):
		t.Fatal("subagent never reached the provider")
	}
	cancel()

	waitFor(t, func() bool { return sup.RunningCount() == 0 }, "cancelled subagent not reaped")
	if n := b.InboundSize(); n != 0 {
		t.Errorf("inbound size = %d, want 0 (no report after cancel)", n)
	}
}

func TestSupervisor_StopCancelsAll(t *testing.T) {
	provider := newBlockingProvider()
	sup, b := newTestSupervisor(t, provider)

	sup.Spawn(context.Background(), "task one", "", "telegram", "42")
	sup.Spawn(context.Background(), "task two", "", "telegram", "42")
	waitFor(t, func() bool { return sup.RunningCount() == 2 }, "subagents not started")

	sup.Stop()

	waitFor(t, func() bool { return sup.RunningCount() == 0 }, "subagents not reaped after Stop")
	if n := b.InboundSize(); n != 0 {
		t.Errorf("inbound size = %d, want 0 after Stop", n)
	}
}

func TestSupervisor_RunningSnapshot(t *testing.T) {
	provider := newBlockingProvider()
	sup, _ := newTestSupervisor(t, provider)

	sup.Spawn(context.Background(), "some long work", "bg", "telegram", "42")
	waitFor(t, func() bool { return sup.RunningCount() == 1 }, "subagent not running")

	running := sup.Running()
	if len(running) != 1 {
		t.Fatalf("running = %d entries, want 1", len(running))
	}
	if running[0].Label != "bg" || running[0].Task != "some long work" {
		t.Errorf("running info = %+v", running[0])
	}

	close(provider.release)
	waitFor(t, func() bool { return sup.RunningCount() == 0 }, "subagent not reaped")
}

func TestSupervisor_LabelDefaultsFromTask(t *testing.T) {
	provider := newBlockingProvider()
	sup, _ := newTestSupervisor(t, provider)

	task := strings.Repeat("я", 50)
	sup.Spawn(context.Background(), task, "", "telegram", "42")
	waitFor(t, func() bool { return sup.RunningCount() == 1 }, "subagent not running")

	label := sup.Running()[0].Label
	if got := len([]rune(label)); got != labelRunes+3 {
		t.Errorf("label length = %d runes, want %d", got, labelRunes+3)
	}
	if !strings.HasSuffix(label, "...") {
		t.Errorf("label = %q, want ... suffix", label)
	}

	close(provider.release)
	waitFor(t, func() bool { return sup.RunningCount() == 0 }, "subagent not reaped")
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("short", 30); got != "short" {
		t.Errorf("short string modified: %q", got)
	}
	if got := truncateRunes("привет мир", 6); got != "привет..." {
		t.Errorf("unicode truncation = %q", got)
	}
}
