package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"gigabot/internal/bus"
	"gigabot/internal/domain"
	"gigabot/internal/persona"
	"gigabot/internal/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- fakes shared by the agent package tests ---

// fakeStore is an in-memory domain.SessionStore.
type fakeStore struct {
	mu      sync.Mutex
	convs   map[string]domain.Conversation
	records map[string][]domain.MessageRecord
	nextID  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convs:   make(map[string]domain.Conversation),
		records: make(map[string][]domain.MessageRecord),
	}
}

func (f *fakeStore) CreateConversation(_ context.Context, conv domain.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.convs[conv.ID]; !ok {
		f.convs[conv.ID] = conv
	}
	return nil
}

func (f *fakeStore) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[id]
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

func (f *fakeStore) ListConversations(_ context.Context, limit int) ([]domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Conversation, 0, len(f.convs))
	for _, c := range f.convs {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) DeleteConversation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.convs, id)
	delete(f.records, id)
	return nil
}

func (f *fakeStore) AddMessage(_ context.Context, convID string, msg domain.MessageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg.ID = f.nextID
	msg.ConversationID = convID
	f.records[convID] = append(f.records[convID], msg)
	return nil
}

func (f *fakeStore) GetMessages(_ context.Context, convID string, limit int) ([]domain.MessageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	records := f.records[convID]
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]domain.MessageRecord, len(records))
	copy(out, records)
	return out, nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) recordRoles(convID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	roles := make([]string, 0, len(f.records[convID]))
	for _, r := range f.records[convID] {
		roles = append(roles, r.Role)
	}
	return roles
}

var _ domain.SessionStore = (*fakeStore)(nil)

// scriptProvider replays a fixed sequence of responses and records the
// requests it received.
type scriptProvider struct {
	mu       sync.Mutex
	script   []scriptStep
	requests []domain.ChatRequest
}

type scriptStep struct {
	resp *domain.ChatResponse
	err  error
}

func reply(content string) scriptStep {
	return scriptStep{resp: &domain.ChatResponse{Content: content, FinishReason: "stop"}}
}

func callTool(name string, args map[string]any) scriptStep {
	return scriptStep{resp: &domain.ChatResponse{
		FinishReason: "function_call",
		ToolCalls:    []domain.ToolCall{{ID: "tc-" + name, Name: name, Arguments: args}},
	}}
}

func (p *scriptProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.script) == 0 {
		return &domain.ChatResponse{Content: "script exhausted", FinishReason: "stop"}, nil
	}
	step := p.script[0]
	p.script = p.script[1:]
	if step.err != nil {
		return nil, step.err
	}
	resp := *step.resp
	return &resp, nil
}

func (p *scriptProvider) Name() string                    { return "script" }
func (p *scriptProvider) Healthy(_ context.Context) error { return nil }

func (p *scriptProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptProvider) request(i int) domain.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

// fakeTool records its invocations.
type fakeTool struct {
	mu        sync.Mutex
	name      string
	result    string
	err       error
	calls     []map[string]any
	onExecute func()
}

func (ft *fakeTool) Name() string        { return ft.name }
func (ft *fakeTool) Description() string { return "fake " + ft.name }
func (ft *fakeTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (ft *fakeTool) Execute(_ context.Context, args map[string]any) (string, error) {
	ft.mu.Lock()
	ft.calls = append(ft.calls, args)
	ft.mu.Unlock()
	if ft.onExecute != nil {
		ft.onExecute()
	}
	return ft.result, ft.err
}

func (ft *fakeTool) callCount() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.calls)
}

var _ domain.Tool = (*fakeTool)(nil)

// --- fixture ---

type loopFixture struct {
	loop     *Loop
	provider *scriptProvider
	store    *fakeStore
	bus      *bus.InMemoryBus
	registry *tool.Registry
}

func newTestLoop(t *testing.T, steps ...scriptStep) *loopFixture {
	t.Helper()
	logger := testLogger()
	provider := &scriptProvider{script: steps}
	store := newFakeStore()
	b := bus.New(0, logger)
	registry := tool.NewRegistry(logger)
	loop := NewLoop(LoopConfig{
		Provider:    provider,
		Sessions:    NewSessionManager(store, logger),
		Prompt:      NewPromptBuilder(t.TempDir(), ""),
		Tools:       registry,
		Personas:    persona.NewLibrary("", logger),
		Bus:         b,
		Logger:      logger,
		RateLimiter: NewRateLimiter(1000, 60000),
	})
	return &loopFixture{loop: loop, provider: provider, store: store, bus: b, registry: registry}
}

func userMsg(content string) domain.InboundMessage {
	return domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    "42",
		SenderID:  "77",
		Content:   content,
		Timestamp: time.Now(),
	}
}

func consumeOutbound(t *testing.T, b *bus.InMemoryBus) domain.OutboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := b.ConsumeOutbound(ctx)
	if err != nil {
		t.Fatalf("no outbound message: %v", err)
	}
	return out
}

// --- tests ---

func TestLoop_PlainReply(t *testing.T) {
	fx := newTestLoop(t, reply("hello there"))

	got, err := fx.loop.ProcessDirect(context.Background(), "hi", "cli", "direct")
	if err != nil {
		t.Fatalf("ProcessDirect: %v", err)
	}
	if got != "hello there" {
		t.Errorf("reply = %q, want %q", got, "hello there")
	}

	roles := fx.store.recordRoles("cli:direct")
	if len(roles) != 2 || roles[0] != "user" || roles[1] != "assistant" {
		t.Errorf("persisted roles = %v, want [user assistant]", roles)
	}
}

func TestLoop_ToolCallRoundTrip(t *testing.T) {
	fx := newTestLoop(t,
		callTool("echo", map[string]any{"text": "ping"}),
		reply("done"),
	)
	echo := &fakeTool{name: "echo", result: "pong"}
	fx.registry.Register(echo)

	got, err := fx.loop.ProcessDirect(context.Background(), "do it", "cli", "direct")
	if err != nil {
		t.Fatalf("ProcessDirect: %v", err)
	}
	if got != "done" {
		t.Errorf("reply = %q, want done", got)
	}
	if echo.callCount() != 1 {
		t.Fatalf("tool executed %d times, want 1", echo.callCount())
	}
	if fx.provider.calls() != 2 {
		t.Fatalf("provider called %d times, want 2", fx.provider.calls())
	}

	second := fx.provider.request(1)
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.Content != "pong" || last.ToolCallID != "tc-echo" {
		t.Errorf("tool result message = %+v", last)
	}
	assistant := second.Messages[len(second.Messages)-2]
	if assistant.Role != "assistant" || len(assistant.ToolCalls) != 1 {
		t.Errorf("assistant message before result = %+v", assistant)
	}
}

func TestLoop_ToolFailureFeedsModel(t *testing.T) {
	fx := newTestLoop(t, callTool("flaky", nil), reply("recovered"))
	fx.registry.Register(&fakeTool{name: "flaky", err: errors.New("boom")})

	got, err := fx.loop.ProcessDirect(context.Background(), "go", "cli", "direct")
	if err != nil {
		t.Fatalf("tool failure must not fail the loop: %v", err)
	}
	if got != "recovered" {
		t.Errorf("reply = %q, want recovered", got)
	}

	second := fx.provider.request(1)
	last := second.Messages[len(second.Messages)-1]
	if last.Content != "Error executing flaky: boom" {
		t.Errorf("tool result = %q", last.Content)
	}
}

func TestLoop_UnknownToolReportedAsMissing(t *testing.T) {
	fx := newTestLoop(t, callTool("ghost", nil), reply("ok"))

	if _, err := fx.loop.ProcessDirect(context.Background(), "go", "cli", "direct"); err != nil {
		t.Fatalf("ProcessDirect: %v", err)
	}

	second := fx.provider.request(1)
	last := second.Messages[len(second.Messages)-1]
	if last.Content != "Error: Tool 'ghost' not found" {
		t.Errorf("tool result = %q", last.Content)
	}
}

func TestLoop_RoundLimitFallback(t *testing.T) {
	fx := newTestLoop(t,
		callTool("echo", nil),
		callTool("echo", nil),
		callTool("echo", nil),
		callTool("echo", nil),
	)
	fx.registry.Register(&fakeTool{name: "echo", result: "x"})
	fx.loop.maxRounds = 3

	got, err := fx.loop.ProcessDirect(context.Background(), "loop forever", "cli", "direct")
	if err != nil {
		t.Fatalf("ProcessDirect: %v", err)
	}
	if got != exhaustedReply {
		t.Errorf("reply = %q, want fallback", got)
	}
	if fx.provider.calls() != 3 {
		t.Errorf("provider called %d times, want 3", fx.provider.calls())
	}
}

func TestLoop_ProviderErrorTerminal(t *testing.T) {
	fx := newTestLoop(t, scriptStep{err: errors.New("api down")})

	_, err := fx.loop.ProcessDirect(context.Background(), "hi", "cli", "direct")
	if err == nil || !strings.Contains(err.Error(), "api down") {
		t.Fatalf("err = %v, want api down", err)
	}
	if fx.provider.calls() != 1 {
		t.Errorf("provider called %d times, want 1 (no retry)", fx.provider.calls())
	}
}

func TestLoop_ProcessMessagePublishesErrorReply(t *testing.T) {
	fx := newTestLoop(t, scriptStep{err: errors.New("api down")})

	fx.loop.processMessage(context.Background(), userMsg("hi"))

	out := consumeOutbound(t, fx.bus)
	if !strings.HasPrefix(out.Content, "Sorry, I ran into an error:") {
		t.Errorf("error reply = %q", out.Content)
	}
	if out.Channel != "telegram" || out.ChatID != "42" {
		t.Errorf("error reply addressed to %s:%s", out.Channel, out.ChatID)
	}
}

func TestLoop_CommandShortCircuit(t *testing.T) {
	fx := newTestLoop(t)

	fx.loop.processMessage(context.Background(), userMsg("/help"))

	out := consumeOutbound(t, fx.bus)
	if !strings.Contains(out.Content, "GigaBot Commands") {
		t.Errorf("help output = %q", out.Content)
	}
	if fx.provider.calls() != 0 {
		t.Errorf("provider called %d times for a command, want 0", fx.provider.calls())
	}
}

func TestLoop_HeartbeatOKSuppressed(t *testing.T) {
	fx := newTestLoop(t, reply("HEARTBEAT_OK"))

	msg := userMsg("heartbeat check")
	msg.SenderID = "heartbeat"
	fx.loop.processMessage(context.Background(), msg)

	if n := fx.bus.OutboundSize(); n != 0 {
		t.Errorf("outbound size = %d, want 0 (reply suppressed)", n)
	}
}

func TestLoop_HeartbeatAlertDelivered(t *testing.T) {
	fx := newTestLoop(t, reply("Disk is almost full on the server."))

	msg := userMsg("heartbeat check")
	msg.SenderID = "heartbeat"
	fx.loop.processMessage(context.Background(), msg)

	out := consumeOutbound(t, fx.bus)
	if out.Content != "Disk is almost full on the server." {
		t.Errorf("heartbeat alert = %q", out.Content)
	}
}

func TestLoop_PersonaFilterHidesTools(t *testing.T) {
	fx := newTestLoop(t, callTool("exec", nil), reply("ok"))
	execTool := &fakeTool{name: "exec", result: "ran"}
	fx.registry.Register(execTool)
	fx.registry.Register(&fakeTool{name: "echo", result: "pong"})
	fx.loop.SetActivePersona(persona.Persona{
		Name:         "safe",
		SystemPrompt: "You are careful.",
		AllowedTools: []string{"echo"},
	})

	if _, err := fx.loop.ProcessDirect(context.Background(), "run something", "cli", "direct"); err != nil {
		t.Fatalf("ProcessDirect: %v", err)
	}

	if execTool.callCount() != 0 {
		t.Errorf("filtered tool executed %d times, want 0", execTool.callCount())
	}
	first := fx.provider.request(0)
	if len(first.Tools) != 1 || first.Tools[0].Name != "echo" {
		t.Errorf("offered tools = %+v, want only echo", first.Tools)
	}
	second := fx.provider.request(1)
	last := second.Messages[len(second.Messages)-1]
	if last.Content != "Error: Tool 'exec' not found" {
		t.Errorf("filtered call result = %q", last.Content)
	}
}

func TestLoop_SequentialToolOrder(t *testing.T) {
	step := scriptStep{resp: &domain.ChatResponse{ToolCalls: []domain.ToolCall{
		{ID: "t1", Name: "first", Arguments: nil},
		{ID: "t2", Name: "second", Arguments: nil},
	}}}
	fx := newTestLoop(t, step, reply("ok"))

	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}
	fx.registry.Register(&fakeTool{name: "first", result: "1", onExecute: record("first")})
	fx.registry.Register(&fakeTool{name: "second", result: "2", onExecute: record("second")})

	if _, err := fx.loop.ProcessDirect(context.Background(), "both", "cli", "direct"); err != nil {
		t.Fatalf("ProcessDirect: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("execution order = %v, want [first second]", order)
	}

	second := fx.provider.request(1)
	n := len(second.Messages)
	if second.Messages[n-2].ToolCallID != "t1" || second.Messages[n-1].ToolCallID != "t2" {
		t.Errorf("result order = %q then %q, want t1 then t2",
			second.Messages[n-2].ToolCallID, second.Messages[n-1].ToolCallID)
	}
}

func TestLoop_VoiceNoteMediaAttached(t *testing.T) {
	fx := newTestLoop(t,
		callTool("voice_note", map[string]any{"text": "hi"}),
		reply("Sent you a voice note."),
	)
	fx.registry.Register(&fakeTool{name: "voice_note", result: "Voice note saved: /tmp/note.ogg"})

	fx.loop.processMessage(context.Background(), userMsg("say hi out loud"))

	out := consumeOutbound(t, fx.bus)
	if len(out.Media) != 1 || out.Media[0] != "/tmp/note.ogg" {
		t.Errorf("media = %v, want the synthesized note", out.Media)
	}
	if out.Content != "Sent you a voice note." {
		t.Errorf("content = %q", out.Content)
	}
}

func TestLoop_PersistsFullTranscript(t *testing.T) {
	fx := newTestLoop(t,
		callTool("echo", map[string]any{"text": "x"}),
		reply("done"),
	)
	fx.registry.Register(&fakeTool{name: "echo", result: "pong"})

	if _, err := fx.loop.ProcessDirect(context.Background(), "go", "cli", "direct"); err != nil {
		t.Fatalf("ProcessDirect: %v", err)
	}

	roles := fx.store.recordRoles("cli:direct")
	want := []string{"user", "assistant", "tool", "assistant"}
	if fmt.Sprint(roles) != fmt.Sprint(want) {
		t.Errorf("persisted roles = %v, want %v", roles, want)
	}
}

func TestLoop_RunConsumesInbound(t *testing.T) {
	fx := newTestLoop(t, reply("pong"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fx.loop.Run(ctx)

	fx.bus.PublishInbound(userMsg("ping"))

	out := consumeOutbound(t, fx.bus)
	if out.Content != "pong" {
		t.Errorf("reply = %q, want pong", out.Content)
	}
}
