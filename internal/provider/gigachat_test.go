package provider

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gigabot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeSber bundles an OAuth endpoint and a chat endpoint on one server.
type fakeSber struct {
	authCalls int64
	chatCalls int64
	lastBody  []byte
	respond   func(w http.ResponseWriter)
}

func (f *fakeSber) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.authCalls, 1)
		if r.Header.Get("RqUID") == "" {
			http.Error(w, "missing RqUID", http.StatusBadRequest)
			return
		}
		if r.Header.Get("Authorization") != "Basic test-creds" {
			http.Error(w, "bad auth", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"expires_at":   time.Now().Add(30 * time.Minute).UnixMilli(),
		})
	})
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.chatCalls, 1)
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		f.lastBody, _ = io.ReadAll(r.Body)
		f.respond(w)
	})
	return mux
}

func newTestGigaChat(t *testing.T, f *fakeSber) (*GigaChat, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(f.handler())
	t.Cleanup(server.Close)

	g, err := NewGigaChat(GigaChatConfig{
		Credentials: "test-creds",
		APIBase:     server.URL,
		AuthURL:     server.URL + "/oauth",
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("NewGigaChat: %v", err)
	}
	return g, server
}

func TestGigaChat_ChatPlainReply(t *testing.T) {
	f := &fakeSber{respond: func(w http.ResponseWriter) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "hello"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12},
		})
	}}
	g, _ := newTestGigaChat(t, f)

	resp, err := g.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hello" || resp.HasToolCalls() {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestGigaChat_FunctionCallMapsToToolCall(t *testing.T) {
	f := &fakeSber{respond: func(w http.ResponseWriter) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role":    "assistant",
					"content": "",
					"function_call": map[string]any{
						"name":      "read_file",
						"arguments": map[string]any{"path": "notes.txt"},
					},
				},
				"finish_reason": "function_call",
			}},
		})
	}}
	g, _ := newTestGigaChat(t, f)

	resp, err := g.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "read my notes"}},
		Tools:    []domain.ToolDefinition{{Name: "read_file", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !resp.HasToolCalls() {
		t.Fatal("expected tool calls")
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "read_file" {
		t.Errorf("name = %q", tc.Name)
	}
	if len(tc.ID) != 8 {
		t.Errorf("expected generated 8-char id, got %q", tc.ID)
	}
	if tc.Arguments["path"] != "notes.txt" {
		t.Errorf("arguments = %v", tc.Arguments)
	}
}

func TestGigaChat_RequestCarriesFunctions(t *testing.T) {
	f := &fakeSber{respond: func(w http.ResponseWriter) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "ok"}, "finish_reason": "stop"},
			},
		})
	}}
	g, _ := newTestGigaChat(t, f)

	_, err := g.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "x"}},
		Tools: []domain.ToolDefinition{
			{Name: "exec", Description: "run a command", Parameters: map[string]any{"type": "object"}},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	var sent gcRequest
	if err := json.Unmarshal(f.lastBody, &sent); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if len(sent.Functions) != 1 || sent.Functions[0].Name != "exec" {
		t.Errorf("functions = %+v", sent.Functions)
	}
	if sent.FunctionCall != "auto" {
		t.Errorf("function_call = %q", sent.FunctionCall)
	}
}

func TestGigaChat_TokenCachedAcrossCalls(t *testing.T) {
	f := &fakeSber{respond: func(w http.ResponseWriter) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "ok"}, "finish_reason": "stop"},
			},
		})
	}}
	g, _ := newTestGigaChat(t, f)

	for i := 0; i < 3; i++ {
		if _, err := g.Chat(context.Background(), domain.ChatRequest{
			Messages: []domain.Message{{Role: "user", Content: "x"}},
		}); err != nil {
			t.Fatalf("Chat %d: %v", i, err)
		}
	}
	if n := atomic.LoadInt64(&f.authCalls); n != 1 {
		t.Errorf("auth calls = %d, want 1", n)
	}
	if n := atomic.LoadInt64(&f.chatCalls); n != 3 {
		t.Errorf("chat calls = %d, want 3", n)
	}
}

func TestGigaChat_RetriesServerError(t *testing.T) {
	var failures int64 = 1
	f := &fakeSber{}
	f.respond = func(w http.ResponseWriter) {
		if atomic.AddInt64(&failures, -1) >= 0 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "recovered"}, "finish_reason": "stop"},
			},
		})
	}
	g, _ := newTestGigaChat(t, f)

	resp, err := g.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "x"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("content = %q", resp.Content)
	}
	if n := atomic.LoadInt64(&f.chatCalls); n != 2 {
		t.Errorf("chat calls = %d, want 2", n)
	}
}

func TestToGigaChatMessages_RoleMapping(t *testing.T) {
	msgs := toGigaChatMessages([]domain.Message{
		{Role: "system", Content: "you are helpful"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", ToolCalls: []domain.ToolCall{{ID: "1", Name: "exec", Arguments: map[string]any{"command": "ls"}}}},
		{Role: "tool", Content: "file.txt", ToolCallID: "1", ToolName: "exec"},
	})

	if len(msgs) != 4 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[2].FunctionCall == nil || msgs[2].FunctionCall.Name != "exec" {
		t.Errorf("assistant message = %+v", msgs[2])
	}
	if msgs[3].Role != "function" {
		t.Errorf("tool role = %q, want function", msgs[3].Role)
	}
	if !json.Valid([]byte(msgs[3].Content)) {
		t.Errorf("function content not JSON: %q", msgs[3].Content)
	}
}

func TestEnsureJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"ok":true}`, `{"ok":true}`},
		{`plain text`, `{"result":"plain text"}`},
		{`[1,2]`, `[1,2]`},
	}
	for _, c := range cases {
		if got := ensureJSON(c.in); got != c.want {
			t.Errorf("ensureJSON(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDecodeArguments(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{"object", `{"city":"Moscow"}`, map[string]any{"city": "Moscow"}},
		{"string-wrapped object", `"{\"city\":\"Moscow\"}"`, map[string]any{"city": "Moscow"}},
		{"empty", ``, map[string]any{}},
		{"garbage string", `"not json"`, map[string]any{}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := decodeArguments(json.RawMessage(c.raw))
			if len(got) != len(c.want) {
				t.Fatalf("decodeArguments(%s) = %v, want %v", c.raw, got, c.want)
			}
			for k, v := range c.want {
				if got[k] != v {
					t.Errorf("arg %q = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestGigaChat_AuthFailureSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer server.Close()

	g, err := NewGigaChat(GigaChatConfig{
		Credentials: "wrong",
		APIBase:     server.URL,
		AuthURL:     server.URL + "/oauth",
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("NewGigaChat: %v", err)
	}
	if _, err := g.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "x"}},
	}); err == nil {
		t.Fatal("expected auth error")
	}
}
