package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebFetchTool_StripsHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><h1>Title</h1>\n<p>Some text</p></body></html>"))
	}))
	defer server.Close()

	ft := NewWebFetchTool(WebFetchConfig{})
	result, err := ft.Execute(context.Background(), map[string]any{"url": server.URL})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.Contains(result, "<") {
		t.Errorf("expected tags stripped, got %q", result)
	}
	if !strings.Contains(result, "Title") || !strings.Contains(result, "Some text") {
		t.Errorf("expected text content preserved, got %q", result)
	}
}

func TestWebFetchTool_RejectsBadScheme(t *testing.T) {
	ft := NewWebFetchTool(WebFetchConfig{})
	_, err := ft.Execute(context.Background(), map[string]any{"url": "file:///etc/passwd"})
	if err == nil {
		t.Fatal("expected error for file:// scheme")
	}
	if !strings.Contains(err.Error(), "scheme") {
		t.Errorf("expected scheme error, got %v", err)
	}
}

func TestWebFetchTool_MissingURL(t *testing.T) {
	ft := NewWebFetchTool(WebFetchConfig{})
	if _, err := ft.Execute(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestWebFetchTool_RespectsMaxBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 4096)))
	}))
	defer server.Close()

	ft := NewWebFetchTool(WebFetchConfig{MaxBytes: 100})
	result, err := ft.Execute(context.Background(), map[string]any{"url": server.URL})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result) > 200 {
		t.Errorf("expected body capped near 100 bytes, got %d", len(result))
	}
}

func TestWebFetchTool_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	ft := NewWebFetchTool(WebFetchConfig{})
	if _, err := ft.Execute(context.Background(), map[string]any{"url": server.URL}); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

type stubRenderer struct {
	text   string
	called bool
}

func (s *stubRenderer) FetchText(ctx context.Context, pageURL string) (string, error) {
	s.called = true
	return s.text, nil
}

func TestWebFetchTool_RenderDelegatesToRenderer(t *testing.T) {
	r := &stubRenderer{text: "rendered content"}
	ft := NewWebFetchTool(WebFetchConfig{Renderer: r})

	result, err := ft.Execute(context.Background(), map[string]any{
		"url":    "https://example.com",
		"render": true,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !r.called {
		t.Error("expected renderer to be invoked")
	}
	if result != "rendered content" {
		t.Errorf("result = %q", result)
	}
}

func TestWebFetchTool_RenderIgnoredWithoutRenderer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain fetch"))
	}))
	defer server.Close()

	ft := NewWebFetchTool(WebFetchConfig{})
	result, err := ft.Execute(context.Background(), map[string]any{"url": server.URL, "render": true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result, "plain fetch") {
		t.Errorf("expected plain HTTP fetch, got %q", result)
	}
}

func TestStripHTMLTags(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"<p>hello</p>", "hello"},
		{"no tags", "no tags"},
		{"<div>a</div>\n\n\n<div>b</div>", "a\nb"},
		{"<script>x</script>text", "xtext"},
	}
	for _, c := range cases {
		if got := stripHTMLTags(c.in); got != c.want {
			t.Errorf("stripHTMLTags(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestWebSearchTool_MissingQuery(t *testing.T) {
	st := NewWebSearchTool()
	if _, err := st.Execute(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing query")
	}
}
