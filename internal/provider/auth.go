package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// tokenSource caches an OAuth2 access token from the Sber NGW endpoint.
// GigaChat and SaluteSpeech share the flow: POST with Basic credentials,
// a fresh RqUID per request, and the scope as a form field.
type tokenSource struct {
	authURL     string
	credentials string
	scope       string
	client      *http.Client
	logger      *slog.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newTokenSource(authURL, credentials, scope string, client *http.Client, logger *slog.Logger) *tokenSource {
	return &tokenSource{
		authURL:     authURL,
		credentials: credentials,
		scope:       scope,
		client:      client,
		logger:      logger,
	}
}

// Token returns a valid access token, refreshing 60 seconds before
// expiry. Concurrent callers share one refresh.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && time.Now().Before(ts.expires) {
		return ts.token, nil
	}

	form := url.Values{"scope": {ts.scope}}
	req, err := http.NewRequestWithContext(ctx, "POST", ts.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("new auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+ts.credentials)
	req.Header.Set("RqUID", uuid.NewString())

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("oauth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("oauth %d: %s", resp.StatusCode, string(body))
	}

	// NGW returns expires_at in unix milliseconds; some deployments
	// send expires_in seconds instead.
	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode oauth response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("oauth response missing access_token")
	}

	ts.token = payload.AccessToken
	switch {
	case payload.ExpiresAt > 0:
		ts.expires = time.UnixMilli(payload.ExpiresAt).Add(-60 * time.Second)
	case payload.ExpiresIn > 0:
		ts.expires = time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - 60*time.Second)
	default:
		ts.expires = time.Now().Add(29 * time.Minute)
	}

	ts.logger.Debug("oauth token refreshed", "scope", ts.scope, "expires", ts.expires)
	return ts.token, nil
}

// Invalidate drops the cached token, forcing a refresh on next use.
func (ts *tokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.mu.Unlock()
}
