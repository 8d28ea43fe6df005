package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SaluteSpeech is the Sber speech API client: speech-to-text for
// incoming voice messages and text-to-speech for the voice_note tool.
// Auth is the same NGW OAuth flow as GigaChat with its own scope.
type SaluteSpeech struct {
	apiBase string
	model   string
	tokens  *tokenSource
	client  *http.Client
	logger  *slog.Logger
}

type SaluteSpeechConfig struct {
	Credentials string
	Scope       string
	Model       string // STT model, e.g. "general"
	APIBase     string
	AuthURL     string
	Timeout     time.Duration
	TLS         TLSOptions
	Logger      *slog.Logger
}

func NewSaluteSpeech(cfg SaluteSpeechConfig) (*SaluteSpeech, error) {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://smartspeech.sber.ru/rest/v1"
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	}
	if cfg.Scope == "" {
		cfg.Scope = "SALUTE_SPEECH_PERS"
	}
	if cfg.Model == "" {
		cfg.Model = "general"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	client, err := newHTTPClient(cfg.Timeout, cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("salutespeech http client: %w", err)
	}
	return &SaluteSpeech{
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		tokens:  newTokenSource(cfg.AuthURL, cfg.Credentials, cfg.Scope, client, cfg.Logger),
		client:  client,
		logger:  cfg.Logger,
	}, nil
}

// Recognize transcribes audio. contentType describes the payload, e.g.
// "audio/ogg;codecs=opus" for Telegram voice notes.
func (s *SaluteSpeech) Recognize(ctx context.Context, audio []byte, contentType string) (string, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("salutespeech auth: %w", err)
	}
	if contentType == "" {
		contentType = "audio/ogg;codecs=opus"
	}

	endpoint := fmt.Sprintf("%s/speech:recognize?model=%s", s.apiBase, url.QueryEscape(s.model))
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("recognize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		s.tokens.Invalidate()
		return "", fmt.Errorf("salutespeech: token rejected")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("salutespeech %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Result []string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode recognition: %w", err)
	}
	if len(payload.Result) == 0 {
		return "", fmt.Errorf("salutespeech returned no transcription")
	}
	return strings.Join(payload.Result, " "), nil
}

// Synthesize renders text as OGG Opus audio suitable for messenger
// voice notes.
func (s *SaluteSpeech) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("salutespeech auth: %w", err)
	}
	if voice == "" {
		voice = "Nec_24000"
	}

	endpoint := fmt.Sprintf("%s/text:synthesize?voice=%s&format=opus", s.apiBase, url.QueryEscape(voice))
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(text))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/text")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		s.tokens.Invalidate()
		return nil, fmt.Errorf("salutespeech: token rejected")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("salutespeech %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}
