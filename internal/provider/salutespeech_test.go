package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestSalute(t *testing.T, mux *http.ServeMux) *SaluteSpeech {
	t.Helper()
	mux.HandleFunc("/oauth", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "speech-tok",
			"expires_at":   time.Now().Add(30 * time.Minute).UnixMilli(),
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	s, err := NewSaluteSpeech(SaluteSpeechConfig{
		Credentials: "creds",
		APIBase:     server.URL,
		AuthURL:     server.URL + "/oauth",
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("NewSaluteSpeech: %v", err)
	}
	return s
}

func TestSaluteSpeech_Recognize(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	mux := http.NewServeMux()
	mux.HandleFunc("/speech:recognize", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer speech-tok" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(map[string]any{"result": []string{"привет", "мир"}, "status": 200})
	})
	s := newTestSalute(t, mux)

	text, err := s.Recognize(context.Background(), []byte("OggS-audio"), "")
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if text != "привет мир" {
		t.Errorf("text = %q", text)
	}
	if gotContentType != "audio/ogg;codecs=opus" {
		t.Errorf("content type = %q", gotContentType)
	}
	if string(gotBody) != "OggS-audio" {
		t.Errorf("body = %q", gotBody)
	}
}

func TestSaluteSpeech_RecognizeEmptyResult(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/speech:recognize", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": []string{}})
	})
	s := newTestSalute(t, mux)

	if _, err := s.Recognize(context.Background(), []byte("x"), ""); err == nil {
		t.Fatal("expected error for empty transcription")
	}
}

func TestSaluteSpeech_Synthesize(t *testing.T) {
	var gotVoice, gotFormat, gotText string
	mux := http.NewServeMux()
	mux.HandleFunc("/text:synthesize", func(w http.ResponseWriter, r *http.Request) {
		gotVoice = r.URL.Query().Get("voice")
		gotFormat = r.URL.Query().Get("format")
		body, _ := io.ReadAll(r.Body)
		gotText = string(body)
		w.Write([]byte("OggS-rendered"))
	})
	s := newTestSalute(t, mux)

	audio, err := s.Synthesize(context.Background(), "добрый день", "Bys_24000")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "OggS-rendered" {
		t.Errorf("audio = %q", audio)
	}
	if gotVoice != "Bys_24000" || gotFormat != "opus" {
		t.Errorf("voice = %q format = %q", gotVoice, gotFormat)
	}
	if gotText != "добрый день" {
		t.Errorf("text = %q", gotText)
	}
}

func TestSaluteSpeech_SynthesizeDefaultVoice(t *testing.T) {
	var gotVoice string
	mux := http.NewServeMux()
	mux.HandleFunc("/text:synthesize", func(w http.ResponseWriter, r *http.Request) {
		gotVoice = r.URL.Query().Get("voice")
		w.Write([]byte("x"))
	})
	s := newTestSalute(t, mux)

	if _, err := s.Synthesize(context.Background(), "hi", ""); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotVoice != "Nec_24000" {
		t.Errorf("voice = %q, want default", gotVoice)
	}
}

func TestSaluteSpeech_ErrorStatusSurfaces(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/speech:recognize", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "audio too long", http.StatusBadRequest)
	})
	s := newTestSalute(t, mux)

	_, err := s.Recognize(context.Background(), []byte("x"), "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("err = %v", err)
	}
}
