package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	logx "readerbot/pkg/logx"
)

func TestFormatForDisplay(t *testing.T) {
	t.Parallel()
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"<b>hi</b>"}}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logx.Nop())
	out, err := c.FormatForDisplay(context.Background(), "hi")
	if err != nil {
		t.Fatalf("FormatForDisplay: %v", err)
	}
	if out != "<b>hi</b>" {
		t.Fatalf("out = %q", out)
	}
	if got.Model != DefaultTextModel || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected request %+v", got)
	}
	if !strings.HasSuffix(got.Messages[1].Content, "hi") {
		t.Fatalf("user prompt = %q", got.Messages[1].Content)
	}
}

func TestFormatForDisplayTruncates(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("я", MaxDisplayChars+50)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]string{"content": long}}},
		})
	}))
	defer srv.Close()

	out, err := New(Config{BaseURL: srv.URL}, logx.Nop()).FormatForDisplay(context.Background(), "x")
	if err != nil {
		t.Fatalf("FormatForDisplay: %v", err)
	}
	if n := utf8.RuneCountInString(out); n != MaxDisplayChars {
		t.Fatalf("len = %d, want %d", n, MaxDisplayChars)
	}
}

func TestFormatForDisplayErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := New(Config{BaseURL: srv.URL}, logx.Nop()).FormatForDisplay(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestSynthesizeSpeechSendsVoice(t *testing.T) {
	t.Parallel()
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	audio, err := New(Config{BaseURL: srv.URL}, logx.Nop()).SynthesizeSpeech(context.Background(), "text", "Nova")
	if err != nil {
		t.Fatalf("SynthesizeSpeech: %v", err)
	}
	if string(audio) != "ID3audio" {
		t.Fatalf("audio = %q", audio)
	}
	if got.Voice != "nova" || got.Model != DefaultAudioModel {
		t.Fatalf("request = %+v", got)
	}
}

func TestIsVoice(t *testing.T) {
	t.Parallel()
	if !IsVoice("alloy") || !IsVoice("Dan") {
		t.Fatal("expected known voices")
	}
	if IsVoice("robot") {
		t.Fatal("unexpected voice accepted")
	}
}
