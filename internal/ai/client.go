// Package ai talks to an OpenAI-compatible chat endpoint for fragment
// formatting and speech synthesis.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	logx "readerbot/pkg/logx"
)

const (
	DefaultBaseURL    = "https://text.pollinations.ai/"
	DefaultTextModel  = "openai"
	DefaultAudioModel = "openai-audio"
	DefaultVoice      = "Alloy"

	// MaxDisplayChars is Telegram's message length limit.
	MaxDisplayChars = 4096

	formatPrompt = "You are an assistant that formats text for better readability in Telegram using HTML. " +
		"Add logical paragraphs, <b>bold</b>, <i>italic</i>, <code>monospace</code>, <u>underline</u>, and emojis where appropriate. " +
		"Ensure the text is properly formatted and does not exceed 4096 characters. Return only the formatted text."
	speechPrompt = "You are a text-to-speech system. Read the provided text exactly as it is written, " +
		"without summarizing, paraphrasing, or modifying it in any way."
)

// Voices are the synthesis voices offered to subscribers.
var Voices = []string{"Alloy", "Echo", "Fable", "Nova", "Onyx", "Shimmer", "Coral", "Verse", "Ballad", "Ash", "Sage", "Amuch", "Dan"}

// IsVoice reports whether v names one of Voices (case-insensitive).
func IsVoice(v string) bool {
	for _, x := range Voices {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}

type Config struct {
	BaseURL    string
	APIKey     string
	TextModel  string
	AudioModel string
	Timeout    time.Duration
	RatePerSec float64 // 0 disables throttling
}

// Formatter beautifies a fragment for display.
type Formatter interface {
	FormatForDisplay(ctx context.Context, text string) (string, error)
}

// Synthesizer renders a fragment as speech.
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, text, voice string) ([]byte, error)
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TextModel == "" {
		cfg.TextModel = DefaultTextModel
	}
	if cfg.AudioModel == "" {
		cfg.AudioModel = DefaultAudioModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
	if cfg.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Voice    string        `json:"voice,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// FormatForDisplay returns an HTML rendition of text, capped at
// MaxDisplayChars runes.
func (c *Client) FormatForDisplay(ctx context.Context, text string) (string, error) {
	body, err := c.post(ctx, chatRequest{
		Model: c.cfg.TextModel,
		Messages: []chatMessage{
			{Role: "system", Content: formatPrompt},
			{Role: "user", Content: "Please format the following text: " + text},
		},
	})
	if err != nil {
		return "", err
	}
	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode format response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", errors.New("empty format response")
	}
	formatted := out.Choices[0].Message.Content
	if utf8.RuneCountInString(formatted) > MaxDisplayChars {
		c.log.Warn("formatted text truncated", logx.Int("len", utf8.RuneCountInString(formatted)))
		formatted = string([]rune(formatted)[:MaxDisplayChars])
	}
	return formatted, nil
}

// SynthesizeSpeech returns the raw audio body for text read by voice.
func (c *Client) SynthesizeSpeech(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		voice = DefaultVoice
	}
	body, err := c.post(ctx, chatRequest{
		Model: c.cfg.AudioModel,
		Messages: []chatMessage{
			{Role: "system", Content: speechPrompt},
			{Role: "user", Content: text},
		},
		Voice: strings.ToLower(voice),
	})
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New("empty audio response")
	}
	c.log.Info("audio generated", logx.String("voice", voice), logx.Int("bytes", len(body)))
	return body, nil
}

func (c *Client) post(ctx context.Context, payload chatRequest) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ai request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ai api error: %s: %s", resp.Status, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
