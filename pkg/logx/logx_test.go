package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	kit "readerbot/internal/transport"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []string
	to   []kit.ChatTarget
}

func (c *captureSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, text)
	c.to = append(c.to, to)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (c *captureSender) wait(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := append([]string(nil), c.msgs...)
		c.mu.Unlock()
		if len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages", n)
	return nil
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.With(Chat(1)).Info("ignored", String("k", "v"))
	if Nop().IsZero() {
		t.Fatal("Nop logger must not be zero")
	}
	if Nop().Enabled(LevelError) {
		t.Fatal("Nop logger must be disabled")
	}
}

func TestTelegramSinkMirrorsWarnings(t *testing.T) {
	t.Parallel()
	sender := &captureSender{}
	svc, log := New(Config{Level: "debug"}, sender)
	defer svc.Close()

	svc.SetTelegramTarget(-100, 7)
	svc.Apply(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100},
	})

	log.Info("not mirrored")
	log.With(Book(3)).Warn("fragment <missing>", String("title", "Dune & Co"))

	msgs := sender.wait(t, 1)
	got := msgs[0]
	for _, want := range []string{"<b>WARN</b> fragment &lt;missing&gt;", "<code>book_id</code> 3", "<code>title</code> Dune &amp; Co"} {
		if !strings.Contains(got, want) {
			t.Fatalf("message %q lacks %q", got, want)
		}
	}
	sender.mu.Lock()
	to := sender.to[0]
	sender.mu.Unlock()
	if to.ChatID != -100 || to.ThreadID != 7 {
		t.Fatalf("target=%+v", to)
	}
}

func TestLoggerFollowsApply(t *testing.T) {
	t.Parallel()
	svc, log := New(Config{Level: "info"}, nil)
	defer svc.Close()
	child := log.With(String("comp", "test"))

	if child.Enabled(LevelDebug) {
		t.Fatal("debug should be off at info")
	}
	svc.Apply(Config{Level: "debug"})
	if !child.Enabled(LevelDebug) {
		t.Fatal("derived logger did not follow Apply")
	}
}

func TestRenderTelegram(t *testing.T) {
	t.Parallel()
	if got := renderTelegram([]byte("  plain <line> \n")); got != "plain &lt;line&gt;" {
		t.Fatalf("got %q", got)
	}

	long := `{"level":"error","message":"boom","a":"` + strings.Repeat("x", 400) + `","b":"` +
		strings.Repeat("y", 400) + `","c":"` + strings.Repeat("z", 400) + `","d":"` +
		strings.Repeat("w", 400) + `","e":"` + strings.Repeat("v", 400) + `","f":"` +
		strings.Repeat("u", 400) + `","g":"` + strings.Repeat("t", 400) + `","h":"` +
		strings.Repeat("s", 400) + `","i":"` + strings.Repeat("r", 400) + `"}`
	got := renderTelegram([]byte(long))
	if len(got) > telegramMaxLen+4 || !strings.HasSuffix(got, "\n…") {
		t.Fatalf("len=%d suffix=%q", len(got), got[len(got)-8:])
	}
	if strings.Count(got, "<code>") != strings.Count(got, "</code>") {
		t.Fatal("truncation split a tag")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"WARNING", LevelWarn},
		{" error ", LevelError},
		{"", LevelInfo},
		{"nonsense", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in, LevelInfo); got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
