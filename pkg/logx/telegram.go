package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "readerbot/internal/transport"
	"readerbot/pkg/tgui"
)

// TextSender is the transport subset the operator sink needs.
type TextSender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

const (
	telegramMaxLen   = 3500
	telegramValueRunes = 400
	telegramSendWait   = 10 * time.Second
)

// telegramSink is a zerolog.LevelWriter that renders each line as a short
// HTML message and hands it to a single sender goroutine. Writes never block.
type telegramSink struct {
	sender TextSender
	queue  chan string

	mu       sync.Mutex
	enabled  bool
	target   kit.ChatTarget
	minLevel Level
	limiter  *rate.Limiter
	warned   bool

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func newTelegramSink(sender TextSender) *telegramSink {
	return &telegramSink{
		sender: sender,
		queue:  make(chan string, 256),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (t *telegramSink) setTarget(chatID int64, threadID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.target.ChatID = chatID
	if threadID != 0 {
		t.target.ThreadID = threadID
	}
}

func (t *telegramSink) configure(enabled bool, threadID int, minLevel Level, perSec rate.Limit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	if threadID != 0 {
		t.target.ThreadID = threadID
	}
	t.minLevel = minLevel
	t.limiter = rate.NewLimiter(perSec, int(perSec))
	if !enabled || t.sender == nil {
		return
	}
	if t.target.ChatID == 0 && !t.warned {
		t.warned = true
		fmt.Fprintln(os.Stderr, "logx: telegram logging enabled but telegram.group_log is not set")
	}
	t.startOnce.Do(func() { go t.run() })
}

func (t *telegramSink) Write(p []byte) (int, error) { return t.WriteLevel(LevelInfo, p) }

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	ok := t.enabled && t.sender != nil && t.target.ChatID != 0 &&
		level >= t.minLevel && t.limiter != nil && t.limiter.Allow()
	t.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if msg := renderTelegram(p); msg != "" {
		select {
		case t.queue <- msg:
		default:
		}
	}
	return len(p), nil
}

func (t *telegramSink) run() {
	defer close(t.done)
	for {
		select {
		case <-t.stop:
			return
		case msg := <-t.queue:
			t.mu.Lock()
			to := t.target
			t.mu.Unlock()
			ctx, cancel := context.WithTimeout(context.Background(), telegramSendWait)
			_, _ = t.sender.SendText(ctx, to, msg, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
			cancel()
		}
	}
}

func (t *telegramSink) close() {
	t.stopOnce.Do(func() {
		close(t.stop)
		started := true
		// Mark as started so a later configure cannot spawn a worker.
		t.startOnce.Do(func() { started = false })
		if started {
			<-t.done
		}
	})
}

// renderTelegram turns a zerolog JSON line into
//
//	<b>WARN</b> message
//	<code>key</code> value
//
// Lines that are not JSON are sent escaped and truncated.
func renderTelegram(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return string(tgui.Esc(tgui.TruncRunes(strings.TrimSpace(string(p)), telegramMaxLen)))
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString(tgui.B(strings.ToUpper(lvl)).String())
		b.WriteByte(' ')
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(tgui.Esc(tgui.TruncRunes(msg, telegramValueRunes)).String())

	// Whole lines are dropped once the budget is spent so no tag is cut.
	for _, k := range slices.Sorted(maps.Keys(m)) {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
			continue
		}
		v := fmt.Sprint(m[k])
		line := "\n" + tgui.Code(k).String() + " " + tgui.Esc(tgui.TruncRunes(v, telegramValueRunes)).String()
		if k == "stack" {
			line = "\n" + tgui.Code(tgui.TruncRunes(v, 900)).String()
		}
		if b.Len()+len(line) > telegramMaxLen {
			b.WriteString("\n…")
			break
		}
		b.WriteString(line)
	}
	return b.String()
}
