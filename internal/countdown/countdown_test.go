package countdown

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	kit "readerbot/internal/transport"
	"readerbot/internal/transport/transporttest"
	logx "readerbot/pkg/logx"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestCountdownEditsUntilStopped(t *testing.T) {
	t.Parallel()
	rec := transporttest.New()
	n := New(rec, logx.Nop()).WithTick(5 * time.Millisecond)

	h := n.Start(context.Background(), kit.ChatTarget{ChatID: 1}, "Formatting", 3*time.Second)
	waitFor(t, func() bool { return len(rec.Edits()) >= 3 })
	h.Stop()
	h.Stop()

	sent := rec.Sent()
	if len(sent) != 1 || !strings.Contains(sent[0].Text, "3 s") {
		t.Fatalf("initial message = %+v", sent)
	}
	edits := rec.Edits()
	if len(edits) != 3 {
		t.Fatalf("edits = %d, want 3", len(edits))
	}
	if !strings.Contains(edits[0].Text, "2 s") {
		t.Fatalf("first edit = %q", edits[0].Text)
	}
	if del := rec.Deleted(); len(del) != 1 || del[0] != sent[0].Ref {
		t.Fatalf("deleted = %v, want %v", del, sent[0].Ref)
	}
}

func TestCountdownIgnoresNotModified(t *testing.T) {
	t.Parallel()
	rec := transporttest.New()
	var calls atomic.Int32
	rec.OnEdit = func(string) error {
		if calls.Add(1) == 1 {
			return kit.ErrNotModified
		}
		return nil
	}
	n := New(rec, logx.Nop()).WithTick(2 * time.Millisecond)
	h := n.Start(context.Background(), kit.ChatTarget{ChatID: 1}, "x", 4*time.Second)
	waitFor(t, func() bool { return calls.Load() >= 4 })
	h.Stop()

	if got := len(rec.Edits()); got != 3 {
		t.Fatalf("recorded edits = %d, want 3", got)
	}
}

func TestCountdownAbortsOnEditFailure(t *testing.T) {
	t.Parallel()
	rec := transporttest.New()
	var calls atomic.Int32
	rec.OnEdit = func(string) error {
		calls.Add(1)
		return errors.New("bad request: message to edit not found")
	}
	n := New(rec, logx.Nop()).WithTick(2 * time.Millisecond)
	h := n.Start(context.Background(), kit.ChatTarget{ChatID: 1}, "x", 10*time.Second)
	waitFor(t, func() bool { return calls.Load() >= 1 })
	time.Sleep(20 * time.Millisecond)
	h.Stop()

	if got := calls.Load(); got != 1 {
		t.Fatalf("edit attempts = %d, want 1", got)
	}
}

func TestRunStopsCountdownWhenWorkEnds(t *testing.T) {
	t.Parallel()
	rec := transporttest.New()
	n := New(rec, logx.Nop()).WithTick(time.Hour)

	got, err := Run(context.Background(), n, kit.ChatTarget{ChatID: 9}, "Narrating", 30*time.Second,
		func(context.Context) (string, error) { return "ok", nil })
	if err != nil || got != "ok" {
		t.Fatalf("Run = %q, %v", got, err)
	}
	if len(rec.Deleted()) != 1 {
		t.Fatal("countdown message was not removed")
	}
	if len(rec.Edits()) != 0 {
		t.Fatal("countdown kept ticking after work finished")
	}
}

func TestFailedInitialSendIsNoop(t *testing.T) {
	t.Parallel()
	rec := transporttest.New()
	rec.OnSend = func(string, kit.SendOptions) error { return errors.New("blocked") }
	n := New(rec, logx.Nop())
	h := n.Start(context.Background(), kit.ChatTarget{ChatID: 1}, "x", time.Second)
	h.Stop()
	if len(rec.Deleted()) != 0 {
		t.Fatal("nothing should be deleted")
	}
}

// syncBuffer guards a bytes.Buffer shared with a logger.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFailedDeleteIsLogged(t *testing.T) {
	t.Parallel()
	rec := transporttest.New()
	rec.OnDelete = func(kit.MessageRef) error { return errors.New("message can't be deleted") }
	var out syncBuffer
	n := New(rec, logx.NewWriter(&out, "debug")).WithTick(time.Hour)

	h := n.Start(context.Background(), kit.ChatTarget{ChatID: 1}, "x", time.Second)
	h.Stop()
	h.Stop()

	logs := out.String()
	if strings.Count(logs, "countdown delete failed") != 1 {
		t.Fatalf("logs = %q", logs)
	}
	if !strings.Contains(logs, `"level":"debug"`) || !strings.Contains(logs, "message can't be deleted") {
		t.Fatalf("logs = %q", logs)
	}
}
