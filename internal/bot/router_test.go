package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	kit "readerbot/internal/transport"
	"readerbot/internal/transport/transporttest"
	logx "readerbot/pkg/logx"
)

func cmdUpdate(chat int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chat, Text: text}}
}

func runRouter(t *testing.T, r *Router) chan<- kit.Update {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func TestSlowChatDoesNotDelayOthers(t *testing.T) {
	t.Parallel()
	r := NewRouter(transporttest.New(), logx.Nop(), 5*time.Second, 4)

	release := make(chan struct{})
	slowStarted := make(chan struct{})
	fastDone := make(chan int64, 4)
	r.Command(Command{Name: "slow", Handle: func(ctx context.Context, req *Request) error {
		close(slowStarted)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}})
	r.Command(Command{Name: "fast", Handle: func(ctx context.Context, req *Request) error {
		fastDone <- req.SubscriberID()
		return nil
	}})
	updates := runRouter(t, r)
	defer close(release)

	updates <- cmdUpdate(1, "/slow")
	<-slowStarted
	// Chats 5 and 9 share chat 1's residue modulo 4.
	for _, c := range []int64{5, 9} {
		updates <- cmdUpdate(c, "/fast")
		select {
		case got := <-fastDone:
			if got != c {
				t.Fatalf("fast ran for chat %d, want %d", got, c)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("chat %d waited on chat 1's slow handler", c)
		}
	}
}

func TestChatUpdatesKeepOrder(t *testing.T) {
	t.Parallel()
	r := NewRouter(transporttest.New(), logx.Nop(), 5*time.Second, 0)

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{})
	r.Command(Command{Name: "step", Handle: func(ctx context.Context, req *Request) error {
		// Early steps are slower so a reordering would show.
		if len(req.Args) > 0 && req.Args[0] == "a" {
			time.Sleep(50 * time.Millisecond)
		}
		mu.Lock()
		got = append(got, req.Args[0])
		n := len(got)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		return nil
	}})
	updates := runRouter(t, r)

	for _, s := range []string{"a", "b", "c"} {
		updates <- cmdUpdate(7, "/step "+s)
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("steps not handled")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("order=%v", got)
	}
}

func TestFullChatQueueAnswersBusy(t *testing.T) {
	t.Parallel()
	rec := transporttest.New()
	r := NewRouter(rec, logx.Nop(), 5*time.Second, 1)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	r.Command(Command{Name: "hold", Handle: func(ctx context.Context, req *Request) error {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}})
	updates := runRouter(t, r)
	defer close(release)

	updates <- cmdUpdate(3, "/hold")
	<-started
	updates <- cmdUpdate(3, "/hold") // fills the single slot
	updates <- cmdUpdate(3, "/hold") // overflows

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, s := range rec.Texts() {
			if s == "Busy, try again in a moment." {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("texts=%q", rec.Texts())
}
