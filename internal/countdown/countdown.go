// Package countdown shows a transient "please wait" message while a slow
// external call runs, and removes it as soon as the call finishes.
package countdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"readerbot/internal/domain"
	kit "readerbot/internal/transport"
	logx "readerbot/pkg/logx"
)

const (
	DefaultFormatWait = 10 * time.Second
	DefaultAudioWait  = 30 * time.Second
)

type Notifier struct {
	sender kit.Sender
	tick   time.Duration
	log    logx.Logger
}

func New(sender kit.Sender, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{sender: sender, tick: time.Second, log: log}
}

// WithTick overrides the one-second step (tests).
func (n *Notifier) WithTick(d time.Duration) *Notifier {
	if d > 0 {
		n.tick = d
	}
	return n
}

// Handle is a running countdown.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	sender kit.Sender
	log    logx.Logger
	mu     sync.Mutex
	ref    kit.MessageRef
	sent   bool
}

// Start sends the initial message and decrements it once per tick for up
// to total. It never blocks the caller on transport failures: a failed
// initial send yields a Handle whose Stop is a no-op.
func (n *Notifier) Start(ctx context.Context, to kit.ChatTarget, label string, total time.Duration) *Handle {
	cctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{}), sender: n.sender, log: n.log}

	steps := int(total / time.Second)
	if steps <= 0 {
		steps = 1
	}
	ref, err := n.sender.SendText(cctx, to, render(label, steps), nil)
	if err != nil {
		n.log.Debug("countdown send failed", logx.Err(err))
		close(h.done)
		return h
	}
	h.mu.Lock()
	h.ref, h.sent = ref, true
	h.mu.Unlock()

	go func() {
		defer close(h.done)
		t := time.NewTicker(n.tick)
		defer t.Stop()
		for left := steps - 1; left >= 0; left-- {
			select {
			case <-cctx.Done():
				return
			case <-t.C:
			}
			err := n.sender.EditText(cctx, ref, render(label, left), nil)
			if err == nil || errors.Is(err, kit.ErrNotModified) {
				continue
			}
			if cctx.Err() != nil {
				return
			}
			n.log.Debug("countdown aborted", logx.Err(fmt.Errorf("%w: %v", domain.ErrNotificationEdit, err)))
			return
		}
	}()
	return h
}

// Stop cancels the countdown and deletes its message. Safe to call more
// than once and on a nil Handle.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.cancel()
		<-h.done
		h.mu.Lock()
		ref, sent := h.ref, h.sent
		h.mu.Unlock()
		if !sent {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.sender.DeleteMessage(ctx, ref); err != nil {
			h.log.Debug("countdown delete failed", logx.Int("message_id", ref.MessageID), logx.Err(err))
		}
	})
}

// Run executes fn while a countdown is shown and removes the countdown when
// fn returns.
func Run[T any](ctx context.Context, n *Notifier, to kit.ChatTarget, label string, total time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if n == nil {
		return fn(ctx)
	}
	h := n.Start(ctx, to, label, total)
	defer h.Stop()
	return fn(ctx)
}

func render(label string, secondsLeft int) string {
	if secondsLeft <= 0 {
		return fmt.Sprintf("⏳ %s, almost done...", label)
	}
	return fmt.Sprintf("⏳ %s, please wait (%d s)", label, secondsLeft)
}
