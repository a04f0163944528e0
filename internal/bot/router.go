// Package bot routes chat updates (commands, reply-keyboard buttons, inline
// callbacks, uploads and web-app data) to the reading services.
package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "readerbot/internal/runtime/supervisor"
	kit "readerbot/internal/transport"
	logx "readerbot/pkg/logx"
	"readerbot/pkg/tgui"
)

// Request is one routed update. The subscriber is the chat.
type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Route   string
	Text    string   // message text (or caption)
	Args    []string // command arguments
	Payload string   // callback payload
	ReqID   string
	Logger  logx.Logger

	// Answer is shown as the callback toast after the handler returns.
	Answer string
}

func (r *Request) SubscriberID() int64 { return r.Chat.ChatID }

type Command struct {
	Name        string // without the leading slash
	Description string
	Timeout     time.Duration
	Handle      HandlerFunc
}

type CallbackRoute struct {
	Scope   string
	Action  string
	Timeout time.Duration
	Handle  HandlerFunc
}

type Router struct {
	adapter kit.Adapter
	log     logx.Logger
	timeout time.Duration

	mu        sync.RWMutex
	commands  map[string]Command
	order     []string
	buttons   map[string]HandlerFunc
	callbacks map[string]CallbackRoute
	documents HandlerFunc
	webApp    HandlerFunc
	text      HandlerFunc

	queueDepth int
}

// NewRouter creates a router. timeout bounds each handler unless a route sets
// its own; queueDepth caps one chat's pending updates (<= 0 picks 16).
func NewRouter(adapter kit.Adapter, log logx.Logger, timeout time.Duration, queueDepth int) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if queueDepth <= 0 {
		queueDepth = 16
	}
	return &Router{
		adapter:    adapter,
		log:        log,
		timeout:    timeout,
		commands:   map[string]Command{},
		buttons:    map[string]HandlerFunc{},
		callbacks:  map[string]CallbackRoute{},
		queueDepth: queueDepth,
	}
}

func (r *Router) Command(c Command) {
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Name), "/"))
	if name == "" || c.Handle == nil {
		return
	}
	c.Name = name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[name]; !ok {
		r.order = append(r.order, name)
	}
	r.commands[name] = c
}

// Button routes a reply-keyboard label (exact text match).
func (r *Router) Button(label string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buttons[label] = h
}

func (r *Router) Callback(c CallbackRoute) {
	if c.Scope == "" || c.Action == "" || c.Handle == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[c.Scope+":"+c.Action] = c
}

func (r *Router) OnDocument(h HandlerFunc) { r.mu.Lock(); r.documents = h; r.mu.Unlock() }
func (r *Router) OnWebApp(h HandlerFunc)   { r.mu.Lock(); r.webApp = h; r.mu.Unlock() }

// OnText handles plain text that is neither a command nor a button.
func (r *Router) OnText(h HandlerFunc) { r.mu.Lock(); r.text = h; r.mu.Unlock() }

// Commands lists registered commands in registration order for the chat menu.
func (r *Router) Commands() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, kit.BotCommand{Command: name, Description: r.commands[name].Description})
	}
	return out
}

// chatIdle is how long a chat's queue goroutine lingers with nothing to do.
const chatIdle = 30 * time.Second

// chatQueue holds one chat's pending updates. Its goroutine exists only
// while the chat has work or was active within chatIdle.
type chatQueue struct {
	jobs chan kit.Update
}

// Run consumes updates until ctx is done or updates is closed. Each chat
// gets its own queue and goroutine, so a chat's updates run in arrival
// order and a slow handler in one chat never delays another.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log.With(logx.String("comp", "bot.router"))))
	var (
		mu    sync.Mutex
		chats = map[int64]*chatQueue{}
	)
	drain := func(chat int64, q *chatQueue) func(context.Context) {
		return func(c context.Context) {
			idle := time.NewTimer(chatIdle)
			defer idle.Stop()
			for {
				select {
				case <-c.Done():
					return
				case up := <-q.jobs:
					_ = r.Handle(c, up)
					idle.Reset(chatIdle)
				case <-idle.C:
					// Enqueue happens under mu, so an empty queue seen here
					// stays empty until the entry is gone.
					mu.Lock()
					if len(q.jobs) == 0 {
						delete(chats, chat)
						mu.Unlock()
						return
					}
					mu.Unlock()
					idle.Reset(chatIdle)
				}
			}
		}
	}
	r.log.Info("update dispatcher started", logx.Int("chat_queue", r.queueDepth))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = sup.Stop(wctx)
		r.log.Info("update dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			chat := chatOf(up)
			mu.Lock()
			q := chats[chat]
			if q == nil {
				q = &chatQueue{jobs: make(chan kit.Update, r.queueDepth)}
				chats[chat] = q
				sup.Go0("router.chat", drain(chat, q))
			}
			var queued bool
			select {
			case q.jobs <- up:
				queued = true
			default:
			}
			mu.Unlock()
			if !queued {
				r.log.Warn("update dropped (chat queue full)", logx.Chat(chat))
				r.busy(ctx, up)
			}
		}
	}
}

func chatOf(up kit.Update) int64 {
	switch {
	case up.Message != nil:
		return up.Message.ChatID
	case up.Callback != nil:
		return up.Callback.ChatID
	}
	return 0
}

func (r *Router) busy(ctx context.Context, up kit.Update) {
	if up.Callback != nil {
		_ = r.adapter.AnswerCallback(ctx, up.Callback.ID, "Busy, try again")
		return
	}
	if up.Message != nil {
		_, _ = r.adapter.SendText(ctx, kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}, "Busy, try again in a moment.", nil)
	}
}

// Handle routes one update synchronously.
func (r *Router) Handle(ctx context.Context, up kit.Update) error {
	switch up.Kind {
	case kit.UpdateCallback:
		return r.handleCallback(ctx, up)
	case kit.UpdateDocument:
		r.mu.RLock()
		h := r.documents
		r.mu.RUnlock()
		return r.run(ctx, r.request(up, "document"), h, 0)
	case kit.UpdateWebApp:
		r.mu.RLock()
		h := r.webApp
		r.mu.RUnlock()
		return r.run(ctx, r.request(up, "web_app"), h, 0)
	case kit.UpdateMessage:
		return r.handleMessage(ctx, up)
	}
	return nil
}

func (r *Router) handleMessage(ctx context.Context, up kit.Update) error {
	if up.Message == nil {
		return nil
	}
	text := strings.TrimSpace(up.Message.Text)

	if strings.HasPrefix(text, "/") {
		fields := strings.Fields(text)
		name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
		if i := strings.IndexByte(name, '@'); i >= 0 {
			name = name[:i]
		}
		r.mu.RLock()
		cmd, ok := r.commands[name]
		r.mu.RUnlock()
		req := r.request(up, "/"+name)
		req.Args = fields[1:]
		if !ok {
			_, _ = r.adapter.SendText(ctx, req.Chat, "Unknown command. Try /help.", nil)
			return nil
		}
		return r.run(ctx, req, cmd.Handle, cmd.Timeout)
	}

	r.mu.RLock()
	btn, isButton := r.buttons[text]
	fallback := r.text
	r.mu.RUnlock()
	if isButton {
		return r.run(ctx, r.request(up, "button:"+text), btn, 0)
	}
	return r.run(ctx, r.request(up, "text"), fallback, 0)
}

func (r *Router) handleCallback(ctx context.Context, up kit.Update) error {
	cb := up.Callback
	if cb == nil {
		return nil
	}
	scope, action, payload, ok := tgui.ParseData(cb.Data)
	r.mu.RLock()
	route, found := r.callbacks[scope+":"+action]
	r.mu.RUnlock()
	if !ok || !found {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return nil
	}
	req := r.request(up, "cb:"+scope+":"+action)
	req.Payload = payload
	err := r.run(ctx, req, route.Handle, route.Timeout)
	// Always clear the button's loading state.
	_ = r.adapter.AnswerCallback(ctx, cb.ID, req.Answer)
	return err
}

func (r *Router) request(up kit.Update, route string) *Request {
	req := &Request{Update: up, Route: route, ReqID: uuid.NewString()[:8]}
	switch {
	case up.Message != nil:
		req.Chat = kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}
		req.FromID = up.Message.FromID
		req.Text = strings.TrimSpace(up.Message.Text)
	case up.Callback != nil:
		req.Chat = kit.ChatTarget{ChatID: up.Callback.ChatID, ThreadID: up.Callback.ThreadID}
		req.FromID = up.Callback.FromID
	}
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
	)
	return req
}

func (r *Router) run(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration) error {
	if h == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = r.timeout
	}
	return Chain(h, recoverPanic(r.adapter), logRequest(), withDeadline(timeout))(ctx, req)
}
