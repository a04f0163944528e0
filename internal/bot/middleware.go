package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	kit "readerbot/internal/transport"
	logx "readerbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain applies m so that m[0] is the outermost wrapper.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

const slowHandler = 750 * time.Millisecond

// recoverPanic turns a handler panic into an error and tells the chat that
// the action failed. The apology uses the parent context since the
// handler's may already be gone.
func recoverPanic(sender kit.Sender) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				req.Logger.Error("handler panicked", logx.String("route", req.Route), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("%s: panic: %v", req.Route, r)
				if sender != nil && req.Chat.ChatID != 0 {
					_, _ = sender.SendText(context.WithoutCancel(ctx), req.Chat, "Something went wrong. Please try again.", nil)
				}
			}()
			return next(ctx, req)
		}
	}
}

// logRequest logs failures at warn and slow handlers at info.
func logRequest() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			began := time.Now()
			err := next(ctx, req)
			took := time.Since(began)

			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.String("route", req.Route),
				logx.Duration("took", took),
			}
			switch {
			case err != nil:
				req.Logger.Warn("handler failed", append(fields, logx.Err(err))...)
			case took >= slowHandler:
				req.Logger.Info("slow handler", fields...)
			default:
				req.Logger.Debug("handled", fields...)
			}
			return err
		}
	}
}

// withDeadline bounds a handler; d <= 0 leaves ctx as is.
func withDeadline(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}
