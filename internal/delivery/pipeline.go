// Package delivery turns the fragment at a subscriber's cursor into a chat
// message: fetch, format (fail-open), send (with a plain-text retry), then
// advance the cursor.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"readerbot/internal/ai"
	"readerbot/internal/countdown"
	"readerbot/internal/domain"
	"readerbot/internal/eventbus"
	"readerbot/internal/reading"
	"readerbot/internal/storage"
	kit "readerbot/internal/transport"
	logx "readerbot/pkg/logx"
	"readerbot/pkg/tgui"
)

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Waits are the countdown durations shown while the external calls run.
type Waits struct {
	Format time.Duration
	Audio  time.Duration
}

type Deps struct {
	Reader      *reading.Controller
	Store       storage.Store
	Sender      kit.Sender
	Formatter   ai.Formatter
	Synthesizer ai.Synthesizer
	Countdown   *countdown.Notifier
	Bus         eventbus.Bus
	Log         logx.Logger

	// DefaultVoice narrates for subscribers without a preference.
	DefaultVoice string
}

type Pipeline struct {
	d     Deps
	waits atomic.Pointer[Waits]

	deliveries singleflight.Group
	narrations singleflight.Group
	inflight   sync.Map // subscriber id -> struct{} while a delivery runs
}

func New(d Deps, waits Waits) *Pipeline {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.DefaultVoice == "" {
		d.DefaultVoice = ai.DefaultVoice
	}
	if waits.Format <= 0 {
		waits.Format = countdown.DefaultFormatWait
	}
	if waits.Audio <= 0 {
		waits.Audio = countdown.DefaultAudioWait
	}
	p := &Pipeline{d: d}
	p.waits.Store(&waits)
	return p
}

// SetWaits replaces the countdown durations (config hot reload). Zero
// fields keep their current value.
func (p *Pipeline) SetWaits(w Waits) {
	cur := *p.waits.Load()
	if w.Format > 0 {
		cur.Format = w.Format
	}
	if w.Audio > 0 {
		cur.Audio = w.Audio
	}
	p.waits.Store(&cur)
}

type result struct {
	outcome domain.Outcome
	err     error
}

// Deliver sends the current fragment to the subscriber and advances the
// cursor. Concurrent calls for the same subscriber share one attempt: a
// call that arrives while a delivery runs waits for it and returns its
// outcome instead of sending a second fragment.
func (p *Pipeline) Deliver(ctx context.Context, subID int64) (domain.Outcome, error) {
	return p.deliver(ctx, subID, TriggerSchedule)
}

// DeliverNow is Deliver triggered by the subscriber. When a delivery is
// already running it tells the subscriber so, then shares that delivery
// rather than advancing twice.
func (p *Pipeline) DeliverNow(ctx context.Context, subID int64) (domain.Outcome, error) {
	_, busy := p.inflight.Load(subID)
	ch := p.start(ctx, subID, TriggerManual)
	if busy {
		p.notice(ctx, kit.ChatTarget{ChatID: subID}, "A delivery is already in progress, the fragment will arrive shortly.")
	}
	return wait(ch)
}

func (p *Pipeline) deliver(ctx context.Context, subID int64, trigger string) (domain.Outcome, error) {
	return wait(p.start(ctx, subID, trigger))
}

// start joins the subscriber's running delivery or begins one. The flight
// must not panic: DoChan would re-raise it on a goroutine nobody recovers.
func (p *Pipeline) start(ctx context.Context, subID int64, trigger string) <-chan singleflight.Result {
	return p.deliveries.DoChan(strconv.FormatInt(subID, 10), func() (v any, _ error) {
		p.inflight.Store(subID, struct{}{})
		defer p.inflight.Delete(subID)
		defer func() {
			if r := recover(); r != nil {
				p.d.Log.Error("delivery panicked", logx.Int64("sub", subID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				v = result{outcome: domain.OutcomeFailed, err: fmt.Errorf("%w: panic: %v", domain.ErrDeliveryFailed, r)}
			}
		}()
		out, pos, err := p.attempt(ctx, subID)
		p.publish(subID, pos, out, trigger)
		return result{outcome: out, err: err}, nil
	})
}

func wait(ch <-chan singleflight.Result) (domain.Outcome, error) {
	r := (<-ch).Val.(result)
	return r.outcome, r.err
}

func (p *Pipeline) attempt(ctx context.Context, subID int64) (domain.Outcome, domain.Position, error) {
	to := kit.ChatTarget{ChatID: subID}
	log := p.d.Log.With(logx.Int64("sub", subID))

	view, err := p.d.Reader.Current(ctx, subID)
	switch {
	case errors.Is(err, domain.ErrNoSelection):
		p.notice(ctx, to, "No book selected. Use /selectbook.")
		return domain.OutcomeNoSelection, domain.Position{}, err
	case errors.Is(err, domain.ErrFragmentNotFound):
		p.notice(ctx, to, "There is no current fragment to read.")
		return domain.OutcomeFragmentNotFound, domain.Position{}, err
	case err != nil:
		log.Error("load fragment failed", logx.Err(err))
		p.notice(ctx, to, "Could not load the next fragment. Try again later.")
		return domain.OutcomeFailed, domain.Position{}, fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}
	pos := view.Position()

	if err := p.show(ctx, to, view); err != nil {
		log.Error("send fragment failed", logx.Err(err), logx.String("pos", pos.String()))
		p.notice(ctx, to, "Could not send the fragment. It will be retried on the next delivery.")
		return domain.OutcomeFailed, pos, err
	}

	_, err = p.d.Reader.AdvanceFrom(ctx, subID, pos)
	switch {
	case err == nil:
		return domain.OutcomeDone, pos, nil
	case errors.Is(err, domain.ErrBookCompleted):
		p.notice(ctx, to, fmt.Sprintf("That was the last fragment of %q (%d in total). Pick another book with /selectbook.", view.Book.Title, view.Total))
		return domain.OutcomeCompleted, pos, nil
	case errors.Is(err, domain.ErrPositionMoved):
		log.Debug("cursor moved during delivery", logx.String("pos", pos.String()))
		return domain.OutcomeDone, pos, nil
	default:
		log.Error("advance failed", logx.Err(err))
		return domain.OutcomeFailed, pos, fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}
}

// Previous steps the cursor back and shows that fragment without advancing.
func (p *Pipeline) Previous(ctx context.Context, subID int64) error {
	to := kit.ChatTarget{ChatID: subID}
	view, err := p.d.Reader.Retreat(ctx, subID)
	switch {
	case errors.Is(err, domain.ErrAtFirstFragment):
		p.notice(ctx, to, "This is the first fragment of the book.")
		return nil
	case errors.Is(err, domain.ErrNoSelection):
		p.notice(ctx, to, "No book selected. Use /selectbook.")
		return nil
	case err != nil:
		p.notice(ctx, to, "Could not load the previous fragment.")
		return err
	}
	if err := p.show(ctx, to, view); err != nil {
		p.notice(ctx, to, "Could not send the fragment.")
		return err
	}
	return nil
}

// show formats and sends one fragment. A failed rich send is retried once as
// plain text without markup.
func (p *Pipeline) show(ctx context.Context, to kit.ChatTarget, view reading.View) error {
	raw := view.Fragment.Text
	formatted, ok := p.format(ctx, to, raw)

	rich := &kit.SendOptions{ParseMode: "HTML", ReplyMarkupAdapter: fragmentMarkup(view)}
	_, err := p.d.Sender.SendText(ctx, to, formatted, rich)
	if err == nil {
		return nil
	}
	p.d.Log.Warn("rich send failed, retrying as plain text", logx.Err(err))

	plain := raw
	if ok {
		plain = tgui.PlainText(formatted)
	}
	if _, err := p.d.Sender.SendText(ctx, to, plain, nil); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}
	return nil
}

// format never fails: any formatter error yields the escaped raw text and
// ok=false.
func (p *Pipeline) format(ctx context.Context, to kit.ChatTarget, raw string) (string, bool) {
	if p.d.Formatter == nil {
		return string(tgui.Esc(raw)), false
	}
	out, err := countdown.Run(ctx, p.d.Countdown, to, "Preparing a nicer layout", p.waits.Load().Format,
		func(c context.Context) (string, error) { return p.d.Formatter.FormatForDisplay(c, raw) })
	if err == nil && strings.TrimSpace(out) == "" {
		err = errors.New("empty output")
	}
	if err != nil {
		p.d.Log.Warn("formatting skipped", logx.Err(fmt.Errorf("%w: %v", domain.ErrFormattingFailed, err)))
		return string(tgui.Esc(raw)), false
	}
	return out, true
}

func fragmentMarkup(view reading.View) any {
	payload := fmt.Sprintf("%d:%d", view.Book.ID, view.Fragment.Index)
	return tgui.NewInline().
		Row(tgui.Btn(fmt.Sprintf("Fragment %d of %d", view.Fragment.Index, view.Total), tgui.Data("frag", "pos", ""))).
		Row(tgui.Btn("🔊 Narrate", tgui.Data("frag", "audio", payload))).
		Markup()
}

// Narrate synthesizes a fragment in the subscriber's preferred voice and
// sends it as audio. Identical concurrent requests share one synthesis.
func (p *Pipeline) Narrate(ctx context.Context, subID, bookID int64, index int) error {
	to := kit.ChatTarget{ChatID: subID}
	book, err := p.d.Store.GetBook(ctx, bookID)
	if err != nil || book.OwnerID != subID {
		p.notice(ctx, to, "This fragment is no longer available.")
		return domain.ErrBookNotFound
	}
	frag, err := p.d.Store.GetFragment(ctx, bookID, index)
	if err != nil {
		p.notice(ctx, to, "This fragment is no longer available.")
		return err
	}
	sub, err := p.d.Store.GetSubscriber(ctx, subID)
	if err != nil {
		return err
	}
	voice := sub.PreferredVoice
	if voice == "" {
		voice = p.d.DefaultVoice
	}
	if p.d.Synthesizer == nil {
		p.notice(ctx, to, "Narration is not available.")
		return nil
	}

	key := fmt.Sprintf("%d:%d:%d:%s", subID, bookID, index, voice)
	v, err, _ := p.narrations.Do(key, func() (any, error) {
		return countdown.Run(ctx, p.d.Countdown, to, "Generating audio", p.waits.Load().Audio,
			func(c context.Context) ([]byte, error) { return p.d.Synthesizer.SynthesizeSpeech(c, frag.Text, voice) })
	})
	if err != nil {
		p.d.Log.Warn("narration failed", logx.Err(err), logx.Int64("book", bookID), logx.Int("index", index))
		p.notice(ctx, to, "Could not generate audio. Try again later.")
		return nil
	}
	audio := kit.Audio{
		Data:     v.([]byte),
		FileName: fmt.Sprintf("fragment_%d_%d.mp3", bookID, index),
		Title:    fmt.Sprintf("%s, fragment %d", book.Title, index),
		Caption:  fmt.Sprintf("Fragment %d, voice %s", index, voice),
	}
	if _, err := p.d.Sender.SendAudio(ctx, to, audio); err != nil {
		p.notice(ctx, to, "Could not send the audio.")
		return err
	}
	return nil
}

func (p *Pipeline) notice(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := p.d.Sender.SendText(ctx, to, text, nil); err != nil {
		p.d.Log.Debug("notice not sent", logx.Err(err), logx.Int64("chat", to.ChatID))
	}
}

func (p *Pipeline) publish(subID int64, pos domain.Position, out domain.Outcome, trigger string) {
	if p.d.Bus == nil {
		return
	}
	p.d.Bus.Publish(eventbus.Event{
		Type: eventbus.TypeDelivery,
		Data: eventbus.Delivery{SubscriberID: subID, Position: pos, Outcome: out, Trigger: trigger},
	})
}
