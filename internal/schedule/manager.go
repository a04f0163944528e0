// Package schedule runs one cancellable delivery loop per subscriber.
//
// The registry is in memory only; a restart loses every loop until the
// subscriber sets the schedule again.
package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"readerbot/internal/domain"
	"readerbot/internal/eventbus"
	rtsup "readerbot/internal/runtime/supervisor"
	logx "readerbot/pkg/logx"
)

// Deliverer delivers one fragment to a subscriber.
type Deliverer interface {
	Deliver(ctx context.Context, subscriberID int64) (domain.Outcome, error)
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, subscriberID int64) (domain.Outcome, error)

func (f DelivererFunc) Deliver(ctx context.Context, id int64) (domain.Outcome, error) {
	return f(ctx, id)
}

type loop struct {
	gen    uint64
	cfg    domain.ScheduleConfig
	cancel context.CancelFunc
}

type Manager struct {
	deliverer Deliverer
	sup       *rtsup.Supervisor
	bus       eventbus.Bus
	log       logx.Logger

	loc   *time.Location
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	gen   uint64
	loops map[int64]*loop
}

type Option func(*Manager)

// WithClock replaces the wall clock and the sleep primitive (tests).
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

func WithLocation(loc *time.Location) Option {
	return func(m *Manager) {
		if loc != nil {
			m.loc = loc
		}
	}
}

func WithBus(bus eventbus.Bus) Option { return func(m *Manager) { m.bus = bus } }

// New creates a Manager whose loops run under sup.
func New(d Deliverer, sup *rtsup.Supervisor, log logx.Logger, opts ...Option) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		deliverer: d,
		sup:       sup,
		log:       log,
		loc:       time.Local,
		now:       time.Now,
		sleep:     sleepCtx,
		loops:     map[int64]*loop{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Set replaces the subscriber's loop: the previous loop (if any) is
// cancelled before the new one starts, under one lock.
func (m *Manager) Set(subID int64, cfg domain.ScheduleConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if old := m.loops[subID]; old != nil {
		old.cancel()
	}
	m.gen++
	ctx, cancel := context.WithCancel(m.sup.Context())
	l := &loop{gen: m.gen, cfg: cfg, cancel: cancel}
	m.loops[subID] = l

	m.sup.Go0(fmt.Sprintf("schedule.%d", subID), func(context.Context) {
		defer m.forget(subID, l.gen)
		m.run(ctx, subID, cfg)
	})
	m.log.Info("schedule set", logx.Int64("sub", subID), logx.String("cfg", cfg.String()))
	m.publish(subID, true)
	return nil
}

// Clear cancels the subscriber's loop. It reports whether one was active.
func (m *Manager) Clear(subID int64) bool {
	m.mu.Lock()
	l := m.loops[subID]
	delete(m.loops, subID)
	m.mu.Unlock()
	if l == nil {
		return false
	}
	l.cancel()
	m.log.Info("schedule cleared", logx.Int64("sub", subID))
	m.publish(subID, false)
	return true
}

// Active returns the subscriber's running configuration.
func (m *Manager) Active(subID int64) (domain.ScheduleConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.loops[subID]; l != nil {
		return l.cfg, true
	}
	return domain.ScheduleConfig{}, false
}

// Len returns the number of registered loops.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loops)
}

// StopAll cancels every loop.
func (m *Manager) StopAll() {
	m.mu.Lock()
	loops := m.loops
	m.loops = map[int64]*loop{}
	m.mu.Unlock()
	for _, l := range loops {
		l.cancel()
	}
}

func (m *Manager) forget(subID int64, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.loops[subID]; l != nil && l.gen == gen {
		delete(m.loops, subID)
	}
}

func (m *Manager) run(ctx context.Context, subID int64, cfg domain.ScheduleConfig) {
	log := m.log.With(logx.Int64("sub", subID))
	for ctx.Err() == nil {
		now := m.now().In(m.loc)
		act, err := NextAction(now, cfg)
		if err != nil {
			log.Error("schedule stopped", logx.Err(err))
			return
		}
		if act.Deliver {
			out, err := m.tick(ctx, subID)
			log.Debug("scheduled delivery", logx.String("outcome", out.String()), logx.Err(err))
		} else {
			log.Debug("waiting for window", logx.Duration("wait", act.Wait))
		}
		if err := m.sleep(ctx, act.Wait); err != nil {
			return
		}
	}
}

// tick runs one delivery. A delivery that has started is allowed to finish
// after the loop is cancelled; it just never ticks again. A panic fails
// only this tick, never the shared supervisor.
func (m *Manager) tick(ctx context.Context, subID int64) (out domain.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("scheduled delivery panicked", logx.Int64("sub", subID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			out, err = domain.OutcomeFailed, fmt.Errorf("delivery panic: %v", r)
		}
	}()
	return m.deliverer.Deliver(context.WithoutCancel(ctx), subID)
}

func (m *Manager) publish(subID int64, active bool) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{
		Type: eventbus.TypeScheduleSet,
		Data: eventbus.ScheduleSet{SubscriberID: subID, Active: active},
	})
}
