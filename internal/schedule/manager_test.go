package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"readerbot/internal/domain"
	"readerbot/internal/eventbus"
	rtsup "readerbot/internal/runtime/supervisor"
	logx "readerbot/pkg/logx"
)

// countingDeliverer records deliveries and signals each one.
type countingDeliverer struct {
	mu    sync.Mutex
	calls map[int64]int
	ch    chan int64
}

func newCounting() *countingDeliverer {
	return &countingDeliverer{calls: map[int64]int{}, ch: make(chan int64, 64)}
}

func (d *countingDeliverer) Deliver(ctx context.Context, id int64) (domain.Outcome, error) {
	d.mu.Lock()
	d.calls[id]++
	d.mu.Unlock()
	d.ch <- id
	return domain.OutcomeDone, nil
}

func (d *countingDeliverer) count(id int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[id]
}

// blockSleep parks the loop until it is cancelled.
func blockSleep(ctx context.Context, d time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func newManager(t *testing.T, d Deliverer, opts ...Option) (*Manager, *rtsup.Supervisor) {
	t.Helper()
	sup := rtsup.New(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	})
	base := []Option{
		WithLocation(time.UTC),
		WithClock(func() time.Time { return at(12, 0) }, blockSleep),
	}
	return New(d, sup, logx.Nop(), append(base, opts...)...), sup
}

func waitDelivery(t *testing.T, d *countingDeliverer) int64 {
	t.Helper()
	select {
	case id := <-d.ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
		return 0
	}
}

func TestSetDeliversInsideWindow(t *testing.T) {
	t.Parallel()
	d := newCounting()
	m, _ := newManager(t, d)

	if err := m.Set(7, cfg(t, "09:00", "22:00", 1)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if id := waitDelivery(t, d); id != 7 {
		t.Fatalf("delivered to %d", id)
	}
	if got, ok := m.Active(7); !ok || got.IntervalHours != 1 {
		t.Fatalf("Active = %+v, %v", got, ok)
	}
}

func TestSetRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t, newCounting())
	if err := m.Set(1, domain.ScheduleConfig{}); err == nil {
		t.Fatal("expected validation error")
	}
	if m.Len() != 0 {
		t.Fatalf("Len = %d", m.Len())
	}
}

func TestReplaceLeavesOneLoop(t *testing.T) {
	t.Parallel()
	d := newCounting()
	m, sup := newManager(t, d)

	for i := 1; i <= 5; i++ {
		if err := m.Set(3, cfg(t, "09:00", "22:00", i)); err != nil {
			t.Fatalf("Set #%d: %v", i, err)
		}
		waitDelivery(t, d)
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}
	got, _ := m.Active(3)
	if got.IntervalHours != 5 {
		t.Fatalf("active interval = %d, want the last one", got.IntervalHours)
	}

	// Replaced loops exit; only the live one remains on the supervisor.
	deadline := time.Now().Add(2 * time.Second)
	for sup.Counters().Active != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if a := sup.Counters().Active; a != 1 {
		t.Fatalf("running loops = %d, want 1", a)
	}
	if c := d.count(3); c != 5 {
		t.Fatalf("deliveries = %d, want one per Set", c)
	}
}

func TestClearStopsLoop(t *testing.T) {
	t.Parallel()
	d := newCounting()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	m, sup := newManager(t, d, WithBus(bus))

	if err := m.Set(9, cfg(t, "09:00", "22:00", 1)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	waitDelivery(t, d)
	if !m.Clear(9) {
		t.Fatal("Clear reported no loop")
	}
	if m.Clear(9) {
		t.Fatal("second Clear should be a no-op")
	}
	if _, ok := m.Active(9); ok {
		t.Fatal("loop still registered")
	}

	deadline := time.Now().Add(2 * time.Second)
	for sup.Counters().Active != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if a := sup.Counters().Active; a != 0 {
		t.Fatalf("running loops = %d after Clear", a)
	}

	var states []bool
	for len(states) < 2 {
		select {
		case e := <-events:
			if s, ok := e.Data.(eventbus.ScheduleSet); ok {
				states = append(states, s.Active)
			}
		case <-time.After(time.Second):
			t.Fatalf("events = %v", states)
		}
	}
	if !states[0] || states[1] {
		t.Fatalf("events = %v, want [true false]", states)
	}
}

func TestLoopWaitsOutsideWindow(t *testing.T) {
	t.Parallel()
	d := newCounting()
	waits := make(chan time.Duration, 4)
	sleep := func(ctx context.Context, dur time.Duration) error {
		waits <- dur
		<-ctx.Done()
		return ctx.Err()
	}
	m, _ := newManager(t, d, WithClock(func() time.Time { return at(8, 59) }, sleep))

	if err := m.Set(4, cfg(t, "09:00", "22:00", 2)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	select {
	case w := <-waits:
		if w != time.Minute {
			t.Fatalf("wait = %v, want 1m", w)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop never slept")
	}
	if c := d.count(4); c != 0 {
		t.Fatalf("delivered %d times outside window", c)
	}
}

func TestPanickingDeliveryKeepsOtherLoops(t *testing.T) {
	t.Parallel()
	sup := rtsup.New(context.Background(), rtsup.WithCancelOnError(true))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	})

	var (
		mu     sync.Mutex
		panics int
	)
	delivered := make(chan int64, 64)
	d := DelivererFunc(func(ctx context.Context, id int64) (domain.Outcome, error) {
		if id == 1 {
			mu.Lock()
			panics++
			mu.Unlock()
			panic("corrupt fragment")
		}
		select {
		case delivered <- id:
		default:
		}
		return domain.OutcomeDone, nil
	})
	sleep := func(ctx context.Context, dur time.Duration) error {
		return sleepCtx(ctx, time.Millisecond)
	}
	m := New(d, sup, logx.Nop(),
		WithLocation(time.UTC),
		WithClock(func() time.Time { return at(12, 0) }, sleep),
	)

	for _, id := range []int64{1, 2} {
		if err := m.Set(id, cfg(t, "09:00", "22:00", 1)); err != nil {
			t.Fatalf("Set(%d): %v", id, err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case <-delivered:
		case <-time.After(2 * time.Second):
			t.Fatalf("sub 2 stalled after %d deliveries", i)
		}
	}

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return panics
	}
	deadline := time.Now().Add(2 * time.Second)
	for count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := count(); n < 2 {
		t.Fatalf("sub 1 ticked %d times, want the loop to keep going", n)
	}
	if err := sup.Context().Err(); err != nil {
		t.Fatalf("supervisor cancelled: %v", err)
	}
	if err := sup.Err(); err != nil {
		t.Fatalf("supervisor failure: %v", err)
	}
	if _, ok := m.Active(1); !ok {
		t.Fatal("sub 1 loop gone after a panicking tick")
	}
}
