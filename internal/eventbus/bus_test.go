package eventbus

import (
	"context"
	"testing"
	"time"

	"readerbot/internal/domain"
)

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: TypeDelivery})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked")
	}
	if got := b.Dropped(); got != 9 {
		t.Fatalf("dropped=%d want 9", got)
	}
}

func TestSubscribeFiltersTypes(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4, TypeBookAdded)

	b.Publish(Event{Type: TypeDelivery})
	b.Publish(Event{Type: TypeBookAdded, Data: BookAdded{BookID: 7}})
	unsub()
	unsub()

	var got []Event
	for e := range ch {
		got = append(got, e)
	}
	if len(got) != 1 || got[0].Type != TypeBookAdded || got[0].Time.IsZero() {
		t.Fatalf("got %+v", got)
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: TypeBookAdded})
	if b.Dropped() != 0 {
		t.Fatalf("dropped=%d", b.Dropped())
	}
}

func TestStatsCountsOutcomes(t *testing.T) {
	t.Parallel()
	b := New()
	var s Stats
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	go func() {
		close(ready)
		s.Run(ctx, b)
	}()
	<-ready

	// Run subscribes asynchronously; publish until the first event lands.
	deadline := time.Now().Add(2 * time.Second)
	for s.Snapshot().BooksAdded == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stats never subscribed")
		}
		b.Publish(Event{Type: TypeBookAdded, Data: BookAdded{SubscriberID: 1}})
		time.Sleep(time.Millisecond)
	}

	b.Publish(Event{Type: TypeDelivery, Data: Delivery{Outcome: domain.OutcomeDone}})
	b.Publish(Event{Type: TypeDelivery, Data: Delivery{Outcome: domain.OutcomeCompleted}})
	b.Publish(Event{Type: TypeDelivery, Data: Delivery{Outcome: domain.OutcomeFailed}})
	b.Publish(Event{Type: TypeDelivery, Data: Delivery{Outcome: domain.OutcomeNoSelection}})

	for time.Now().Before(deadline) {
		snap := s.Snapshot()
		if snap.Delivered == 2 && snap.Completed == 1 && snap.Failed == 1 && snap.Skipped == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("unexpected snapshot %+v", s.Snapshot())
}
