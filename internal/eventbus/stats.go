package eventbus

import (
	"context"
	"sync/atomic"

	"readerbot/internal/domain"
)

// Stats aggregates bus events into counters for /health.
type Stats struct {
	delivered  atomic.Uint64
	completed  atomic.Uint64
	failed     atomic.Uint64
	skipped    atomic.Uint64
	booksAdded atomic.Uint64
	schedules  atomic.Int64
}

type StatsSnapshot struct {
	Delivered       uint64 `json:"delivered"`
	Completed       uint64 `json:"completed"`
	Failed          uint64 `json:"failed"`
	Skipped         uint64 `json:"skipped"`
	BooksAdded      uint64 `json:"books_added"`
	ScheduleChanges int64  `json:"schedule_changes"`
}

// Run consumes events until ctx is done.
func (s *Stats) Run(ctx context.Context, bus Bus) {
	ch, unsub := bus.Subscribe(256, TypeDelivery, TypeBookAdded, TypeScheduleSet)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.observe(e)
		}
	}
}

func (s *Stats) observe(e Event) {
	switch d := e.Data.(type) {
	case Delivery:
		switch d.Outcome {
		case domain.OutcomeDone:
			s.delivered.Add(1)
		case domain.OutcomeCompleted:
			s.delivered.Add(1)
			s.completed.Add(1)
		case domain.OutcomeFailed:
			s.failed.Add(1)
		default:
			s.skipped.Add(1)
		}
	case BookAdded:
		s.booksAdded.Add(1)
	case ScheduleSet:
		s.schedules.Add(1)
	}
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Delivered:       s.delivered.Load(),
		Completed:       s.completed.Load(),
		Failed:          s.failed.Load(),
		Skipped:         s.skipped.Load(),
		BooksAdded:      s.booksAdded.Load(),
		ScheduleChanges: s.schedules.Load(),
	}
}
