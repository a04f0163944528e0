package eventbus

import "readerbot/internal/domain"

const (
	TypeDelivery    = "delivery"
	TypeBookAdded   = "book.added"
	TypeScheduleSet = "schedule.set"
)

// Delivery is published once per delivery attempt.
type Delivery struct {
	SubscriberID int64
	Position     domain.Position
	Outcome      domain.Outcome
	Trigger      string // "schedule", "manual"
}

// BookAdded is published after a successful ingestion.
type BookAdded struct {
	SubscriberID int64
	BookID       int64
	Fragments    int
}

// ScheduleSet is published when a subscriber's loop is replaced or cleared.
type ScheduleSet struct {
	SubscriberID int64
	Active       bool
}
