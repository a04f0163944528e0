package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxBooksDefault is the per-subscriber book quota enforced at ingestion.
const MaxBooksDefault = 5

type Book struct {
	ID      int64
	OwnerID int64
	Title   string
}

// Fragment is one bounded chunk of a book. Index is 1-based and contiguous.
type Fragment struct {
	BookID int64
	Index  int
	Text   string
}

// Position is a subscriber's reading cursor. The zero value means "no book selected".
type Position struct {
	BookID int64
	Index  int
}

func (p Position) None() bool { return p.BookID == 0 }

func (p Position) String() string {
	if p.None() {
		return "none"
	}
	return fmt.Sprintf("%d#%d", p.BookID, p.Index)
}

// TimeOfDay is minutes since midnight.
type TimeOfDay int

func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	s := strings.TrimSpace(raw)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q (use HH:MM)", raw)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || len(mm) != 2 {
		return 0, fmt.Errorf("invalid time %q (use HH:MM)", raw)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q out of range", raw)
	}
	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute()) }

// On returns the instant of t on the calendar day of day (in day's location).
func (t TimeOfDay) On(day time.Time) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, t.Hour(), t.Minute(), 0, 0, day.Location())
}

// ScheduleConfig is a daily delivery window plus cadence.
// WindowEnd before WindowStart means the window crosses midnight.
type ScheduleConfig struct {
	WindowStart   TimeOfDay
	WindowEnd     TimeOfDay
	IntervalHours int
}

func (c ScheduleConfig) Validate() error {
	if c.IntervalHours <= 0 {
		return fmt.Errorf("interval must be > 0 hours")
	}
	if c.WindowStart < 0 || c.WindowStart >= 24*60 || c.WindowEnd < 0 || c.WindowEnd >= 24*60 {
		return fmt.Errorf("window out of range")
	}
	return nil
}

func (c ScheduleConfig) Interval() time.Duration { return time.Duration(c.IntervalHours) * time.Hour }

func (c ScheduleConfig) String() string {
	return fmt.Sprintf("%s-%s every %dh", c.WindowStart, c.WindowEnd, c.IntervalHours)
}

// Subscriber is the durable per-chat state.
type Subscriber struct {
	ID             int64
	Position       Position
	Schedule       *ScheduleConfig
	PreferredVoice string
}

// Outcome is the terminal state of one delivery attempt.
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeCompleted
	OutcomeNoSelection
	OutcomeFragmentNotFound
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeCompleted:
		return "completed"
	case OutcomeNoSelection:
		return "no_selection"
	case OutcomeFragmentNotFound:
		return "fragment_not_found"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}
