package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"readerbot/internal/domain"
)

var dailyParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// InWindow reports whether now falls inside the daily window. A window whose
// end is before its start crosses midnight; the window that opened yesterday
// is considered too, so 01:00 is inside 22:00-06:00. Equal start and end
// mean the whole day.
//
// This departs from the plain step-by-step check (start today, end rolled to
// tomorrow when it precedes start), which puts 01:00 outside 22:00-06:00 and
// leaves a loop set after midnight idle until 22:00.
func InWindow(now time.Time, cfg domain.ScheduleConfig) bool {
	if cfg.WindowStart == cfg.WindowEnd {
		return true
	}
	start := cfg.WindowStart.On(now)
	end := cfg.WindowEnd.On(now)
	crosses := end.Before(start)
	if crosses {
		end = end.AddDate(0, 0, 1)
	}
	if within(now, start, end) {
		return true
	}
	return crosses && within(now, start.AddDate(0, 0, -1), end.AddDate(0, 0, -1))
}

func within(now, start, end time.Time) bool {
	return !now.Before(start) && !now.After(end)
}

// NextStart returns the first window start strictly after now, in now's
// location.
func NextStart(now time.Time, cfg domain.ScheduleConfig) (time.Time, error) {
	spec := fmt.Sprintf("%d %d * * *", cfg.WindowStart.Minute(), cfg.WindowStart.Hour())
	sched, err := dailyParser.Parse(spec)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(now), nil
}

// Action is the loop's decision for one step.
type Action struct {
	Deliver bool
	Wait    time.Duration // before the next step
}

// NextAction decides whether to deliver now (and then wait one interval) or
// to wait for the next window start.
func NextAction(now time.Time, cfg domain.ScheduleConfig) (Action, error) {
	if InWindow(now, cfg) {
		return Action{Deliver: true, Wait: cfg.Interval()}, nil
	}
	next, err := NextStart(now, cfg)
	if err != nil {
		return Action{}, err
	}
	return Action{Wait: next.Sub(now)}, nil
}
