package bot

import (
	"strconv"
	"strings"
	"sync"

	"readerbot/internal/domain"
)

type scheduleStep int

const (
	stepStart scheduleStep = iota + 1
	stepEnd
	stepInterval
)

type scheduleDraft struct {
	step  scheduleStep
	start domain.TimeOfDay
	end   domain.TimeOfDay
}

// conversations holds the in-progress /schedule dialogs keyed by chat.
type conversations struct {
	mu     sync.Mutex
	drafts map[int64]*scheduleDraft
}

func newConversations() *conversations {
	return &conversations{drafts: map[int64]*scheduleDraft{}}
}

func (c *conversations) begin(chat int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drafts[chat] = &scheduleDraft{step: stepStart}
}

func (c *conversations) cancel(chat int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.drafts[chat]
	delete(c.drafts, chat)
	return ok
}

// stepResult is what the dialog wants said next. Done carries the finished
// configuration.
type stepResult struct {
	Reply string
	Done  *domain.ScheduleConfig
}

// feed advances the chat's dialog with one answer. Invalid answers re-prompt
// without moving on.
func (c *conversations) feed(chat int64, text string) (stepResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.drafts[chat]
	if !ok {
		return stepResult{}, false
	}
	text = strings.TrimSpace(text)

	switch d.step {
	case stepStart:
		t, err := domain.ParseTimeOfDay(text)
		if err != nil {
			return stepResult{Reply: "Invalid time. Use HH:MM, for example 09:00."}, true
		}
		d.start, d.step = t, stepEnd
		return stepResult{Reply: "End of the delivery window (HH:MM):"}, true

	case stepEnd:
		t, err := domain.ParseTimeOfDay(text)
		if err != nil {
			return stepResult{Reply: "Invalid time. Use HH:MM, for example 22:00."}, true
		}
		d.end, d.step = t, stepInterval
		return stepResult{Reply: "Interval between fragments, in hours:"}, true

	case stepInterval:
		h, err := strconv.Atoi(text)
		if err != nil || h <= 0 {
			return stepResult{Reply: "The interval must be a whole number of hours greater than 0."}, true
		}
		cfg := domain.ScheduleConfig{WindowStart: d.start, WindowEnd: d.end, IntervalHours: h}
		delete(c.drafts, chat)
		return stepResult{Done: &cfg}, true
	}
	return stepResult{}, false
}
