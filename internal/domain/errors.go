package domain

import "errors"

var (
	ErrNoSelection      = errors.New("no book selected")
	ErrBookNotFound     = errors.New("book not found")
	ErrFragmentNotFound = errors.New("fragment not found")
	ErrDeliveryFailed   = errors.New("delivery failed")
	ErrQuotaExceeded    = errors.New("book quota exceeded")

	// ErrBookCompleted and ErrAtFirstFragment are boundary signals, not failures.
	ErrBookCompleted   = errors.New("book completed")
	ErrAtFirstFragment = errors.New("already at first fragment")

	// Recovered locally; never surfaced to the subscriber.
	ErrFormattingFailed = errors.New("formatting failed")
	ErrNotificationEdit = errors.New("notification edit failed")

	// ErrPositionMoved is returned by a conditional advance when the cursor
	// changed since it was read.
	ErrPositionMoved = errors.New("reading position moved")

	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrEmptyDocument     = errors.New("no text extracted")
)
