package storage

import (
	"context"
	"errors"
	"time"

	"readerbot/internal/domain"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "memory": in-process maps (tests, throwaway runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API consumed by the reading controller, the
// delivery pipeline and ingestion.
//
// Missing rows are reported with domain sentinels (ErrBookNotFound,
// ErrFragmentNotFound); a subscriber that was never seen reads as the zero
// Subscriber with its ID set.
type Store interface {
	// CreateBook inserts a book and its fragments (indexed 1..N) in one batch.
	CreateBook(ctx context.Context, ownerID int64, title string, fragments []string) (domain.Book, error)
	GetBook(ctx context.Context, bookID int64) (domain.Book, error)
	ListBooks(ctx context.Context, ownerID int64) ([]domain.Book, error)
	BookCount(ctx context.Context, ownerID int64) (int, error)
	// DeleteBook removes the book owned by ownerID with its fragments. It
	// also clears any reading position pointing at it.
	DeleteBook(ctx context.Context, bookID, ownerID int64) error

	GetFragment(ctx context.Context, bookID int64, index int) (domain.Fragment, error)
	FragmentCount(ctx context.Context, bookID int64) (int, error)

	GetSubscriber(ctx context.Context, id int64) (domain.Subscriber, error)
	EnsureSubscriber(ctx context.Context, id int64) error
	// SetPosition stores pos; a zero Position clears the selection.
	SetPosition(ctx context.Context, id int64, pos domain.Position) error
	// SetSchedule stores cfg; nil clears it.
	SetSchedule(ctx context.Context, id int64, cfg *domain.ScheduleConfig) error
	SetVoice(ctx context.Context, id int64, voice string) error

	Close() error
}
