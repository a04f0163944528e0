package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"readerbot/internal/domain"
	logx "readerbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("sqlite store ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) CreateBook(ctx context.Context, ownerID int64, title string, fragments []string) (domain.Book, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Book{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `INSERT INTO books(owner_id, title) VALUES(?, ?)`, ownerID, title)
	if err != nil {
		return domain.Book{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Book{}, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO fragments(book_id, idx, text) VALUES(?, ?, ?)`)
	if err != nil {
		return domain.Book{}, err
	}
	defer stmt.Close()
	for i, text := range fragments {
		if _, err := stmt.ExecContext(ctx, id, i+1, text); err != nil {
			return domain.Book{}, fmt.Errorf("insert fragment %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Book{}, err
	}
	return domain.Book{ID: id, OwnerID: ownerID, Title: title}, nil
}

func (s *sqliteStore) GetBook(ctx context.Context, bookID int64) (domain.Book, error) {
	var b domain.Book
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title FROM books WHERE id = ?`, bookID,
	).Scan(&b.ID, &b.OwnerID, &b.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Book{}, domain.ErrBookNotFound
	}
	return b, err
}

func (s *sqliteStore) ListBooks(ctx context.Context, ownerID int64) ([]domain.Book, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, title FROM books WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Book
	for rows.Next() {
		var b domain.Book
		if err := rows.Scan(&b.ID, &b.OwnerID, &b.Title); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *sqliteStore) BookCount(ctx context.Context, ownerID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books WHERE owner_id = ?`, ownerID).Scan(&n)
	return n, err
}

func (s *sqliteStore) DeleteBook(ctx context.Context, bookID, ownerID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = ? AND owner_id = ?`, bookID, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrBookNotFound
	}
	// Cascade is explicit so the store stays correct with foreign_keys off.
	if _, err := tx.ExecContext(ctx, `DELETE FROM fragments WHERE book_id = ?`, bookID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE subscribers SET current_book_id = NULL, current_index = NULL WHERE current_book_id = ?`, bookID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) GetFragment(ctx context.Context, bookID int64, index int) (domain.Fragment, error) {
	f := domain.Fragment{BookID: bookID, Index: index}
	err := s.db.QueryRowContext(ctx,
		`SELECT text FROM fragments WHERE book_id = ? AND idx = ?`, bookID, index,
	).Scan(&f.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Fragment{}, domain.ErrFragmentNotFound
	}
	return f, err
}

func (s *sqliteStore) FragmentCount(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fragments WHERE book_id = ?`, bookID).Scan(&n)
	return n, err
}

func (s *sqliteStore) GetSubscriber(ctx context.Context, id int64) (domain.Subscriber, error) {
	var (
		bookID, index, start, end, interval sql.NullInt64
		voice                               sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT current_book_id, current_index, window_start, window_end, interval_hours, preferred_voice
		 FROM subscribers WHERE id = ?`, id,
	).Scan(&bookID, &index, &start, &end, &interval, &voice)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Subscriber{ID: id}, nil
	}
	if err != nil {
		return domain.Subscriber{}, err
	}

	sub := domain.Subscriber{ID: id, PreferredVoice: voice.String}
	if bookID.Valid && index.Valid {
		sub.Position = domain.Position{BookID: bookID.Int64, Index: int(index.Int64)}
	}
	if start.Valid && end.Valid && interval.Valid {
		sub.Schedule = &domain.ScheduleConfig{
			WindowStart:   domain.TimeOfDay(start.Int64),
			WindowEnd:     domain.TimeOfDay(end.Int64),
			IntervalHours: int(interval.Int64),
		}
	}
	return sub, nil
}

func (s *sqliteStore) EnsureSubscriber(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO subscribers(id) VALUES(?) ON CONFLICT(id) DO NOTHING`, id)
	return err
}

func (s *sqliteStore) SetPosition(ctx context.Context, id int64, pos domain.Position) error {
	var bookID, index any
	if !pos.None() {
		bookID, index = pos.BookID, pos.Index
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(id, current_book_id, current_index) VALUES(?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET current_book_id = excluded.current_book_id, current_index = excluded.current_index`,
		id, bookID, index,
	)
	return err
}

func (s *sqliteStore) SetSchedule(ctx context.Context, id int64, cfg *domain.ScheduleConfig) error {
	var start, end, interval any
	if cfg != nil {
		start, end, interval = int(cfg.WindowStart), int(cfg.WindowEnd), cfg.IntervalHours
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(id, window_start, window_end, interval_hours) VALUES(?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET window_start = excluded.window_start,
		   window_end = excluded.window_end, interval_hours = excluded.interval_hours`,
		id, start, end, interval,
	)
	return err
}

func (s *sqliteStore) SetVoice(ctx context.Context, id int64, voice string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(id, preferred_voice) VALUES(?, ?)
		 ON CONFLICT(id) DO UPDATE SET preferred_voice = excluded.preferred_voice`,
		id, nullStr(voice),
	)
	return err
}

func nullStr(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
