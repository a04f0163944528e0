package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"readerbot/internal/domain"
	logx "readerbot/pkg/logx"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	mem, err := Open(Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	t.Cleanup(func() {
		_ = sq.Close()
		_ = mem.Close()
	})
	return map[string]Store{"sqlite": sq, "memory": mem}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("err=%v, want ErrUnknownDriver", err)
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty sqlite path")
	}
}

func TestBooksAndFragments(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, err := st.CreateBook(ctx, 7, "Dune", []string{"one", "two", "three"})
			if err != nil {
				t.Fatalf("CreateBook: %v", err)
			}
			if b.ID == 0 || b.OwnerID != 7 || b.Title != "Dune" {
				t.Fatalf("unexpected book %+v", b)
			}

			n, err := st.FragmentCount(ctx, b.ID)
			if err != nil || n != 3 {
				t.Fatalf("FragmentCount = %d, %v; want 3", n, err)
			}
			f, err := st.GetFragment(ctx, b.ID, 2)
			if err != nil || f.Text != "two" || f.Index != 2 {
				t.Fatalf("GetFragment(2) = %+v, %v", f, err)
			}
			if _, err := st.GetFragment(ctx, b.ID, 4); !errors.Is(err, domain.ErrFragmentNotFound) {
				t.Fatalf("GetFragment(4) err = %v, want ErrFragmentNotFound", err)
			}

			if _, err := st.CreateBook(ctx, 8, "Other", []string{"x"}); err != nil {
				t.Fatalf("CreateBook other owner: %v", err)
			}
			books, err := st.ListBooks(ctx, 7)
			if err != nil || len(books) != 1 {
				t.Fatalf("ListBooks = %v, %v; want 1 book", books, err)
			}
			if c, _ := st.BookCount(ctx, 7); c != 1 {
				t.Fatalf("BookCount = %d, want 1", c)
			}
		})
	}
}

func TestDeleteBookClearsPosition(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, _ := st.CreateBook(ctx, 1, "A", []string{"a", "b"})
			if err := st.SetPosition(ctx, 1, domain.Position{BookID: b.ID, Index: 2}); err != nil {
				t.Fatalf("SetPosition: %v", err)
			}

			if err := st.DeleteBook(ctx, b.ID, 2); !errors.Is(err, domain.ErrBookNotFound) {
				t.Fatalf("delete by non-owner err = %v, want ErrBookNotFound", err)
			}
			if err := st.DeleteBook(ctx, b.ID, 1); err != nil {
				t.Fatalf("DeleteBook: %v", err)
			}
			sub, err := st.GetSubscriber(ctx, 1)
			if err != nil {
				t.Fatalf("GetSubscriber: %v", err)
			}
			if !sub.Position.None() {
				t.Fatalf("position = %v, want none", sub.Position)
			}
			if _, err := st.GetFragment(ctx, b.ID, 1); !errors.Is(err, domain.ErrFragmentNotFound) {
				t.Fatalf("fragments survived delete: %v", err)
			}
		})
	}
}

func TestSubscriberState(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sub, err := st.GetSubscriber(ctx, 42)
			if err != nil || sub.ID != 42 || !sub.Position.None() || sub.Schedule != nil {
				t.Fatalf("unknown subscriber = %+v, %v", sub, err)
			}

			cfg := &domain.ScheduleConfig{WindowStart: 22 * 60, WindowEnd: 6 * 60, IntervalHours: 2}
			if err := st.SetSchedule(ctx, 42, cfg); err != nil {
				t.Fatalf("SetSchedule: %v", err)
			}
			if err := st.SetVoice(ctx, 42, "Nova"); err != nil {
				t.Fatalf("SetVoice: %v", err)
			}
			if err := st.SetPosition(ctx, 42, domain.Position{BookID: 3, Index: 9}); err != nil {
				t.Fatalf("SetPosition: %v", err)
			}

			sub, _ = st.GetSubscriber(ctx, 42)
			if sub.Schedule == nil || *sub.Schedule != *cfg {
				t.Fatalf("schedule = %+v, want %+v", sub.Schedule, cfg)
			}
			if sub.PreferredVoice != "Nova" {
				t.Fatalf("voice = %q", sub.PreferredVoice)
			}
			if sub.Position != (domain.Position{BookID: 3, Index: 9}) {
				t.Fatalf("position = %v", sub.Position)
			}

			_ = st.SetSchedule(ctx, 42, nil)
			_ = st.SetPosition(ctx, 42, domain.Position{})
			sub, _ = st.GetSubscriber(ctx, 42)
			if sub.Schedule != nil || !sub.Position.None() {
				t.Fatalf("expected cleared state, got %+v", sub)
			}
			if sub.PreferredVoice != "Nova" {
				t.Fatal("clearing schedule must not touch voice")
			}
		})
	}
}
