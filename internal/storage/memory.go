package storage

import (
	"context"
	"sort"
	"sync"

	"readerbot/internal/domain"
)

type memBook struct {
	book      domain.Book
	fragments []string
}

// Memory is a process-local Store.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	books  map[int64]*memBook
	subs   map[int64]domain.Subscriber
	closed bool
}

func NewMemory() *Memory {
	return &Memory{
		books: map[int64]*memBook{},
		subs:  map[int64]domain.Subscriber{},
	}
}

func (m *Memory) CreateBook(_ context.Context, ownerID int64, title string, fragments []string) (domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.Book{}, ErrClosed
	}
	m.nextID++
	b := domain.Book{ID: m.nextID, OwnerID: ownerID, Title: title}
	m.books[b.ID] = &memBook{book: b, fragments: append([]string(nil), fragments...)}
	return b, nil
}

func (m *Memory) GetBook(_ context.Context, bookID int64) (domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mb, ok := m.books[bookID]
	if !ok {
		return domain.Book{}, domain.ErrBookNotFound
	}
	return mb.book, nil
}

func (m *Memory) ListBooks(_ context.Context, ownerID int64) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Book
	for _, mb := range m.books {
		if mb.book.OwnerID == ownerID {
			out = append(out, mb.book)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) BookCount(ctx context.Context, ownerID int64) (int, error) {
	books, err := m.ListBooks(ctx, ownerID)
	return len(books), err
}

func (m *Memory) DeleteBook(_ context.Context, bookID, ownerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb, ok := m.books[bookID]
	if !ok || mb.book.OwnerID != ownerID {
		return domain.ErrBookNotFound
	}
	delete(m.books, bookID)
	for id, sub := range m.subs {
		if sub.Position.BookID == bookID {
			sub.Position = domain.Position{}
			m.subs[id] = sub
		}
	}
	return nil
}

func (m *Memory) GetFragment(_ context.Context, bookID int64, index int) (domain.Fragment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mb, ok := m.books[bookID]
	if !ok || index < 1 || index > len(mb.fragments) {
		return domain.Fragment{}, domain.ErrFragmentNotFound
	}
	return domain.Fragment{BookID: bookID, Index: index, Text: mb.fragments[index-1]}, nil
}

func (m *Memory) FragmentCount(_ context.Context, bookID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mb, ok := m.books[bookID]; ok {
		return len(mb.fragments), nil
	}
	return 0, nil
}

func (m *Memory) GetSubscriber(_ context.Context, id int64) (domain.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return domain.Subscriber{ID: id}, nil
	}
	if sub.Schedule != nil {
		cfg := *sub.Schedule
		sub.Schedule = &cfg
	}
	return sub, nil
}

func (m *Memory) EnsureSubscriber(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		m.subs[id] = domain.Subscriber{ID: id}
	}
	return nil
}

func (m *Memory) update(id int64, fn func(*domain.Subscriber)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	sub, ok := m.subs[id]
	if !ok {
		sub = domain.Subscriber{ID: id}
	}
	fn(&sub)
	m.subs[id] = sub
	return nil
}

func (m *Memory) SetPosition(_ context.Context, id int64, pos domain.Position) error {
	return m.update(id, func(s *domain.Subscriber) { s.Position = pos })
}

func (m *Memory) SetSchedule(_ context.Context, id int64, cfg *domain.ScheduleConfig) error {
	return m.update(id, func(s *domain.Subscriber) {
		if cfg == nil {
			s.Schedule = nil
			return
		}
		c := *cfg
		s.Schedule = &c
	})
}

func (m *Memory) SetVoice(_ context.Context, id int64, voice string) error {
	return m.update(id, func(s *domain.Subscriber) { s.PreferredVoice = voice })
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
