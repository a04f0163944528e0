// Package reading owns the per-subscriber reading cursor.
//
// Every position mutation for a subscriber goes through the Controller,
// which serializes them per subscriber id. The chat handlers, the delivery
// pipeline and the web app all share one Controller.
package reading

import (
	"context"
	"errors"
	"fmt"

	"readerbot/internal/domain"
	"readerbot/internal/storage"
	logx "readerbot/pkg/logx"
)

// View is the fragment at a subscriber's cursor.
type View struct {
	Book     domain.Book
	Fragment domain.Fragment
	Total    int
}

func (v View) Position() domain.Position {
	return domain.Position{BookID: v.Book.ID, Index: v.Fragment.Index}
}

type Controller struct {
	store storage.Store
	locks *keyedMutex
	log   logx.Logger
}

func New(store storage.Store, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{store: store, locks: newKeyedMutex(), log: log}
}

// SelectBook points the cursor at the first fragment of bookID. The book
// must belong to the subscriber.
func (c *Controller) SelectBook(ctx context.Context, subID, bookID int64) (domain.Book, error) {
	unlock := c.locks.Lock(subID)
	defer unlock()

	b, err := c.store.GetBook(ctx, bookID)
	if err != nil {
		return domain.Book{}, err
	}
	if b.OwnerID != subID {
		return domain.Book{}, domain.ErrBookNotFound
	}
	if err := c.store.SetPosition(ctx, subID, domain.Position{BookID: bookID, Index: 1}); err != nil {
		return domain.Book{}, err
	}
	c.log.Debug("book selected", logx.Int64("sub", subID), logx.Int64("book", bookID))
	return b, nil
}

// Current returns the fragment at the cursor, ErrNoSelection when no book is
// selected, or ErrFragmentNotFound when the stored index has no fragment.
func (c *Controller) Current(ctx context.Context, subID int64) (View, error) {
	unlock := c.locks.Lock(subID)
	defer unlock()
	return c.viewLocked(ctx, subID)
}

func (c *Controller) viewLocked(ctx context.Context, subID int64) (View, error) {
	sub, err := c.store.GetSubscriber(ctx, subID)
	if err != nil {
		return View{}, err
	}
	return c.viewAt(ctx, sub.Position)
}

func (c *Controller) viewAt(ctx context.Context, pos domain.Position) (View, error) {
	if pos.None() {
		return View{}, domain.ErrNoSelection
	}
	b, err := c.store.GetBook(ctx, pos.BookID)
	if errors.Is(err, domain.ErrBookNotFound) {
		return View{}, domain.ErrFragmentNotFound
	}
	if err != nil {
		return View{}, err
	}
	f, err := c.store.GetFragment(ctx, pos.BookID, pos.Index)
	if err != nil {
		return View{}, err
	}
	total, err := c.store.FragmentCount(ctx, pos.BookID)
	if err != nil {
		return View{}, err
	}
	return View{Book: b, Fragment: f, Total: total}, nil
}

// Advance moves the cursor forward by one. Past the last fragment it clears
// the selection and returns ErrBookCompleted.
func (c *Controller) Advance(ctx context.Context, subID int64) (domain.Position, error) {
	unlock := c.locks.Lock(subID)
	defer unlock()

	sub, err := c.store.GetSubscriber(ctx, subID)
	if err != nil {
		return domain.Position{}, err
	}
	return c.advanceLocked(ctx, subID, sub.Position)
}

// AdvanceFrom advances only if the cursor still equals expected, so a
// delivery never moves a cursor the subscriber navigated meanwhile.
func (c *Controller) AdvanceFrom(ctx context.Context, subID int64, expected domain.Position) (domain.Position, error) {
	unlock := c.locks.Lock(subID)
	defer unlock()

	sub, err := c.store.GetSubscriber(ctx, subID)
	if err != nil {
		return domain.Position{}, err
	}
	if sub.Position != expected {
		return sub.Position, domain.ErrPositionMoved
	}
	return c.advanceLocked(ctx, subID, sub.Position)
}

func (c *Controller) advanceLocked(ctx context.Context, subID int64, pos domain.Position) (domain.Position, error) {
	if pos.None() {
		return domain.Position{}, domain.ErrNoSelection
	}
	total, err := c.store.FragmentCount(ctx, pos.BookID)
	if err != nil {
		return pos, err
	}
	if pos.Index+1 > total {
		if err := c.store.SetPosition(ctx, subID, domain.Position{}); err != nil {
			return pos, err
		}
		c.log.Info("book completed", logx.Int64("sub", subID), logx.Int64("book", pos.BookID))
		return domain.Position{}, domain.ErrBookCompleted
	}
	next := domain.Position{BookID: pos.BookID, Index: pos.Index + 1}
	if err := c.store.SetPosition(ctx, subID, next); err != nil {
		return pos, err
	}
	return next, nil
}

// Retreat moves the cursor back by one and returns the fragment now
// current. At index 1 it returns ErrAtFirstFragment and leaves the cursor.
func (c *Controller) Retreat(ctx context.Context, subID int64) (View, error) {
	unlock := c.locks.Lock(subID)
	defer unlock()

	sub, err := c.store.GetSubscriber(ctx, subID)
	if err != nil {
		return View{}, err
	}
	pos := sub.Position
	if pos.None() {
		return View{}, domain.ErrNoSelection
	}
	if pos.Index-1 < 1 {
		return View{}, domain.ErrAtFirstFragment
	}
	prev := domain.Position{BookID: pos.BookID, Index: pos.Index - 1}
	if err := c.store.SetPosition(ctx, subID, prev); err != nil {
		return View{}, err
	}
	return c.viewAt(ctx, prev)
}

func (c *Controller) ListBooks(ctx context.Context, subID int64) ([]domain.Book, error) {
	return c.store.ListBooks(ctx, subID)
}

// DeleteBook removes one of the subscriber's books. A cursor on that book is
// cleared by the store.
func (c *Controller) DeleteBook(ctx context.Context, subID, bookID int64) error {
	unlock := c.locks.Lock(subID)
	defer unlock()
	if err := c.store.DeleteBook(ctx, bookID, subID); err != nil {
		return fmt.Errorf("delete book %d: %w", bookID, err)
	}
	return nil
}
