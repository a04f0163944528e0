package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"readerbot/internal/domain"
	"readerbot/internal/eventbus"
	"readerbot/internal/reading"
	"readerbot/internal/storage"
	logx "readerbot/pkg/logx"
)

func newService(t *testing.T, cfg Config) (*Service, storage.Store, eventbus.Bus) {
	t.Helper()
	st := storage.NewMemory()
	bus := eventbus.New()
	return New(st, reading.New(st, logx.Nop()), bus, cfg, logx.Nop()), st, bus
}

func TestImportDocumentSelectsNewBook(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, bus := newService(t, Config{MaxChars: 10})
	events, unsub := bus.Subscribe(4)
	defer unsub()

	res, err := svc.ImportDocument(ctx, 5, "dir/story.txt", strings.NewReader("first line\nsecond line"))
	if err != nil {
		t.Fatalf("ImportDocument: %v", err)
	}
	if res.Book.Title != "story.txt" || res.Fragments != 3 {
		t.Fatalf("result = %+v", res)
	}
	sub, err := st.GetSubscriber(ctx, 5)
	if err != nil {
		t.Fatalf("GetSubscriber: %v", err)
	}
	if sub.Position != (domain.Position{BookID: res.Book.ID, Index: 1}) {
		t.Fatalf("position = %v", sub.Position)
	}
	f, _ := st.GetFragment(ctx, res.Book.ID, 1)
	if f.Text != "first line" {
		t.Fatalf("fragment 1 = %q", f.Text)
	}

	select {
	case e := <-events:
		added, ok := e.Data.(eventbus.BookAdded)
		if !ok || added.BookID != res.Book.ID || added.Fragments != 3 {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no BookAdded event")
	}
}

func TestImportRespectsQuota(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, _ := newService(t, Config{MaxBooks: 2})
	for i := 0; i < 2; i++ {
		if _, err := svc.ImportDocument(ctx, 1, fmt.Sprintf("b%d.txt", i), strings.NewReader("text")); err != nil {
			t.Fatalf("import %d: %v", i, err)
		}
	}
	if _, err := svc.ImportDocument(ctx, 1, "b3.txt", strings.NewReader("text")); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if n, _ := st.BookCount(ctx, 1); n != 2 {
		t.Fatalf("BookCount = %d", n)
	}
	// Another subscriber has their own quota.
	if err := svc.CheckQuota(ctx, 2); err != nil {
		t.Fatalf("CheckQuota(2): %v", err)
	}
}

func TestImportDocumentRejects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, _ := newService(t, Config{MaxBytes: 8})

	if _, err := svc.ImportDocument(ctx, 1, "x.odt", strings.NewReader("x")); !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("odt: %v", err)
	}
	if _, err := svc.ImportDocument(ctx, 1, "x.txt", strings.NewReader("123456789")); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("large: %v", err)
	}
	if n, _ := st.BookCount(ctx, 1); n != 0 {
		t.Fatalf("BookCount = %d", n)
	}
}

func TestImportURL(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title> An Essay </title></head><body>` +
			`<nav>Home | About</nav><article><h1>Heading</h1><p>Body text.</p></article>` +
			`<footer>(c)</footer></body></html>`))
	}))
	defer srv.Close()

	ctx := context.Background()
	svc, st, _ := newService(t, Config{})
	res, err := svc.ImportURL(ctx, 3, srv.URL+"/essay")
	if err != nil {
		t.Fatalf("ImportURL: %v", err)
	}
	if res.Book.Title != "An Essay" {
		t.Fatalf("title = %q", res.Book.Title)
	}
	f, err := st.GetFragment(ctx, res.Book.ID, 1)
	if err != nil {
		t.Fatalf("GetFragment: %v", err)
	}
	if f.Text != "Heading\n\nBody text." {
		t.Fatalf("text = %q", f.Text)
	}
}

func TestImportURLErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	ctx := context.Background()
	svc, _, _ := newService(t, Config{})
	if _, err := svc.ImportURL(ctx, 1, "ftp://example.com/x"); err == nil {
		t.Fatal("ftp link accepted")
	}
	if _, err := svc.ImportURL(ctx, 1, srv.URL); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v, want status error", err)
	}
}
