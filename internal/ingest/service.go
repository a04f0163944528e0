// Package ingest turns uploaded documents and web pages into stored books.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"readerbot/internal/chunker"
	"readerbot/internal/domain"
	"readerbot/internal/eventbus"
	"readerbot/internal/reading"
	"readerbot/internal/storage"
	logx "readerbot/pkg/logx"
)

const (
	DefaultMaxBytes     = 20 << 20
	DefaultFetchTimeout = 30 * time.Second
)

type Config struct {
	MaxChars     int // fragment size; <=0 uses chunker.DefaultMaxChars
	MaxBooks     int // per-subscriber quota; <=0 uses domain.MaxBooksDefault
	MaxBytes     int64
	FetchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxChars <= 0 {
		c.MaxChars = chunker.DefaultMaxChars
	}
	if c.MaxBooks <= 0 {
		c.MaxBooks = domain.MaxBooksDefault
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	return c
}

// Result describes a stored book. The book is already selected at index 1.
type Result struct {
	Book      domain.Book
	Fragments int
}

type Service struct {
	store  storage.Store
	reader *reading.Controller
	bus    eventbus.Bus
	log    logx.Logger
	client *http.Client
	cfg    Config

	// Serializes the quota recheck with the insert.
	createMu sync.Mutex
}

func New(store storage.Store, reader *reading.Controller, bus eventbus.Bus, cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		store:  store,
		reader: reader,
		bus:    bus,
		log:    log,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.FetchTimeout},
	}
}

// WithHTTPClient replaces the client used by ImportURL.
func (s *Service) WithHTTPClient(c *http.Client) *Service {
	if c != nil {
		s.client = c
	}
	return s
}

// CheckQuota returns ErrQuotaExceeded when the subscriber already owns the
// maximum number of books. Callers use it before downloading anything.
func (s *Service) CheckQuota(ctx context.Context, subID int64) error {
	n, err := s.store.BookCount(ctx, subID)
	if err != nil {
		return err
	}
	if n >= s.cfg.MaxBooks {
		return fmt.Errorf("%w (%d of %d)", domain.ErrQuotaExceeded, n, s.cfg.MaxBooks)
	}
	return nil
}

// ImportDocument extracts, splits and stores an uploaded file.
func (s *Service) ImportDocument(ctx context.Context, subID int64, name string, r io.Reader) (Result, error) {
	if err := s.CheckQuota(ctx, subID); err != nil {
		return Result{}, err
	}
	if !Supported(name) {
		return Result{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, filepath.Ext(name))
	}
	data, err := readLimited(r, s.cfg.MaxBytes)
	if err != nil {
		return Result{}, err
	}
	text, err := Extract(name, data)
	if err != nil {
		return Result{}, err
	}
	return s.save(ctx, subID, filepath.Base(name), text)
}

// ImportURL fetches a web page and stores its main text. The page title
// (or the URL) becomes the book title.
func (s *Service) ImportURL(ctx context.Context, subID int64, rawURL string) (Result, error) {
	if err := s.CheckQuota(ctx, subID); err != nil {
		return Result{}, err
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Result{}, fmt.Errorf("invalid link %q", rawURL)
	}
	title, text, err := s.fetch(ctx, u.String())
	if err != nil {
		return Result{}, err
	}
	if title == "" {
		title = u.String()
	}
	return s.save(ctx, subID, title, text)
}

func (s *Service) fetch(ctx context.Context, target string) (title, text string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", "readerbot/1.0")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("fetch: status %s", resp.Status)
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, s.cfg.MaxBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", "", fmt.Errorf("detect charset: %w", err)
	}
	doc, err := html.Parse(body)
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	if t := findElement(doc, "title"); t != nil {
		title = nodeText(t)
	}
	root := doc
	for _, tag := range []string{"article", "main", "body"} {
		if n := findElement(doc, tag); n != nil {
			root = n
			break
		}
	}
	text = strings.TrimSpace(paragraphs(root))
	if text == "" {
		return "", "", domain.ErrEmptyDocument
	}
	return title, text, nil
}

func (s *Service) save(ctx context.Context, subID int64, title, text string) (Result, error) {
	parts := chunker.Split(text, s.cfg.MaxChars)
	if len(parts) == 0 {
		return Result{}, domain.ErrEmptyDocument
	}

	s.createMu.Lock()
	if err := s.CheckQuota(ctx, subID); err != nil {
		s.createMu.Unlock()
		return Result{}, err
	}
	book, err := s.store.CreateBook(ctx, subID, title, parts)
	s.createMu.Unlock()
	if err != nil {
		return Result{}, fmt.Errorf("store book: %w", err)
	}

	if _, err := s.reader.SelectBook(ctx, subID, book.ID); err != nil {
		return Result{}, fmt.Errorf("select book: %w", err)
	}
	s.log.Info("book imported",
		logx.Int64("sub", subID),
		logx.Int64("book", book.ID),
		logx.String("title", title),
		logx.Int("fragments", len(parts)),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeBookAdded,
			Data: eventbus.BookAdded{SubscriberID: subID, BookID: book.ID, Fragments: len(parts)},
		})
	}
	return Result{Book: book, Fragments: len(parts)}, nil
}

var ErrTooLarge = errors.New("document too large")

func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w (limit %d bytes)", ErrTooLarge, max)
	}
	return data, nil
}

// Preview extracts and splits a document without storing it.
func Preview(name string, data []byte, maxChars int) ([]string, error) {
	text, err := Extract(name, data)
	if err != nil {
		return nil, err
	}
	if maxChars <= 0 {
		maxChars = chunker.DefaultMaxChars
	}
	return chunker.Split(text, maxChars), nil
}
