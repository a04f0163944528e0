// Package webapp serves the browser reader: a static page plus a small JSON
// API over the reading controller, keyed by chat id.
package webapp

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"readerbot/internal/domain"
	"readerbot/internal/reading"
	logx "readerbot/pkg/logx"
)

//go:embed page.html
var page []byte

// HealthFunc reports runtime state for GET /health.
type HealthFunc func() any

type handler struct {
	reader *reading.Controller
	health HealthFunc
	log    logx.Logger
}

type ctxKey struct{}

// Routes builds the router. It does not apply CORS; Server does.
func Routes(reader *reading.Controller, health HealthFunc, log logx.Logger) *mux.Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &handler{reader: reader, health: health, log: log}

	r := mux.NewRouter()
	r.Use(h.requestID, h.accessLog)

	r.HandleFunc("/health", h.getHealth).Methods(http.MethodGet)
	r.HandleFunc("/webapp", h.getPage).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/part/{chat_id:-?[0-9]+}", h.getPart).Methods(http.MethodGet)
	api.HandleFunc("/next/{chat_id:-?[0-9]+}", h.postNext).Methods(http.MethodPost)
	api.HandleFunc("/prev/{chat_id:-?[0-9]+}", h.postPrev).Methods(http.MethodPost)
	api.HandleFunc("/books/{chat_id:-?[0-9]+}", h.getBooks).Methods(http.MethodGet)
	api.HandleFunc("/select_book/{chat_id:-?[0-9]+}/{book_id:[0-9]+}", h.postSelect).Methods(http.MethodPost)
	return r
}

func (h *handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (h *handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		rid, _ := r.Context().Value(ctxKey{}).(string)
		fields := []logx.Field{
			logx.String("rid", rid),
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", sw.code),
			logx.Duration("dur", time.Since(start)),
		}
		if sw.code >= 500 {
			h.log.Warn("http request", fields...)
			return
		}
		h.log.Debug("http request", fields...)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type statusBody struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, statusBody{Status: "error", Message: msg})
}

// fail maps controller errors to responses.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, chat int64, err error) {
	switch {
	case errors.Is(err, domain.ErrNoSelection):
		writeError(w, http.StatusConflict, "No book selected")
	case errors.Is(err, domain.ErrFragmentNotFound):
		writeError(w, http.StatusNotFound, "There is no current fragment")
	case errors.Is(err, domain.ErrBookNotFound):
		writeError(w, http.StatusNotFound, "Book not found")
	case errors.Is(err, domain.ErrAtFirstFragment):
		writeError(w, http.StatusConflict, "This is the first fragment")
	default:
		h.log.Error("web app request failed", logx.Err(err), logx.Int64("chat_id", chat), logx.String("path", r.URL.Path))
		writeError(w, http.StatusInternalServerError, "Server error")
	}
}

func chatID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["chat_id"], 10, 64)
	return id
}

func (h *handler) getPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (h *handler) getHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if h.health != nil {
		body["runtime"] = h.health()
	}
	writeJSON(w, http.StatusOK, body)
}

type partBody struct {
	Status string `json:"status"`
	BookID int64  `json:"book_id"`
	Title  string `json:"title"`
	Index  int    `json:"index"`
	Total  int    `json:"total"`
	Text   string `json:"text"`
}

func (h *handler) getPart(w http.ResponseWriter, r *http.Request) {
	chat := chatID(r)
	view, err := h.reader.Current(r.Context(), chat)
	if err != nil {
		h.fail(w, r, chat, err)
		return
	}
	writeJSON(w, http.StatusOK, partBody{
		Status: "ok",
		BookID: view.Book.ID,
		Title:  view.Book.Title,
		Index:  view.Fragment.Index,
		Total:  view.Total,
		Text:   view.Fragment.Text,
	})
}

// postNext moves the cursor without sending anything to the chat. Past the
// last fragment the selection is cleared and "completed" is reported.
func (h *handler) postNext(w http.ResponseWriter, r *http.Request) {
	chat := chatID(r)
	_, err := h.reader.Advance(r.Context(), chat)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, statusBody{Status: "success"})
	case errors.Is(err, domain.ErrBookCompleted):
		writeJSON(w, http.StatusOK, statusBody{Status: "completed", Message: "That was the last fragment"})
	default:
		h.fail(w, r, chat, err)
	}
}

func (h *handler) postPrev(w http.ResponseWriter, r *http.Request) {
	chat := chatID(r)
	if _, err := h.reader.Retreat(r.Context(), chat); err != nil {
		h.fail(w, r, chat, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "success"})
}

type bookBody struct {
	BookID int64  `json:"book_id"`
	Title  string `json:"title"`
}

func (h *handler) getBooks(w http.ResponseWriter, r *http.Request) {
	chat := chatID(r)
	books, err := h.reader.ListBooks(r.Context(), chat)
	if err != nil {
		h.fail(w, r, chat, err)
		return
	}
	out := make([]bookBody, 0, len(books))
	for _, b := range books {
		out = append(out, bookBody{BookID: b.ID, Title: b.Title})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) postSelect(w http.ResponseWriter, r *http.Request) {
	chat := chatID(r)
	bookID, _ := strconv.ParseInt(mux.Vars(r)["book_id"], 10, 64)
	if _, err := h.reader.SelectBook(r.Context(), chat, bookID); err != nil {
		h.fail(w, r, chat, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "success"})
}
