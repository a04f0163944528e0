package transport

import (
	"context"
	"errors"
	"io"
)

// ErrNotModified is returned by EditText when the new content equals the
// current content. Callers treat it as a benign no-op.
var ErrNotModified = errors.New("message is not modified")

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
	UpdateDocument UpdateKind = "document"
	UpdateWebApp   UpdateKind = "web_app_data"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool

	Document   *Document // set for UpdateDocument
	WebAppData string    // set for UpdateWebApp
}

// Document is an uploaded file reference. Content is fetched lazily via
// Adapter.DownloadFile.
type Document struct {
	FileID   string
	FileName string
	MIME     string
	Size     int64
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Audio is an in-memory voice rendition sent as an audio message.
type Audio struct {
	Data     []byte
	FileName string
	Title    string
	Caption  string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// EditText returns ErrNotModified when the content is unchanged.
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	SendAudio(ctx context.Context, to ChatTarget, audio Audio) (MessageRef, error)
	DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Sender is the outbound subset of Adapter.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	SendAudio(ctx context.Context, to ChatTarget, audio Audio) (MessageRef, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
