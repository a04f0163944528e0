package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"readerbot/internal/ai"
	"readerbot/internal/delivery"
	"readerbot/internal/domain"
	"readerbot/internal/ingest"
	"readerbot/internal/reading"
	"readerbot/internal/schedule"
	"readerbot/internal/storage"
	kit "readerbot/internal/transport"
	logx "readerbot/pkg/logx"
	"readerbot/pkg/tgui"
)

type Deps struct {
	Adapter   kit.Adapter
	Store     storage.Store
	Reader    *reading.Controller
	Pipeline  *delivery.Pipeline
	Schedules *schedule.Manager
	Ingest    *ingest.Service
	Log       logx.Logger

	// WebAppURL is the browser page; empty disables the web-app button.
	WebAppURL string
}

// Bot holds the chat handlers. Register wires them into a Router.
type Bot struct {
	d     Deps
	convs *conversations
}

func New(d Deps) *Bot {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Bot{d: d, convs: newConversations()}
}

func (b *Bot) Register(r *Router) {
	cmds := []Command{
		{Name: "start", Description: "Start reading", Handle: b.start},
		{Name: "help", Description: "Show commands", Handle: b.help},
		{Name: "schedule", Description: "Set a delivery schedule", Handle: b.schedule},
		{Name: "unschedule", Description: "Stop scheduled delivery", Handle: b.unschedule},
		{Name: "selectbook", Description: "Choose a book", Handle: b.selectBook},
		{Name: "deletebook", Description: "Delete a book", Handle: b.deleteBook},
		{Name: "setvoice", Description: "Choose a narration voice", Handle: b.setVoice},
		{Name: "tts", Description: "Narrate the current fragment", Handle: b.tts},
		{Name: "uploadtext", Description: "Add a book", Handle: b.uploadText},
		{Name: "webapp", Description: "Open the reader in the browser", Handle: b.webApp},
	}
	for _, c := range cmds {
		c.Handle = b.resetting(c.Handle)
		r.Command(c)
	}

	buttons := map[string]HandlerFunc{
		LabelPrevious:      b.previous,
		LabelNext:          b.next,
		LabelReadNow:       b.next,
		LabelSelectBook:    b.selectBook,
		LabelSchedule:      b.schedule,
		LabelWebApp:        b.webApp,
		LabelManageUploads: b.manageUploads,
		LabelUploadText:    b.uploadText,
		LabelDeleteBook:    b.deleteBook,
		LabelMainMenu:      b.mainMenu,
	}
	for label, h := range buttons {
		r.Button(label, b.resetting(h))
	}

	r.Callback(CallbackRoute{Scope: "book", Action: "select", Handle: b.onSelectBook})
	r.Callback(CallbackRoute{Scope: "book", Action: "delete", Handle: b.onDeleteBook})
	r.Callback(CallbackRoute{Scope: "voice", Action: "set", Handle: b.onSetVoice})
	r.Callback(CallbackRoute{Scope: "frag", Action: "audio", Handle: b.onNarrate})
	r.Callback(CallbackRoute{Scope: "frag", Action: "pos", Handle: func(ctx context.Context, req *Request) error { return nil }})

	r.OnDocument(b.onDocument)
	r.OnWebApp(b.onWebAppData)
	r.OnText(b.onText)
}

// resetting abandons an unfinished /schedule dialog before h runs.
func (b *Bot) resetting(h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		b.convs.cancel(req.SubscriberID())
		return h(ctx, req)
	}
}

func (b *Bot) reply(ctx context.Context, req *Request, text string, markup any) {
	var opt *kit.SendOptions
	if markup != nil {
		opt = &kit.SendOptions{ReplyMarkupAdapter: markup}
	}
	if _, err := b.d.Adapter.SendText(ctx, req.Chat, text, opt); err != nil {
		req.Logger.Warn("reply failed", logx.Err(err))
	}
}

func (b *Bot) replyHTML(ctx context.Context, req *Request, text tgui.H, markup any) {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyMarkupAdapter: markup}
	if _, err := b.d.Adapter.SendText(ctx, req.Chat, text.String(), opt); err != nil {
		req.Logger.Warn("reply failed", logx.Err(err))
	}
}

func (b *Bot) webAppURL(chat int64) string {
	if b.d.WebAppURL == "" {
		return ""
	}
	return webAppLink(b.d.WebAppURL, chat)
}

func (b *Bot) start(ctx context.Context, req *Request) error {
	if err := b.d.Store.EnsureSubscriber(ctx, req.SubscriberID()); err != nil {
		return err
	}
	b.reply(ctx, req, "Welcome! Send a book file (PDF, EPUB, TXT, HTML, DOCX, MD) or a link to start reading. "+
		"Use the keyboard to read, or /schedule to get fragments automatically.",
		mainKeyboard(b.webAppURL(req.SubscriberID())))
	return nil
}

func (b *Bot) help(ctx context.Context, req *Request) error {
	lines := []tgui.H{tgui.B("Commands")}
	for _, c := range [][2]string{
		{"/schedule", "set a delivery window and interval"},
		{"/unschedule", "stop scheduled delivery"},
		{"/selectbook", "choose which book to read"},
		{"/deletebook", "delete one of your books"},
		{"/setvoice", "choose a narration voice"},
		{"/tts", "narrate the current fragment"},
		{"/uploadtext", "how to add a book"},
		{"/webapp", "read in the browser"},
	} {
		lines = append(lines, tgui.JoinH(" ", tgui.Code(c[0]), tgui.Esc(c[1])))
	}
	b.replyHTML(ctx, req, tgui.JoinH("\n", lines...), nil)
	return nil
}

func (b *Bot) mainMenu(ctx context.Context, req *Request) error {
	b.reply(ctx, req, "Main menu.", mainKeyboard(b.webAppURL(req.SubscriberID())))
	return nil
}

func (b *Bot) manageUploads(ctx context.Context, req *Request) error {
	b.reply(ctx, req, "Manage your books.", uploadsKeyboard())
	return nil
}

func (b *Bot) uploadText(ctx context.Context, req *Request) error {
	b.reply(ctx, req, "Send a file ("+strings.Join(ingest.Formats, ", ")+") or a link to a web page.", nil)
	return nil
}

func (b *Bot) next(ctx context.Context, req *Request) error {
	_, err := b.d.Pipeline.DeliverNow(ctx, req.SubscriberID())
	if errors.Is(err, domain.ErrNoSelection) || errors.Is(err, domain.ErrFragmentNotFound) {
		return nil
	}
	return err
}

func (b *Bot) previous(ctx context.Context, req *Request) error {
	return b.d.Pipeline.Previous(ctx, req.SubscriberID())
}

func (b *Bot) schedule(ctx context.Context, req *Request) error {
	// "/schedule 09:00 22:00 2" skips the dialog.
	if len(req.Args) == 3 {
		cfg, err := parseScheduleArgs(req.Args)
		if err != nil {
			b.reply(ctx, req, "Usage: /schedule HH:MM HH:MM hours", nil)
			return nil
		}
		return b.applySchedule(ctx, req, cfg)
	}
	b.convs.begin(req.SubscriberID())
	b.reply(ctx, req, "Start of the delivery window (HH:MM):", nil)
	return nil
}

func parseScheduleArgs(args []string) (domain.ScheduleConfig, error) {
	start, err := domain.ParseTimeOfDay(args[0])
	if err != nil {
		return domain.ScheduleConfig{}, err
	}
	end, err := domain.ParseTimeOfDay(args[1])
	if err != nil {
		return domain.ScheduleConfig{}, err
	}
	h, err := strconv.Atoi(args[2])
	if err != nil {
		return domain.ScheduleConfig{}, err
	}
	cfg := domain.ScheduleConfig{WindowStart: start, WindowEnd: end, IntervalHours: h}
	return cfg, cfg.Validate()
}

func (b *Bot) applySchedule(ctx context.Context, req *Request, cfg domain.ScheduleConfig) error {
	sub := req.SubscriberID()
	if err := b.d.Schedules.Set(sub, cfg); err != nil {
		b.reply(ctx, req, "Invalid schedule: "+err.Error(), nil)
		return nil
	}
	if err := b.d.Store.SetSchedule(ctx, sub, &cfg); err != nil {
		req.Logger.Warn("schedule not persisted", logx.Err(err))
	}
	b.reply(ctx, req, fmt.Sprintf("Schedule set: a fragment every %d h between %s and %s.",
		cfg.IntervalHours, cfg.WindowStart, cfg.WindowEnd), mainKeyboard(b.webAppURL(sub)))
	return nil
}

func (b *Bot) unschedule(ctx context.Context, req *Request) error {
	sub := req.SubscriberID()
	if !b.d.Schedules.Clear(sub) {
		b.reply(ctx, req, "You have no active schedule.", nil)
		return nil
	}
	if err := b.d.Store.SetSchedule(ctx, sub, nil); err != nil {
		req.Logger.Warn("schedule not cleared in store", logx.Err(err))
	}
	b.reply(ctx, req, "Scheduled delivery stopped.", nil)
	return nil
}

func (b *Bot) selectBook(ctx context.Context, req *Request) error {
	return b.listBooks(ctx, req, "select", "Choose a book:")
}

func (b *Bot) deleteBook(ctx context.Context, req *Request) error {
	return b.listBooks(ctx, req, "delete", "Choose a book to delete:")
}

func (b *Bot) listBooks(ctx context.Context, req *Request, action, title string) error {
	books, err := b.d.Reader.ListBooks(ctx, req.SubscriberID())
	if err != nil {
		return err
	}
	if len(books) == 0 {
		b.reply(ctx, req, "You have no books yet. Send a file or a link.", nil)
		return nil
	}
	b.reply(ctx, req, title, booksKeyboard(action, books))
	return nil
}

func (b *Bot) onSelectBook(ctx context.Context, req *Request) error {
	id, err := strconv.ParseInt(req.Payload, 10, 64)
	if err != nil {
		return nil
	}
	book, err := b.d.Reader.SelectBook(ctx, req.SubscriberID(), id)
	if errors.Is(err, domain.ErrBookNotFound) {
		req.Answer = "Book not found"
		return nil
	}
	if err != nil {
		return err
	}
	req.Answer = "Selected"
	b.reply(ctx, req, fmt.Sprintf("Selected %q. Press %s to read the first fragment.", book.Title, LabelNext), nil)
	return nil
}

func (b *Bot) onDeleteBook(ctx context.Context, req *Request) error {
	id, err := strconv.ParseInt(req.Payload, 10, 64)
	if err != nil {
		return nil
	}
	err = b.d.Reader.DeleteBook(ctx, req.SubscriberID(), id)
	if errors.Is(err, domain.ErrBookNotFound) {
		req.Answer = "Book not found"
		return nil
	}
	if err != nil {
		return err
	}
	req.Answer = "Deleted"
	b.reply(ctx, req, "Book deleted.", nil)
	return nil
}

func (b *Bot) setVoice(ctx context.Context, req *Request) error {
	if len(req.Args) == 1 {
		return b.storeVoice(ctx, req, req.Args[0])
	}
	sub, err := b.d.Store.GetSubscriber(ctx, req.SubscriberID())
	if err != nil {
		return err
	}
	b.reply(ctx, req, "Choose a narration voice:", voicesKeyboard(sub.PreferredVoice))
	return nil
}

func (b *Bot) onSetVoice(ctx context.Context, req *Request) error {
	return b.storeVoice(ctx, req, req.Payload)
}

func (b *Bot) storeVoice(ctx context.Context, req *Request, name string) error {
	voice, ok := canonicalVoice(name)
	if !ok {
		b.reply(ctx, req, "Unknown voice. Available: "+strings.Join(ai.Voices, ", "), nil)
		return nil
	}
	if err := b.d.Store.SetVoice(ctx, req.SubscriberID(), voice); err != nil {
		return err
	}
	req.Answer = voice
	b.reply(ctx, req, "Narration voice set to "+voice+".", nil)
	return nil
}

func canonicalVoice(name string) (string, bool) {
	for _, v := range ai.Voices {
		if strings.EqualFold(v, strings.TrimSpace(name)) {
			return v, true
		}
	}
	return "", false
}

// tts narrates the fragment at the cursor; it needs a chosen voice.
func (b *Bot) tts(ctx context.Context, req *Request) error {
	sub, err := b.d.Store.GetSubscriber(ctx, req.SubscriberID())
	if err != nil {
		return err
	}
	if sub.PreferredVoice == "" {
		b.reply(ctx, req, "Choose a voice first with /setvoice.", nil)
		return nil
	}
	return b.narrateCurrent(ctx, req, sub.Position)
}

func (b *Bot) narrateCurrent(ctx context.Context, req *Request, pos domain.Position) error {
	if pos.None() {
		b.reply(ctx, req, "No book selected. Use /selectbook.", nil)
		return nil
	}
	return b.d.Pipeline.Narrate(ctx, req.SubscriberID(), pos.BookID, pos.Index)
}

func (b *Bot) onNarrate(ctx context.Context, req *Request) error {
	bookRaw, idxRaw, ok := strings.Cut(req.Payload, ":")
	if !ok {
		return nil
	}
	bookID, err1 := strconv.ParseInt(bookRaw, 10, 64)
	idx, err2 := strconv.Atoi(idxRaw)
	if err1 != nil || err2 != nil {
		return nil
	}
	req.Answer = "Generating audio"
	err := b.d.Pipeline.Narrate(ctx, req.SubscriberID(), bookID, idx)
	if errors.Is(err, domain.ErrBookNotFound) || errors.Is(err, domain.ErrFragmentNotFound) {
		return nil
	}
	return err
}

func (b *Bot) webApp(ctx context.Context, req *Request) error {
	url := b.webAppURL(req.SubscriberID())
	if url == "" {
		b.reply(ctx, req, "The web app is not configured.", nil)
		return nil
	}
	b.reply(ctx, req, "Open the reader:", tgui.NewInline().Row(tgui.URLBtn("Open web app", url)).Markup())
	return nil
}

func (b *Bot) onWebAppData(ctx context.Context, req *Request) error {
	if strings.TrimSpace(req.Update.Message.WebAppData) != "tts" {
		return nil
	}
	sub, err := b.d.Store.GetSubscriber(ctx, req.SubscriberID())
	if err != nil {
		return err
	}
	return b.narrateCurrent(ctx, req, sub.Position)
}

func (b *Bot) onDocument(ctx context.Context, req *Request) error {
	doc := req.Update.Message.Document
	sub := req.SubscriberID()
	if err := b.d.Ingest.CheckQuota(ctx, sub); err != nil {
		return b.ingestFailed(ctx, req, err)
	}
	if !ingest.Supported(doc.FileName) {
		return b.ingestFailed(ctx, req, domain.ErrUnsupportedFormat)
	}
	rc, err := b.d.Adapter.DownloadFile(ctx, doc.FileID)
	if err != nil {
		b.reply(ctx, req, "Could not download the file. Try again.", nil)
		return err
	}
	defer rc.Close()
	res, err := b.d.Ingest.ImportDocument(ctx, sub, doc.FileName, rc)
	if err != nil {
		return b.ingestFailed(ctx, req, err)
	}
	b.imported(ctx, req, res)
	return nil
}

func (b *Bot) onText(ctx context.Context, req *Request) error {
	sub := req.SubscriberID()
	if res, ok := b.convs.feed(sub, req.Text); ok {
		if res.Done != nil {
			return b.applySchedule(ctx, req, *res.Done)
		}
		b.reply(ctx, req, res.Reply, nil)
		return nil
	}
	if strings.HasPrefix(req.Text, "http://") || strings.HasPrefix(req.Text, "https://") {
		res, err := b.d.Ingest.ImportURL(ctx, sub, req.Text)
		if err != nil {
			return b.ingestFailed(ctx, req, err)
		}
		b.imported(ctx, req, res)
		return nil
	}
	b.reply(ctx, req, "Use the keyboard below, send a book, or try /help.", mainKeyboard(b.webAppURL(sub)))
	return nil
}

func (b *Bot) imported(ctx context.Context, req *Request, res ingest.Result) {
	b.reply(ctx, req, fmt.Sprintf("%q is ready: %d fragments, selected. Press %s to read or set a /schedule.",
		res.Book.Title, res.Fragments, LabelNext), mainKeyboard(b.webAppURL(req.SubscriberID())))
}

func (b *Bot) ingestFailed(ctx context.Context, req *Request, err error) error {
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		b.reply(ctx, req, "You already have the maximum number of books. Delete one with /deletebook first.", nil)
	case errors.Is(err, domain.ErrUnsupportedFormat):
		b.reply(ctx, req, "Unsupported file format. Supported: "+strings.Join(ingest.Formats, ", ")+".", nil)
	case errors.Is(err, domain.ErrEmptyDocument):
		b.reply(ctx, req, "No text could be extracted.", nil)
	case errors.Is(err, ingest.ErrTooLarge):
		b.reply(ctx, req, "The file is too large.", nil)
	default:
		b.reply(ctx, req, "Could not process this source.", nil)
		return err
	}
	return nil
}
