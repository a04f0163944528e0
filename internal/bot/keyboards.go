package bot

import (
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"readerbot/internal/ai"
	"readerbot/internal/domain"
	"readerbot/pkg/tgui"
)

// Reply keyboard labels.
const (
	LabelPrevious      = "Previous"
	LabelNext          = "Next"
	LabelSelectBook    = "Select book"
	LabelSchedule      = "Schedule"
	LabelWebApp        = "Web app"
	LabelManageUploads = "Manage uploads"
	LabelReadNow       = "Read now"

	LabelUploadText = "Upload text"
	LabelDeleteBook = "Delete book"
	LabelMainMenu   = "Main menu"
)

func mainKeyboard(webAppURL string) *tele.ReplyMarkup {
	return tgui.Reply([][]string{
		{LabelPrevious, LabelNext},
		{LabelSelectBook, LabelSchedule},
		{LabelWebApp, LabelManageUploads},
		{LabelReadNow},
	}, LabelWebApp, webAppURL)
}

func uploadsKeyboard() *tele.ReplyMarkup {
	return tgui.Reply([][]string{
		{LabelUploadText, LabelDeleteBook},
		{LabelMainMenu},
	}, "", "")
}

func booksKeyboard(action string, books []domain.Book) *tele.ReplyMarkup {
	btns := make([]tele.Btn, 0, len(books))
	for _, b := range books {
		btns = append(btns, tgui.Btn(tgui.TruncRunes(b.Title, 48), tgui.Data("book", action, strconv.FormatInt(b.ID, 10))))
	}
	return tgui.Column(btns)
}

func voicesKeyboard(current string) *tele.ReplyMarkup {
	in := tgui.NewInline()
	row := make([]tele.Btn, 0, 3)
	for _, v := range ai.Voices {
		label := v
		if v == current {
			label = "✓ " + v
		}
		row = append(row, tgui.Btn(label, tgui.Data("voice", "set", v)))
		if len(row) == 3 {
			in.Row(row...)
			row = make([]tele.Btn, 0, 3)
		}
	}
	if len(row) > 0 {
		in.Row(row...)
	}
	return in.Markup()
}

func webAppLink(base string, chatID int64) string {
	return fmt.Sprintf("%s?chat_id=%d", base, chatID)
}
