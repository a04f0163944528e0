package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline is a small builder for inline keyboards (ReplyMarkup).
// It stores rows as tele.Row ([]tele.Btn) and applies them via ReplyMarkup.Inline().
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a new row (buttons) to the inline keyboard.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Markup returns underlying reply markup.
func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data (we do NOT encode it).
// Use Data to build "scope:action:payload" safely.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// URLBtn creates a URL button.
func URLBtn(text, url string) tele.Btn {
	return tele.Btn{Text: text, URL: url}
}

// Column returns an inline keyboard with one button per row.
func Column(buttons []tele.Btn) *tele.ReplyMarkup {
	in := NewInline()
	for _, b := range buttons {
		in.Row(b)
	}
	return in.Markup()
}

// Reply builds a persistent reply keyboard from rows of button labels.
// A label matching webAppLabel becomes a Web App button opening webAppURL.
func Reply(rows [][]string, webAppLabel, webAppURL string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	out := make([]tele.Row, 0, len(rows))
	for _, labels := range rows {
		btns := make([]tele.Btn, 0, len(labels))
		for _, l := range labels {
			b := tele.Btn{Text: l}
			if webAppURL != "" && l == webAppLabel {
				b.WebApp = &tele.WebApp{URL: webAppURL}
			}
			btns = append(btns, b)
		}
		out = append(out, rm.Row(btns...))
	}
	rm.Reply(out...)
	return rm
}
