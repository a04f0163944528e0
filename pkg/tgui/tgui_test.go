package tgui

import (
	"strings"
	"testing"
)

func TestParseData(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		scope   string
		action  string
		payload string
		ok      bool
	}{
		{name: "full", raw: Data("frag", "audio", "3:12"), scope: "frag", action: "audio", payload: "3:12", ok: true},
		{name: "no payload", raw: Data("menu", "main", ""), scope: "menu", action: "main", ok: true},
		{name: "bare", raw: "Alloy", ok: false},
		{name: "empty action", raw: "book:", ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, a, p, ok := ParseData(tt.raw)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && (s != tt.scope || a != tt.action || p != tt.payload) {
				t.Fatalf("ParseData(%q) = %q %q %q", tt.raw, s, a, p)
			}
		})
	}
}

func TestCheckData(t *testing.T) {
	t.Parallel()
	if err := CheckData(strings.Repeat("x", MaxCallbackDataLen)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := CheckData(strings.Repeat("x", MaxCallbackDataLen+1)); err != ErrCallbackDataTooLong {
		t.Fatalf("err = %v, want ErrCallbackDataTooLong", err)
	}
}

func TestPlainText(t *testing.T) {
	t.Parallel()
	got := PlainText("<b>Chapter 1</b><br>It was a <i>dark</i> &amp; stormy night 🌧")
	want := "Chapter 1\nIt was a dark & stormy night 🌧"
	if got != want {
		t.Fatalf("PlainText = %q, want %q", got, want)
	}
	if PlainText("no markup") != "no markup" {
		t.Fatal("plain text must pass through")
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"Война и мир", 20, "Война и мир"},
		{"Война и мир", 6, "Война…"},
		{"abc", 3, "abc"},
		{"abcd", 1, "…"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncRunes(tt.in, tt.n); got != tt.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestHeadline(t *testing.T) {
	t.Parallel()
	if got := Headline("\n  \n  Chapter One  \nbody"); got != "Chapter One" {
		t.Fatalf("Headline = %q", got)
	}
	if got := Headline(" \n "); got != "" {
		t.Fatalf("Headline = %q", got)
	}
}

func TestEsc(t *testing.T) {
	t.Parallel()
	if got := B("a<b").String(); got != "<b>a&lt;b</b>" {
		t.Fatalf("B = %q", got)
	}
}

func TestReplyKeyboardWebApp(t *testing.T) {
	t.Parallel()
	rm := Reply([][]string{{"Next", "Web app"}}, "Web app", "https://example.org/webapp")
	if len(rm.ReplyKeyboard) != 1 || len(rm.ReplyKeyboard[0]) != 2 {
		t.Fatalf("unexpected layout %+v", rm.ReplyKeyboard)
	}
	if rm.ReplyKeyboard[0][1].WebApp == nil {
		t.Fatal("web app button missing")
	}
	if rm.ReplyKeyboard[0][0].WebApp != nil {
		t.Fatal("plain button got web app")
	}
}
