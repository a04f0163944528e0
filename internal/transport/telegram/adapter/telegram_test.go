package adapter

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTextShortIsUnchanged(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextPrefersNewline(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(s, 10, "")
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextKeepsTagsWhole(t *testing.T) {
	t.Parallel()
	s := "xxxxxxxx<b>bold</b>"
	got := splitText(s, 10, "HTML")
	if got[0] != "xxxxxxxx" {
		t.Fatalf("first part %q cuts a tag", got[0])
	}
	if strings.Join(got, "") != s {
		t.Fatalf("parts %q lose text", got)
	}
}

func TestSplitTextRespectsRuneLimit(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("ж", 25)
	for _, p := range splitText(s, 10, "") {
		if n := utf8.RuneCountInString(p); n > 10 {
			t.Fatalf("part has %d runes", n)
		}
	}
}

func TestIsNotModified(t *testing.T) {
	t.Parallel()
	if !isNotModified(errors.New("telegram: Bad Request: message is not modified: specified new message content (400)")) {
		t.Fatal("not-modified error not recognized")
	}
	if isNotModified(errors.New("telegram: Forbidden (403)")) {
		t.Fatal("false positive")
	}
}
