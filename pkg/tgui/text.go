package tgui

import (
	"strings"
	"unicode/utf8"
)

// TruncRunes shortens s to at most n runes, the trailing "…" included.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := 0
	for i := range s {
		if r == n-1 {
			return s[:i] + "…"
		}
		r++
	}
	return s
}

// Headline returns the first non-blank line of s, trimmed, for button labels
// and previews.
func Headline(s string) string {
	for line := range strings.Lines(s) {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
