// Package chunker partitions long text into bounded fragments ahead of delivery.
package chunker

import "unicode"

// DefaultMaxChars keeps a fragment (plus UI chrome) under Telegram's 4096 limit.
const DefaultMaxChars = 4000

// Split cuts text into ordered fragments of at most maxChars characters (runes).
//
// Each cut happens at the last newline strictly before maxChars; when there is
// none (or it is the very first character) the cut is hard at maxChars.
// Fragments are whitespace-trimmed and empty fragments are never emitted, so
// persisting them as 1..N keeps indices gap-free.
func Split(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	rs := []rune(text)
	var out []string
	for len(rs) > maxChars {
		cut := lastNewline(rs[:maxChars])
		if cut <= 0 {
			cut = maxChars
		}
		if part := trim(rs[:cut]); len(part) > 0 {
			out = append(out, string(part))
		}
		rs = trim(rs[cut:])
	}
	if rest := trim(rs); len(rest) > 0 {
		out = append(out, string(rest))
	}
	return out
}

func lastNewline(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == '\n' {
			return i
		}
	}
	return -1
}

func trim(rs []rune) []rune {
	i, j := 0, len(rs)
	for i < j && unicode.IsSpace(rs[i]) {
		i++
	}
	for j > i && unicode.IsSpace(rs[j-1]) {
		j--
	}
	return rs[i:j]
}
