package chunker

import (
	"math/rand"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"
)

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func TestSplitEmpty(t *testing.T) {
	t.Parallel()
	if got := Split("", 10); len(got) != 0 {
		t.Fatalf("expected no fragments, got %d", len(got))
	}
	if got := Split(" \n\t ", 10); len(got) != 0 {
		t.Fatalf("expected no fragments for blank text, got %q", got)
	}
}

func TestSplitShortText(t *testing.T) {
	t.Parallel()
	got := Split("  hello world \n", 100)
	if len(got) != 1 || got[0] != "hello world" {
		t.Fatalf("Split short = %q, want [\"hello world\"]", got)
	}
}

func TestSplitPrefersNewline(t *testing.T) {
	t.Parallel()
	text := "A\n" + strings.Repeat("B", 5000)
	got := Split(text, 4000)

	// The only newline sits at offset 1, so the first cut lands there; the
	// 5000-rune run behind it has no newline and is hard-cut.
	want := []string{"A", strings.Repeat("B", 4000), strings.Repeat("B", 1000)}
	if len(got) != len(want) {
		t.Fatalf("got %d fragments, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fragment %d mismatch (len %d, want len %d)", i, len(got[i]), len(want[i]))
		}
	}
	if strings.Join(got, "") != stripSpace(text) {
		t.Fatal("concatenation does not reproduce input")
	}
}

func TestSplitCutsAtLastNewlineBeforeLimit(t *testing.T) {
	t.Parallel()
	text := "aaaa\nbbbb\ncccc\ndddd"
	got := Split(text, 12)
	want := []string{"aaaa\nbbbb", "cccc\ndddd"}
	if len(got) != len(want) {
		t.Fatalf("Split = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Split = %q, want %q", got, want)
		}
	}
}

func TestSplitNewlineAtZeroIsHardCut(t *testing.T) {
	t.Parallel()
	got := Split("\n"+strings.Repeat("x", 9), 5)
	for _, f := range got {
		if utf8.RuneCountInString(f) > 5 {
			t.Fatalf("fragment %q exceeds limit", f)
		}
	}
	if strings.Join(got, "") != strings.Repeat("x", 9) {
		t.Fatalf("Split = %q", got)
	}
}

func TestSplitCountsRunes(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("ж", 25)
	got := Split(text, 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(got))
	}
	for _, f := range got {
		if !utf8.ValidString(f) {
			t.Fatalf("fragment is not valid UTF-8: %q", f)
		}
	}
}

func TestSplitProperties(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("abc de\n\nfgh\tй ")
	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(600)
		rs := make([]rune, n)
		for i := range rs {
			rs[i] = alphabet[rng.Intn(len(alphabet))]
		}
		text := string(rs)
		maxChars := 1 + rng.Intn(80)

		got := Split(text, maxChars)
		for i, f := range got {
			if f == "" {
				t.Fatalf("iter %d: empty fragment at %d", iter, i)
			}
			if c := utf8.RuneCountInString(f); c > maxChars {
				t.Fatalf("iter %d: fragment %d has %d runes > %d", iter, i, c, maxChars)
			}
		}
		if stripSpace(strings.Join(got, "")) != stripSpace(text) {
			t.Fatalf("iter %d: content not preserved in order", iter)
		}
	}
}
