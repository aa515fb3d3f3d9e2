package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeForMatch applies NFKC, lowercases, and drops every rune that is
// not a letter, digit, or space.
func NormalizeForMatch(text string) string {
	text = strings.ToLower(norm.NFKC.String(text))
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// Compact removes all whitespace.
func Compact(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
}

// trimPunctuation is the set removed by StripPunctuation.
const trimPunctuation = ",.!?;:，。！？；："

// StripPunctuation replaces sentence punctuation in both ASCII and CJK
// full-width forms with spaces, then trims surrounding space.
func StripPunctuation(text string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if strings.ContainsRune(trimPunctuation, r) {
			return ' '
		}
		return r
	}, text))
}

// CompareKey lowercases and concatenates lines for similarity checks.
func CompareKey(lines []string) string {
	return strings.ToLower(strings.Join(lines, ""))
}
