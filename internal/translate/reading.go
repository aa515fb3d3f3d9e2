package translate

import (
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
)

// secondsPerSyllable is the spoken pace per detected language.
var secondsPerSyllable = map[whatlanggo.Lang]float64{
	whatlanggo.Eng: 0.225,
	whatlanggo.Cmn: 0.21,
	whatlanggo.Jpn: 0.21,
	whatlanggo.Kor: 0.21,
	whatlanggo.Fra: 0.22,
	whatlanggo.Spa: 0.22,
	whatlanggo.Ita: 0.22,
	whatlanggo.Por: 0.22,
	whatlanggo.Deu: 0.23,
	whatlanggo.Rus: 0.23,
}

const (
	defaultSecondsPerSyllable = 0.22
	pauseSeconds              = 0.1
)

// EstimateReadingSeconds approximates how long text takes to read aloud.
// CJK characters count as one syllable each; other words count their vowel
// groups. Punctuation adds a short pause.
func EstimateReadingSeconds(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	rate := defaultSecondsPerSyllable
	info := whatlanggo.Detect(text)
	if info.IsReliable() {
		if r, ok := secondsPerSyllable[info.Lang]; ok {
			rate = r
		}
	}

	syllables, pauses := 0, 0
	var word []rune
	flushWord := func() {
		if len(word) > 0 {
			syllables += vowelGroups(word)
			word = word[:0]
		}
	}
	for _, r := range text {
		switch {
		case isSyllabicScript(r):
			flushWord()
			syllables++
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			word = append(word, unicode.ToLower(r))
		case unicode.IsPunct(r):
			flushWord()
			pauses++
		default:
			flushWord()
		}
	}
	flushWord()
	return float64(syllables)*rate + float64(pauses)*pauseSeconds
}

func isSyllabicScript(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// vowelGroups counts runs of vowels, at least one per word.
func vowelGroups(word []rune) int {
	count := 0
	inVowel := false
	for _, r := range word {
		v := strings.ContainsRune("aeiouyàáâäèéêëìíîïòóôöùúûüæœ", r)
		if v && !inVowel {
			count++
		}
		inVowel = v
	}
	if count == 0 {
		return 1
	}
	return count
}
