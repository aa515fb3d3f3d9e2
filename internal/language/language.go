package language

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var namer = display.English.Tags()

// Scripts written without spaces between words.
var unspaced = map[string]bool{
	"zh": true, "ja": true, "th": true, "lo": true,
	"km": true, "my": true, "bo": true, "yue": true,
}

// ISO2 reduces a tag to its base language code. Empty, "auto" or
// unparseable input returns "" (auto-detect).
func ISO2(tag string) string {
	parsed, ok := parse(tag)
	if !ok {
		return ""
	}
	base, _ := parsed.Base()
	return base.String()
}

// DisplayName returns the English name for tag, e.g. "Simplified Chinese"
// for zh-Hans. Unknown tags are returned trimmed; empty input yields "".
func DisplayName(tag string) string {
	parsed, ok := parse(tag)
	if !ok {
		return strings.TrimSpace(tag)
	}
	if name := namer.Name(parsed); name != "" {
		return name
	}
	return strings.TrimSpace(tag)
}

// Joiner returns the separator placed between words of tag: "" for
// unspaced scripts such as Chinese and Japanese, otherwise a space.
func Joiner(tag string) string {
	if unspaced[ISO2(tag)] {
		return ""
	}
	return " "
}

// SpaceJoined reports whether tag is a known language whose words are
// separated by spaces.
func SpaceJoined(tag string) bool {
	base := ISO2(tag)
	return base != "" && !unspaced[base]
}

// Valid reports whether tag parses as BCP 47.
func Valid(tag string) bool {
	_, ok := parse(tag)
	return ok
}

func parse(tag string) (language.Tag, bool) {
	tag = strings.TrimSpace(tag)
	if tag == "" || strings.EqualFold(tag, "auto") {
		return language.Und, false
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return language.Und, false
	}
	return parsed, true
}
