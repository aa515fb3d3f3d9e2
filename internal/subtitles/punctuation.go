package subtitles

import (
	"regexp"
	"strings"
)

var quotePatterns = []*regexp.Regexp{
	regexp.MustCompile(`"([^"]*)"`),
	regexp.MustCompile(`“([^”]*)”`),
	regexp.MustCompile(`'([^']*)'`),
	regexp.MustCompile(`‘([^’]*)’`),
	regexp.MustCompile(`『([^』]*)』`),
	regexp.MustCompile(`《([^》]*)》`),
	regexp.MustCompile(`【([^】]*)】`),
}

var (
	punctuationToSpace = strings.NewReplacer("，", " ", "、", " ", "；", " ", "：", " ", "。", " ")
	punctuationDropped = strings.NewReplacer(
		"……", "", "——", "", "—", "",
		"（", "", "）", "", "【", "", "】", "", "《", "", "》", "",
		"『", "", "』", "", "〈", "", "〉", "", "〔", "", "〕", "",
		"〖", "", "〗", "", "〘", "", "〙", "", "〚", "", "〛", "",
		"﹝", "", "﹞", "", "﹙", "", "﹚", "", "﹛", "", "﹜", "",
		"﹤", "", "﹥", "",
	)
	spaceRun = regexp.MustCompile(`\s+`)
)

// FilterCJKPunctuation tidies translated subtitle text for display: quotes
// become 「」, pausing punctuation becomes a space, and brackets and dashes
// are dropped. Question and exclamation marks are kept.
func FilterCJKPunctuation(text string) string {
	for _, pattern := range quotePatterns {
		text = pattern.ReplaceAllString(text, "「$1」")
	}
	text = punctuationToSpace.Replace(text)
	text = punctuationDropped.Replace(text)
	return strings.TrimSpace(spaceRun.ReplaceAllString(text, " "))
}
