package translate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// promptContext is the context shared by every prompt for one chunk.
type promptContext struct {
	Previous []string
	Next     []string
	Theme    string
	Notes    []Term
}

func (p promptContext) render() string {
	return fmt.Sprintf(`### Context Information
<previous_content>
%s
</previous_content>

<subsequent_content>
%s
</subsequent_content>

### Content Summary
%s

### Points to Note
%s`, joinOrNone(p.Previous), joinOrNone(p.Next), orNone(p.Theme), formatTerms(p.Notes))
}

// lineTemplate is the per-line JSON skeleton shown to the model.
type lineTemplate map[string]string

func faithfulnessPrompt(lines []string, srcLang, tgtLang string, ctx promptContext) string {
	skeleton := make([]lineTemplate, len(lines))
	for i, line := range lines {
		skeleton[i] = lineTemplate{
			"origin": line,
			"direct": fmt.Sprintf("direct %s translation %d.", tgtLang, i+1),
		}
	}
	return fmt.Sprintf(`## Role
You are a professional Netflix subtitle translator, fluent in both %[1]s and %[2]s.

## Task
Translate the original %[1]s subtitles into %[2]s line by line. Stay faithful to
the original meaning, keep terminology accurate and consistent, and take the
surrounding context into account.

%[3]s

## INPUT
<subtitles>
%[4]s
</subtitles>

## Output in only JSON format and no other text
`+"```json\n%[5]s\n```"+`

Note: Start your answer with `+"```json"+` and end with `+"```"+`, do not add any other text.`,
		srcLang, tgtLang, ctx.render(), strings.Join(lines, "\n"), skeletonJSON(skeleton))
}

func expressivenessPrompt(lines []string, direct []string, srcLang, tgtLang string, ctx promptContext) string {
	skeleton := make([]lineTemplate, len(lines))
	for i, line := range lines {
		skeleton[i] = lineTemplate{
			"origin":  line,
			"direct":  direct[i],
			"reflect": "your reflection on direct translation",
			"free":    "your free translation",
		}
	}
	return fmt.Sprintf(`## Role
You are a professional Netflix subtitle translator and language consultant.

## Task
Reflect on the direct %[2]s translations of the %[1]s subtitles below and
rewrite them as natural, fluent %[2]s subtitles.

### Structural Integrity
The number of translated lines must exactly match the number of original
lines. Never merge two lines into one or leave a line empty. Redistribute
meaning across adjacent lines instead of repeating it.

%[3]s

## INPUT
<subtitles>
%[4]s
</subtitles>

## Output in only JSON format and no other text
`+"```json\n%[5]s\n```"+`

Note: Start your answer with `+"```json"+` and end with `+"```"+`, do not add any other text.`,
		srcLang, tgtLang, ctx.render(), strings.Join(lines, "\n"), skeletonJSON(skeleton))
}

func singlePassPrompt(lines []string, srcLang, tgtLang string, ctx promptContext) string {
	skeleton := make([]lineTemplate, len(lines))
	for i, line := range lines {
		skeleton[i] = lineTemplate{
			"origin":  line,
			"direct":  fmt.Sprintf("faithful %s translation %d", tgtLang, i+1),
			"reflect": "brief reflection on wording and structure",
			"free":    fmt.Sprintf("natural and concise %s subtitle %d", tgtLang, i+1),
		}
	}
	return fmt.Sprintf(`## Role
You are a professional Netflix subtitle translator fluent in both %[1]s and %[2]s.

## Task
Translate the original %[1]s subtitles into %[2]s in a single pass. For each
line provide a faithful "direct" translation, a brief "reflect" note, and a
final natural "free" subtitle line.

### Hard Constraints
1. Line count must exactly match the number of source lines.
2. Never leave empty translations or merge two source lines into one.

%[3]s

## INPUT
<subtitles>
%[4]s
</subtitles>

## Output in only JSON format and no other text
`+"```json\n%[5]s\n```"+`

Note: Start your answer with `+"```json"+` and end with `+"```"+`, do not add any other text.`,
		srcLang, tgtLang, ctx.render(), strings.Join(lines, "\n"), skeletonJSON(skeleton))
}

func polishPrompt(source, draft []string, srcLang, tgtLang, theme string) string {
	return fmt.Sprintf(`## Role
You are a senior %[2]s subtitle localization editor.

## Task
Given the full %[1]s source and the full %[2]s draft translation, polish the
draft once for fluency, coherence and terminology consistency.

### Hard Constraints
1. The output must contain exactly %[3]d lines keyed "1" to "%[3]d".
2. Never merge, split, reorder, add or drop lines.
3. Every line is a single line of text; a non-empty source line never gets an empty translation.
4. Do not change facts or rewrite the source.

### Content Summary
%[4]s

## INPUT
<source_subtitles>
%[5]s
</source_subtitles>

<draft_translation>
%[6]s
</draft_translation>

## Output in only JSON format and no other text
`+"```json"+`
{
  "1": {"free": "polished line 1"},
  "N": {"free": "polished line N"}
}
`+"```"+`

Note: Start your answer with `+"```json"+` and end with `+"```"+`, do not add any other text.`,
		srcLang, tgtLang, len(draft), orNone(theme), numbered(source), numbered(draft))
}

func summaryPrompt(content, srcLang, tgtLang string, existing []Term) string {
	var existingNote string
	if len(existing) > 0 {
		existingNote = "\n### Existing Terms\nPlease exclude these terms in your extraction:\n" + formatTerms(existing) + "\n"
	}
	return fmt.Sprintf(`## Role
You are a video translation expert and terminology consultant, specializing in
%[1]s comprehension and %[2]s expression.

## Task
For the provided %[1]s video text:
1. Summarize the main topic in two sentences.
2. Extract fewer than 15 professional terms or names with %[2]s translations.
3. Provide a brief explanation for each term.
%[3]s
## INPUT
<text>
%[4]s
</text>

## Output in only JSON format and no other text
`+"```json"+`
{
  "theme": "Two-sentence video summary",
  "terms": [
    {"src": "%[1]s term", "tgt": "%[2]s translation or original", "note": "Brief explanation"}
  ]
}
`+"```"+`

Note: Start your answer with `+"```json"+` and end with `+"```"+`, do not add any other text.`,
		srcLang, tgtLang, existingNote, content)
}

func trimPrompt(text string, duration float64) string {
	return fmt.Sprintf(`## Role
You are a professional subtitle editor. Shorten subtitles that are too long
to read in the time they are on screen while keeping meaning and structure.

## INPUT
<subtitles>
Subtitle: "%s"
Duration: %s seconds
</subtitles>

## Processing Rules
Drop filler words and unnecessary modifiers or pronouns. Do not change
meaningful content.

## Output in only JSON format and no other text
`+"```json"+`
{
  "analysis": "Brief analysis of the subtitle",
  "result": "Optimized and shortened subtitle in the original subtitle language"
}
`+"```"+`

Note: Start your answer with `+"```json"+` and end with `+"```"+`, do not add any other text.`,
		text, strconv.FormatFloat(duration, 'f', 2, 64))
}

// skeletonJSON renders line templates as an object keyed "1".."n" in order.
func skeletonJSON(items []lineTemplate) string {
	var b bytes.Buffer
	b.WriteString("{\n")
	for i, item := range items {
		var value bytes.Buffer
		enc := json.NewEncoder(&value)
		enc.SetEscapeHTML(false)
		enc.SetIndent("  ", "  ")
		_ = enc.Encode(item)
		fmt.Fprintf(&b, "  %q: %s", strconv.Itoa(i+1), strings.TrimRight(value.String(), "\n"))
		if i < len(items)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString("}")
	return b.String()
}

func numbered(lines []string) string {
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, line)
	}
	return b.String()
}

func joinOrNone(lines []string) string {
	if len(lines) == 0 {
		return "None"
	}
	return strings.Join(lines, "\n")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None"
	}
	return s
}
