package subtitles

import (
	"fmt"
	"path/filepath"
	"strings"

	"subflow/internal/align"
	"subflow/internal/fileutil"
)

// Artifact file names written into the workspace.
const (
	FileSource            = "src.srt"
	FileTranslation       = "trans.srt"
	FileSourceTranslation = "src_trans.srt"
	FileTranslationSource = "trans_src.srt"
	FileASS               = "src_trans.ass"
)

// Field selects which text of an Entry a track shows.
type Field int

const (
	FieldSource Field = iota
	FieldTranslation
)

// Entry is one timed subtitle line in both languages.
type Entry struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Source      string  `json:"source"`
	Translation string  `json:"translation"`
}

func (e Entry) text(f Field) string {
	if f == FieldTranslation {
		return strings.TrimSpace(e.Translation)
	}
	return strings.TrimSpace(e.Source)
}

// BuildEntries zips alignment windows with source and translated lines.
func BuildEntries(windows []align.Window, source, translation []string) ([]Entry, error) {
	if len(windows) != len(source) || len(source) != len(translation) {
		return nil, fmt.Errorf("subtitle inputs disagree: %d windows, %d source lines, %d translations",
			len(windows), len(source), len(translation))
	}
	entries := make([]Entry, len(windows))
	for i, w := range windows {
		entries[i] = Entry{Start: w.Start, End: w.End, Source: source[i], Translation: translation[i]}
	}
	return entries, nil
}

// RenderSRT renders entries as SRT. With more than one field each entry
// yields one cue per field, all sharing the entry's timing.
func RenderSRT(entries []Entry, fields ...Field) string {
	var b strings.Builder
	n := 0
	for _, e := range entries {
		timing := FormatSRTTimestamp(e.Start) + " --> " + FormatSRTTimestamp(e.End)
		for _, f := range fields {
			n++
			if n > 1 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%d\n%s\n%s\n", n, timing, e.text(f))
		}
	}
	return b.String()
}

// Style is the ASS font configuration.
type Style struct {
	TranslationFont string
	SourceFont      string
	FontSize        int
}

// DefaultStyle returns the stock bilingual style.
func DefaultStyle() Style {
	return Style{TranslationFont: "SimHei", SourceFont: "Arial", FontSize: 70}
}

func (s Style) header() string {
	return fmt.Sprintf(`[Script Info]
Title: subflow
ScriptType: v4.00+
PlayResX: 1920
PlayResY: 1080

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Source,%s,%d,&H00FFFFFF,&H000000FF,&H003B3C3D,&H00000000,0,0,0,0,100,100,1,0,1,2,0.2,2,0,0,5,1
Style: Translation,%s,%d,&H00FFFFFF,&H000000FF,&H00723208,&H00000000,-1,0,0,0,110,100,1,0,1,2.5,1.5,2,0,0,57,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`, s.SourceFont, s.FontSize, s.TranslationFont, s.FontSize)
}

// RenderASS renders entries with the translation above the source line.
func RenderASS(entries []Entry, style Style) string {
	var b strings.Builder
	b.WriteString(style.header())
	for _, e := range entries {
		start, end := FormatASSTimestamp(e.Start), FormatASSTimestamp(e.End)
		if text := assText(e.text(FieldTranslation)); text != "" {
			fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Translation,,0,0,0,,%s\n", start, end, text)
		}
		if text := assText(e.text(FieldSource)); text != "" {
			fmt.Fprintf(&b, "Dialogue: 1,%s,%s,Source,,0,0,0,,%s\n", start, end, text)
		}
	}
	return b.String()
}

func assText(text string) string {
	return strings.ReplaceAll(text, "\n", `\N`)
}

// LooksLikeASS reports whether data has the sections an ASS file needs.
func LooksLikeASS(data []byte) bool {
	content := string(data)
	return strings.Contains(content, "[Script Info]") && strings.Contains(content, "[Events]")
}

// WriteAll renders every subtitle artifact into dir. Translations are
// tidied with FilterCJKPunctuation first. It returns the written paths.
func WriteAll(dir string, entries []Entry, style Style) ([]string, error) {
	display := make([]Entry, len(entries))
	for i, e := range entries {
		e.Translation = FilterCJKPunctuation(e.Translation)
		display[i] = e
	}
	outputs := []struct {
		name    string
		content string
	}{
		{FileSource, RenderSRT(display, FieldSource)},
		{FileTranslation, RenderSRT(display, FieldTranslation)},
		{FileSourceTranslation, RenderSRT(display, FieldSource, FieldTranslation)},
		{FileTranslationSource, RenderSRT(display, FieldTranslation, FieldSource)},
		{FileASS, RenderASS(display, style)},
	}
	paths := make([]string, 0, len(outputs))
	for _, out := range outputs {
		path := filepath.Join(dir, out.name)
		if err := fileutil.WriteFileAtomic(path, []byte(out.content), 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", out.name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
