package align

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"subflow/internal/textutil"
)

// Window is the time span covered by one sentence. StartWord and EndWord
// are inclusive word indexes.
type Window struct {
	StartWord int     `json:"start_word"`
	EndWord   int     `json:"end_word"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

// Duration returns End - Start.
func (w Window) Duration() float64 {
	return w.End - w.Start
}

// MismatchError reports a sentence that could not be found in the words at
// or after the scan cursor.
type MismatchError struct {
	Index      int
	Sentence   string
	Normalized string
	// Candidate is the closest same-length stretch of normalized words
	// after the cursor, with its timing.
	Candidate      string
	CandidateStart float64
	CandidateEnd   float64
	Similarity     float64
}

func (e *MismatchError) Error() string {
	msg := fmt.Sprintf("no exact match for sentence %d %q", e.Index, e.Sentence)
	if e.Candidate != "" {
		msg += fmt.Sprintf("; nearest %q at %.2fs-%.2fs (similarity %.2f)",
			e.Candidate, e.CandidateStart, e.CandidateEnd, e.Similarity)
	}
	return msg
}

// candidateScanLimit bounds how many word starts are scored when building a
// MismatchError.
const candidateScanLimit = 400

type wordIndex struct {
	text   string
	owner  []int // byte offset -> word index
	starts []int // byte offset of each word start, -1 for empty words
	words  []Word
}

func buildIndex(words []Word) wordIndex {
	var b strings.Builder
	idx := wordIndex{words: words, starts: make([]int, len(words))}
	for i, w := range words {
		clean := textutil.Compact(textutil.NormalizeForMatch(w.Word))
		if clean == "" {
			idx.starts[i] = -1
			continue
		}
		idx.starts[i] = b.Len()
		b.WriteString(clean)
		for range len(clean) {
			idx.owner = append(idx.owner, i)
		}
	}
	idx.text = b.String()
	return idx
}

// Align returns one window per sentence. Sentences must appear in
// transcript order. A sentence that normalizes to nothing gets a zero-width
// window at the cursor.
func Align(words []Word, sentences []string) ([]Window, error) {
	idx := buildIndex(words)
	windows := make([]Window, 0, len(sentences))
	cursor := 0
	lastEnd := 0.0
	if len(words) > 0 {
		lastEnd = words[0].Start
	}

	for i, sentence := range sentences {
		clean := textutil.Compact(textutil.NormalizeForMatch(sentence))
		if clean == "" {
			at := idx.wordAt(cursor)
			windows = append(windows, Window{StartWord: at, EndWord: at, Start: lastEnd, End: lastEnd})
			continue
		}
		offset := strings.Index(idx.text[cursor:], clean)
		if offset < 0 {
			return nil, idx.mismatch(i, sentence, clean, cursor)
		}
		begin := cursor + offset
		end := begin + len(clean) - 1
		first, last := idx.owner[begin], idx.owner[end]
		w := Window{
			StartWord: first,
			EndWord:   last,
			Start:     words[first].Start,
			End:       words[last].End,
		}
		windows = append(windows, w)
		lastEnd = w.End
		cursor = end + 1
	}
	return windows, nil
}

// wordAt returns the word owning byte offset pos, clamped to the last word.
func (idx wordIndex) wordAt(pos int) int {
	if len(idx.owner) == 0 {
		return 0
	}
	if pos >= len(idx.owner) {
		return idx.owner[len(idx.owner)-1]
	}
	return idx.owner[pos]
}

func (idx wordIndex) mismatch(i int, sentence, clean string, cursor int) error {
	err := &MismatchError{Index: i, Sentence: sentence, Normalized: clean}
	want := utf8.RuneCountInString(clean)
	scanned := 0
	for w, start := range idx.starts {
		if start < cursor || scanned >= candidateScanLimit {
			continue
		}
		scanned++
		candidate := takeRunes(idx.text[start:], want)
		ratio := textutil.SequenceRatio(clean, candidate)
		if ratio <= err.Similarity && err.Candidate != "" {
			continue
		}
		last := idx.owner[start+len(candidate)-1]
		err.Candidate = candidate
		err.Similarity = ratio
		err.CandidateStart = idx.words[w].Start
		err.CandidateEnd = idx.words[last].End
	}
	return err
}

func takeRunes(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

// MergeGaps closes small silences: when the gap between a window's end and
// the next window's start is positive and below threshold seconds, the
// earlier window is extended to the later start.
func MergeGaps(windows []Window, threshold float64) []Window {
	out := append([]Window(nil), windows...)
	for i := 0; i+1 < len(out); i++ {
		gap := out[i+1].Start - out[i].End
		if gap > 0 && gap < threshold {
			out[i].End = out[i+1].Start
		}
	}
	return out
}

// Durations returns each window's duration.
func Durations(windows []Window) []float64 {
	out := make([]float64, len(windows))
	for i, w := range windows {
		out[i] = w.Duration()
	}
	return out
}
