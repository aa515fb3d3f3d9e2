package translate

import "strings"

// Chunk is a run of consecutive source lines translated together.
type Chunk struct {
	Index int
	Lines []string
}

// Text joins the chunk lines with newlines.
func (c Chunk) Text() string {
	return strings.Join(c.Lines, "\n")
}

// BuildChunks packs lines greedily: a chunk is closed when adding the next
// line (plus its newline) would exceed charBudget or when it already holds
// maxLines lines. A line is never split, so a single line longer than the
// budget becomes its own chunk. Concatenating every chunk yields lines.
func BuildChunks(lines []string, charBudget, maxLines int) []Chunk {
	if charBudget <= 0 {
		charBudget = 600
	}
	if maxLines <= 0 {
		maxLines = 10
	}
	var chunks []Chunk
	var current []string
	size := 0
	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Lines: current})
		current = nil
		size = 0
	}
	for _, line := range lines {
		cost := len(line) + 1
		if len(current) > 0 && (size+cost > charBudget || len(current) >= maxLines) {
			flush()
		}
		current = append(current, line)
		size += cost
	}
	flush()
	return chunks
}

// previousContext returns up to n trailing lines of the chunk before i.
func previousContext(chunks []Chunk, i, n int) []string {
	if i <= 0 || i > len(chunks) || n <= 0 {
		return nil
	}
	lines := chunks[i-1].Lines
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// nextContext returns up to n leading lines of the chunk after i.
func nextContext(chunks []Chunk, i, n int) []string {
	if i < 0 || i >= len(chunks)-1 || n <= 0 {
		return nil
	}
	lines := chunks[i+1].Lines
	if len(lines) > n {
		lines = lines[:n]
	}
	return lines
}
