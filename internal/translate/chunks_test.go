package translate

import (
	"fmt"
	"slices"
	"strings"
	"testing"
)

func TestBuildChunksKeepsOrderAndBudget(t *testing.T) {
	var lines []string
	for i := range 57 {
		lines = append(lines, fmt.Sprintf("sentence number %d %s", i, strings.Repeat("x", i%13)))
	}
	const budget, maxLines = 120, 4
	chunks := BuildChunks(lines, budget, maxLines)

	var joined []string
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Fatalf("chunk %d has index %d", i, chunk.Index)
		}
		if len(chunk.Lines) == 0 || len(chunk.Lines) > maxLines {
			t.Fatalf("chunk %d has %d lines", i, len(chunk.Lines))
		}
		size := 0
		for _, line := range chunk.Lines {
			size += len(line) + 1
		}
		if size > budget && len(chunk.Lines) > 1 {
			t.Fatalf("chunk %d exceeds budget: %d", i, size)
		}
		joined = append(joined, chunk.Lines...)
	}
	if !slices.Equal(joined, lines) {
		t.Fatal("concatenated chunks differ from input")
	}
}

func TestBuildChunksNeverSplitsLongLine(t *testing.T) {
	long := strings.Repeat("a", 700)
	chunks := BuildChunks([]string{"short", long, "tail"}, 600, 10)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[1].Lines[0] != long {
		t.Fatal("long line was altered")
	}
	if len(BuildChunks(nil, 600, 10)) != 0 {
		t.Fatal("expected no chunks for empty input")
	}
}

func TestChunkContextWindows(t *testing.T) {
	chunks := []Chunk{
		{Index: 0, Lines: []string{"a1", "a2", "a3"}},
		{Index: 1, Lines: []string{"b1"}},
		{Index: 2, Lines: []string{"c1", "c2", "c3"}},
	}
	if got := previousContext(chunks, 0, 2); got != nil {
		t.Fatalf("first chunk has no previous context, got %v", got)
	}
	if got := previousContext(chunks, 1, 2); !slices.Equal(got, []string{"a2", "a3"}) {
		t.Fatalf("previous context = %v", got)
	}
	if got := nextContext(chunks, 1, 2); !slices.Equal(got, []string{"c1", "c2"}) {
		t.Fatalf("next context = %v", got)
	}
	if got := nextContext(chunks, 2, 2); got != nil {
		t.Fatalf("last chunk has no next context, got %v", got)
	}
}

func TestLineValidator(t *testing.T) {
	validate := lineValidator(2, "direct", "free")
	ok := map[string]any{
		"1": map[string]any{"direct": "a", "free": "b"},
		"2": map[string]any{"direct": "c", "free": "d"},
	}
	if err := validate(ok); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	missing := map[string]any{"1": map[string]any{"direct": "a", "free": "b"}}
	if err := validate(missing); err == nil || !strings.Contains(err.Error(), "missing required key(s): 2") {
		t.Fatalf("expected missing key error, got %v", err)
	}
	subKey := map[string]any{
		"1": map[string]any{"direct": "a"},
		"2": map[string]any{"direct": "c", "free": "d"},
	}
	if err := validate(subKey); err == nil || !strings.Contains(err.Error(), "sub-key") {
		t.Fatalf("expected sub-key error, got %v", err)
	}
	extra := map[string]any{
		"1": map[string]any{"direct": "a", "free": "b"},
		"2": map[string]any{"direct": "c", "free": "d"},
		"3": map[string]any{"direct": "e", "free": "f"},
	}
	if err := validate(extra); err == nil {
		t.Fatal("expected extra key to be rejected")
	}
	if err := validate([]any{}); err == nil {
		t.Fatal("expected non-object to be rejected")
	}
}

func TestPolishValidatorRejectsEmptyLine(t *testing.T) {
	validate := polishValidator([]string{"hello", ""})
	err := validate(map[string]any{
		"1": map[string]any{"free": " "},
		"2": map[string]any{"free": ""},
	})
	if err == nil || !strings.Contains(err.Error(), "key 1") {
		t.Fatalf("expected empty line error for key 1, got %v", err)
	}
	if err := validate(map[string]any{
		"1": map[string]any{"free": "hi"},
		"2": map[string]any{"free": ""},
	}); err != nil {
		t.Fatalf("empty source may map to empty line: %v", err)
	}
}
