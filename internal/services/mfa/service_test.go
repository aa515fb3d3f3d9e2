package mfa

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"subflow/internal/align"
	"subflow/internal/config"
	"subflow/internal/procutil"
	"subflow/internal/services"
	"subflow/internal/services/whisper"
)

const sampleGrid = `File type = "ooTextFile"
Object class = "TextGrid"

xmin = 0
xmax = 3.0
tiers? <exists>
size = 2
item []:
    item [1]:
        class = "IntervalTier"
        name = "words"
        xmin = 0
        xmax = 3.0
        intervals: size = 5
        intervals [1]:
            xmin = 0
            xmax = 0.25
            text = ""
        intervals [2]:
            xmin = 0.25
            xmax = 0.5
            text = "the"
        intervals [3]:
            xmin = 0.5
            xmax = 0.9
            text = "uh"
        intervals [4]:
            xmin = 0.9
            xmax = 1.4
            text = "cat"
        intervals [5]:
            xmin = 1.4
            xmax = 2.0
            text = "sat"
    item [2]:
        class = "IntervalTier"
        name = "phones"
        xmin = 0
        xmax = 3.0
        intervals: size = 1
        intervals [1]:
            xmin = 0.25
            xmax = 0.3
            text = "DH"
`

func sampleTranscript() align.Transcript {
	return align.Transcript{
		Language: "en",
		Segments: []align.Segment{{
			Start: 0, End: 2.2, Text: "The cat sat.",
			Words: []align.Word{
				{Word: "The", Start: 0.1, End: 0.3},
				{Word: "cat", Start: 0.4, End: 0.8},
				{Word: "sat.", Start: 1.0, End: 2.2},
			},
		}},
	}
}

func TestParseTextGridReadsWordsTier(t *testing.T) {
	intervals, err := ParseTextGrid([]byte(sampleGrid), WordsTier)
	if err != nil {
		t.Fatalf("ParseTextGrid: %v", err)
	}
	var texts []string
	for _, iv := range intervals {
		texts = append(texts, iv.Text)
	}
	if !slices.Equal(texts, []string{"the", "uh", "cat", "sat"}) {
		t.Fatalf("texts = %q", texts)
	}
	if intervals[2].Start != 0.9 || intervals[2].End != 1.4 {
		t.Fatalf("unexpected interval %+v", intervals[2])
	}
	if _, err := ParseTextGrid([]byte(sampleGrid), "syllables"); err == nil {
		t.Fatal("expected error for missing tier")
	}
}

func TestApplyTimingsSkipsFillerWords(t *testing.T) {
	intervals, err := ParseTextGrid([]byte(sampleGrid), WordsTier)
	if err != nil {
		t.Fatal(err)
	}
	in := sampleTranscript()
	out, updated := ApplyTimings(in, intervals)
	if updated != 3 {
		t.Fatalf("updated = %d", updated)
	}
	words := out.Words()
	if words[1].Start != 0.9 || words[1].End != 1.4 || words[2].Word != "sat." {
		t.Fatalf("unexpected words %+v", words)
	}
	if out.Segments[0].Start != 0.25 || out.Segments[0].End != 2.0 {
		t.Fatalf("segment bounds not refreshed: %+v", out.Segments[0])
	}
	if in.Segments[0].Words[1].Start != 0.4 {
		t.Fatal("input transcript was modified")
	}
}

func TestRefineRunsAlignerOnStagedAudio(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, whisper.AudioFileName), []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	svc := New(config.MFA{}, nil)
	var args []string
	svc.WithRunner(func(_ context.Context, cmd procutil.Command) ([]byte, error) {
		args = cmd.Args
		input, output := cmd.Args[1], cmd.Args[4]
		text, err := os.ReadFile(filepath.Join(input, "audio.txt"))
		if err != nil {
			return nil, err
		}
		if string(text) != "The cat sat." {
			return nil, errors.New("unexpected transcript " + string(text))
		}
		return nil, os.WriteFile(filepath.Join(output, "audio.TextGrid"), []byte(sampleGrid), 0o644)
	})

	out, err := svc.Refine(context.Background(), dir, sampleTranscript())
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if out.Words()[0].Start != 0.25 {
		t.Fatalf("timings not applied: %+v", out.Words())
	}
	if args[0] != "align" || args[2] != "english_mfa" || args[3] != "english_mfa" || !slices.Contains(args, "--single_speaker") {
		t.Fatalf("unexpected args %q", args)
	}
}

func TestRefineFailsWithoutAlignerOutput(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, whisper.AudioFileName), []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	svc := New(config.MFA{}, nil)
	svc.WithRunner(func(context.Context, procutil.Command) ([]byte, error) {
		return nil, errors.New("exit status 1")
	})
	if _, err := svc.Refine(context.Background(), dir, sampleTranscript()); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestRefineRequiresExtractedAudio(t *testing.T) {
	svc := New(config.MFA{}, nil)
	if _, err := svc.Refine(context.Background(), t.TempDir(), sampleTranscript()); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
