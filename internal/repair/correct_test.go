package repair_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"subflow/internal/align"
	"subflow/internal/repair"
	"subflow/internal/services"
	"subflow/internal/services/llm"
)

func englishTranscript() align.Transcript {
	return align.Transcript{
		Language: "en",
		Segments: []align.Segment{
			{
				Start: 0, End: 1.4, Text: "We deploy on kubernets.",
				Words: []align.Word{
					{Word: "We", Start: 0, End: 0.2},
					{Word: "deploy", Start: 0.3, End: 0.6},
					{Word: "on", Start: 0.7, End: 0.8},
					{Word: "kubernets.", Start: 1.0, End: 1.4},
				},
			},
			{
				Start: 2, End: 3.2, Text: "We're gonna ship it.",
				Words: []align.Word{
					{Word: "We're", Start: 2.0, End: 2.2},
					{Word: "gonna", Start: 2.3, End: 2.5},
					{Word: "ship", Start: 2.6, End: 2.8},
					{Word: "it.", Start: 2.9, End: 3.2},
				},
			},
		},
	}
}

func TestCorrectAppliesOnlySafeReplacements(t *testing.T) {
	caller := &scriptedCaller{replies: []string{`{"corrections": [
		{"start_key": "1.000000", "source": "kubernets.", "target": "Kubernetes.", "confidence": "high"},
		{"start_key": "2.300000", "source": "gonna", "target": "going", "confidence": "high"},
		{"start_key": "2.600000", "source": "ship", "target": "shop", "confidence": "medium"},
		{"start_key": "0.300000", "source": "deplay", "target": "deploy", "confidence": "high"},
		{"start_key": "9.000000", "source": "We", "target": "Wee", "confidence": "high"},
		{"start_key": "2.900000", "source": "it.", "target": "it all.", "confidence": "high"}
	]}`}}
	corrector := repair.NewCorrector(caller, repair.CorrectorOptions{
		Enabled:         true,
		OnlyWhenEnglish: true,
		Overrides:       &llm.Overrides{Model: "corrector"},
	}, nil)

	in := englishTranscript()
	ctx := services.WithRunID(context.Background(), "run-1")
	out, changes, err := corrector.Correct(ctx, in)
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}

	if got := out.Segments[0].Words[3].Word; got != "Kubernetes." {
		t.Fatalf("corrected word = %q", got)
	}
	if got := out.Segments[0].Text; got != "We deploy on Kubernetes." {
		t.Fatalf("segment text = %q", got)
	}
	if out.Segments[1].Text != "We're gonna ship it." {
		t.Fatalf("untouched segment rewritten: %q", out.Segments[1].Text)
	}
	if in.Segments[0].Words[3].Word != "kubernets." {
		t.Fatal("input transcript was modified")
	}

	want := map[string]string{
		"kubernets.": "",
		"gonna":      "colloquial_form_guard",
		"ship":       "low_confidence",
		"deplay":     "source_mismatch_with_current_token",
		"We":         "start_key_not_found_or_already_used",
		"it.":        "non_token_replacement",
	}
	if len(changes) != len(want) {
		t.Fatalf("expected %d changelog rows, got %+v", len(want), changes)
	}
	for _, change := range changes {
		reason, ok := want[change.Source]
		if !ok {
			t.Fatalf("unexpected row %+v", change)
		}
		if change.SkipReason != reason {
			t.Fatalf("%s: skip reason %q, want %q", change.Source, change.SkipReason, reason)
		}
		if (reason == "") != (change.Status == repair.StatusApplied) {
			t.Fatalf("%s: status %q", change.Source, change.Status)
		}
		if change.RunID != "run-1" {
			t.Fatalf("run id not recorded: %+v", change)
		}
	}
	if caller.overrides[0] == nil || caller.overrides[0].Model != "corrector" {
		t.Fatalf("overrides not forwarded: %+v", caller.overrides[0])
	}
	if !strings.Contains(caller.prompts[0], `"start_key": "1.000000"`) {
		t.Fatal("prompt should list tokens keyed by start time")
	}
}

func TestCorrectSkipsWhenDisabledOrNotEnglish(t *testing.T) {
	caller := &scriptedCaller{replies: []string{`{"corrections": []}`}}
	in := englishTranscript()

	off := repair.NewCorrector(caller, repair.CorrectorOptions{}, nil)
	if out, changes, err := off.Correct(context.Background(), in); err != nil || changes != nil || out.Segments[0].Text != in.Segments[0].Text {
		t.Fatalf("disabled corrector changed output: %v %+v", err, changes)
	}

	in.Language = "de"
	onlyEnglish := repair.NewCorrector(caller, repair.CorrectorOptions{Enabled: true, OnlyWhenEnglish: true}, nil)
	if _, changes, err := onlyEnglish.Correct(context.Background(), in); err != nil || changes != nil {
		t.Fatalf("non-English transcript corrected: %v %+v", err, changes)
	}
	if caller.calls() != 0 {
		t.Fatalf("expected no LLM calls, got %d", caller.calls())
	}
}

func TestCorrectReturnsCallErrors(t *testing.T) {
	boom := errors.New("backend unavailable")
	caller := &scriptedCaller{replies: []string{`{}`}, errs: map[int]error{0: boom}}
	corrector := repair.NewCorrector(caller, repair.CorrectorOptions{Enabled: true}, nil)
	if _, _, err := corrector.Correct(context.Background(), englishTranscript()); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
}
