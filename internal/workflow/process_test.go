package workflow_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"subflow/internal/align"
	"subflow/internal/fileutil"
	"subflow/internal/repair"
	"subflow/internal/runstate"
	"subflow/internal/subtitles"
	"subflow/internal/testsupport"
	"subflow/internal/workflow"
)

func TestCorrectionAndRepairKeepTheirInputs(t *testing.T) {
	corrector := &fakeCorrector{from: "cat", to: "kat"}
	repairer := &fakeRepairer{}
	h := newHarness(t, func(d *workflow.Deps) {
		d.Corrector = corrector
		d.Repairer = repairer
	})
	if err := h.manager.Start(context.Background(), "https://example.com/v"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, h.manager)
	if snap := h.state.Snapshot(); snap.Status != runstate.StatusCompleted {
		t.Fatalf("status = %s (error %q)", snap.Status, snap.Error)
	}

	var raw, corrected align.Transcript
	if err := fileutil.ReadJSON(h.workPath(workflow.LogDirName, workflow.TranscriptFile), &raw); err != nil {
		t.Fatal(err)
	}
	if err := fileutil.ReadJSON(h.workPath(workflow.LogDirName, workflow.CorrectedTranscriptFile), &corrected); err != nil {
		t.Fatal(err)
	}
	if raw.Segments[0].Words[1].Word != "cat" || corrected.Segments[0].Words[1].Word != "kat" {
		t.Fatalf("raw %q, corrected %q", raw.Segments[0].Words[1].Word, corrected.Segments[0].Words[1].Word)
	}

	var split, sentences []string
	if err := fileutil.ReadJSON(h.workPath(workflow.LogDirName, workflow.SplitFile), &split); err != nil {
		t.Fatal(err)
	}
	if err := fileutil.ReadJSON(h.workPath(workflow.LogDirName, workflow.SentencesFile), &sentences); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(split, []string{"The kat sat on the mat.", "It was happy."}) {
		t.Fatalf("split = %q", split)
	}
	if !slices.Equal(sentences, []string{"The kat sat on the mat. It", "was happy."}) {
		t.Fatalf("sentences = %q", sentences)
	}

	var tokenLog []repair.TokenChange
	if err := fileutil.ReadJSON(h.workPath(workflow.LogDirName, workflow.CorrectionLogFile), &tokenLog); err != nil || len(tokenLog) != 1 {
		t.Fatalf("correction changelog: %v %+v", err, tokenLog)
	}
	var boundaryLog []repair.BoundaryChange
	if err := fileutil.ReadJSON(h.workPath(workflow.LogDirName, workflow.EntityRepairLogFile), &boundaryLog); err != nil || len(boundaryLog) != 1 {
		t.Fatalf("repair changelog: %v %+v", err, boundaryLog)
	}

	srt := testsupport.ReadText(t, h.workPath(subtitles.FileSource))
	if !strings.Contains(srt, "The kat sat on the mat. It") {
		t.Fatalf("subtitles should use repaired sentences:\n%s", srt)
	}
}

func TestContinueAfterRepairSkipsCorrection(t *testing.T) {
	corrector := &fakeCorrector{from: "cat", to: "kat"}
	repairer := &fakeRepairer{}
	h := newHarness(t, func(d *workflow.Deps) {
		d.Corrector = corrector
		d.Repairer = repairer
	})
	h.translator.translateFailures.Store(1)
	if err := h.manager.Start(context.Background(), "https://example.com/v"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, h.manager)
	if err := h.manager.Continue(context.Background()); err != nil {
		t.Fatalf("Continue: %v", err)
	}
	waitDone(t, h.manager)

	if got := h.state.Status(); got != runstate.StatusCompleted {
		t.Fatalf("status = %s", got)
	}
	if corrector.calls.Load() != 1 || repairer.calls.Load() != 1 {
		t.Fatalf("correction and repair should not rerun: %d, %d", corrector.calls.Load(), repairer.calls.Load())
	}
}

func TestFailingRefinerKeepsRecognizerTimings(t *testing.T) {
	refiner := &fakeRefiner{err: errors.New("mfa: exit status 1")}
	h := newHarness(t, func(d *workflow.Deps) { d.Refiner = refiner })
	if err := h.manager.Start(context.Background(), "https://example.com/v"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, h.manager)

	if snap := h.state.Snapshot(); snap.Status != runstate.StatusCompleted || snap.Error != "" {
		t.Fatalf("refiner failure should not fail the run: %+v", snap)
	}
	if refiner.calls.Load() != 1 {
		t.Fatalf("refiner calls = %d", refiner.calls.Load())
	}
	var transcript align.Transcript
	if err := fileutil.ReadJSON(h.workPath(workflow.LogDirName, workflow.TranscriptFile), &transcript); err != nil {
		t.Fatal(err)
	}
	if got := transcript.Words(); len(got) != len(sampleTranscript.Words()) || got[6].Start != 2.5 {
		t.Fatalf("recognizer timings not kept: %+v", got)
	}
}
