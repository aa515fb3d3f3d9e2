package workflow

import (
	"context"
	"errors"
	"fmt"

	"subflow/internal/align"
	"subflow/internal/fileutil"
	"subflow/internal/logging"
	"subflow/internal/runstate"
	"subflow/internal/services"
	"subflow/internal/subtitles"
	"subflow/internal/translate"
)

// Progress reported on the process stage after each sub-stage.
var stageProgress = map[string]float64{
	stageTranscribe: 20,
	stageCorrect:    24,
	stageSplit:      30,
	stageRepair:     34,
	stageSummarize:  40,
	stageTranslate:  85,
	stageAlign:      100,
}

// A step computes its result and returns the write that persists it.
// The write runs through commit, never from the step itself.
type step func(ctx context.Context, run *workflowRun) (persist func() error, err error)

func (m *Manager) runProcessBranch(ctx context.Context, run *workflowRun) {
	err := m.runStage(ctx, run, runstate.StageProcess, func(ctx context.Context) error {
		return m.process(ctx, run)
	})
	if err != nil {
		return
	}
	// The best-quality download may still be running.
	m.apply(run, func() {
		if stage, ok := m.state.Snapshot().Stage(runstate.StageDownloadHigh); ok && stage.Status == runstate.StageRunning && !run.failed.Load() {
			m.state.SetStatus(runstate.StatusDownloadingHigh)
		}
	})
}

// process runs the sub-stages in order, skipping those already complete.
// After the first sub-stage that runs, all later ones run as well.
func (m *Manager) process(ctx context.Context, run *workflowRun) error {
	checkpoint, err := m.loadCheckpoint()
	if err != nil {
		return services.Wrap(services.ErrValidation, runstate.StageProcess, "read checkpoint", "", err)
	}
	steps := map[string]step{
		stageTranscribe: m.transcribe,
		stageCorrect:    m.correct,
		stageSplit:      m.split,
		stageRepair:     m.repair,
		stageSummarize:  m.summarize,
		stageTranslate:  m.translate,
		stageAlign:      m.align,
	}
	logger := logging.WithContext(ctx, m.logger)
	forced := false
	for _, name := range processingOrder {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !forced && m.stageAlreadyComplete(checkpoint, name) {
			logger.Info("stage already complete; skipping", logging.String("substage", name))
			m.setProgress(run, runstate.StageProcess, stageProgress[name])
			continue
		}
		forced = true
		if err := m.commit(ctx, run, func() error { return m.invalidateFrom(run.id, name) }); err != nil {
			return fmt.Errorf("update checkpoint: %w", err)
		}
		logger.Info("substage started", logging.String("substage", name))
		persist, err := steps[name](services.WithStage(ctx, runstate.StageProcess+"/"+name), run)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		err = m.commit(ctx, run, func() error {
			if err := persist(); err != nil {
				return err
			}
			return m.recordStage(run.id, name)
		})
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		m.setProgress(run, runstate.StageProcess, stageProgress[name])
	}
	return nil
}

// commit runs write under the manager lock, and only while run is still
// installed and ctx is live. A stopped run whose collaborator returns late
// finds the workspace belongs to someone else and writes nothing.
func (m *Manager) commit(ctx context.Context, run *workflowRun, write func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.run != run {
		return context.Canceled
	}
	return write()
}

func writeArtifact(path string, v any) func() error {
	return func() error { return fileutil.WriteJSONAtomic(path, v) }
}

func (m *Manager) transcribe(ctx context.Context, _ *workflowRun) (func() error, error) {
	video, err := m.processingVideo()
	if err != nil {
		return nil, err
	}
	transcript, err := m.deps.Transcriber.Transcribe(ctx, video, m.logPath(""))
	if err != nil {
		return nil, err
	}
	if len(transcript.Words()) == 0 {
		return nil, services.Wrap(services.ErrValidation, stageTranscribe, "check transcript", "no speech recognized", nil)
	}
	transcript, err = m.refine(ctx, transcript)
	if err != nil {
		return nil, err
	}
	return writeArtifact(m.logPath(TranscriptFile), transcript), nil
}

// refine re-times words when a Refiner is configured. A failed refinement
// keeps the recognizer's timings.
func (m *Manager) refine(ctx context.Context, transcript align.Transcript) (align.Transcript, error) {
	if m.deps.Refiner == nil {
		return transcript, nil
	}
	refined, err := m.deps.Refiner.Refine(ctx, m.logPath(""), transcript)
	if err == nil {
		return refined, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return align.Transcript{}, ctxErr
	}
	logging.WarnWithContext(logging.WithContext(ctx, m.logger), "forced alignment failed", "refine_failed",
		logging.Error(err),
		logging.String(logging.FieldImpact, "keeping recognizer word timings"),
		logging.String(logging.FieldErrorHint, "check mfa.binary, mfa.acoustic_model and mfa.dictionary"),
	)
	return transcript, nil
}

func (m *Manager) correct(ctx context.Context, _ *workflowRun) (func() error, error) {
	var transcript align.Transcript
	if err := readArtifact(m.logPath(TranscriptFile), &transcript); err != nil {
		return nil, err
	}
	if m.deps.Corrector == nil {
		return writeArtifact(m.logPath(CorrectedTranscriptFile), transcript), nil
	}
	corrected, changes, err := m.deps.Corrector.Correct(ctx, transcript)
	if err != nil {
		return nil, err
	}
	return func() error {
		if err := appendChangelog(m.logPath(CorrectionLogFile), changes); err != nil {
			return err
		}
		return fileutil.WriteJSONAtomic(m.logPath(CorrectedTranscriptFile), corrected)
	}, nil
}

func (m *Manager) split(ctx context.Context, _ *workflowRun) (func() error, error) {
	transcript, err := m.readTranscript()
	if err != nil {
		return nil, err
	}
	sentences, err := m.deps.Splitter.Split(ctx, transcript.Text(), transcript.Language)
	if err != nil {
		return nil, err
	}
	if len(sentences) == 0 {
		return nil, services.Wrap(services.ErrValidation, stageSplit, "check sentences", "splitter returned no sentences", nil)
	}
	return writeArtifact(m.logPath(SplitFile), sentences), nil
}

func (m *Manager) repair(ctx context.Context, _ *workflowRun) (func() error, error) {
	transcript, err := m.readTranscript()
	if err != nil {
		return nil, err
	}
	var lines []string
	if err := readArtifact(m.logPath(SplitFile), &lines); err != nil {
		return nil, err
	}
	if m.deps.Repairer == nil {
		return writeArtifact(m.logPath(SentencesFile), lines), nil
	}
	repaired, changes, err := m.deps.Repairer.Repair(ctx, lines, transcript.Language)
	if err != nil {
		return nil, err
	}
	return func() error {
		if err := appendChangelog(m.logPath(EntityRepairLogFile), changes); err != nil {
			return err
		}
		return fileutil.WriteJSONAtomic(m.logPath(SentencesFile), repaired)
	}, nil
}

func (m *Manager) summarize(ctx context.Context, _ *workflowRun) (func() error, error) {
	transcript, err := m.readTranscript()
	if err != nil {
		return nil, err
	}
	sentences, err := m.readSentences()
	if err != nil {
		return nil, err
	}
	glossary, err := translate.LoadGlossary(m.cfg.Translation.GlossaryPath)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stageSummarize, "load glossary", m.cfg.Translation.GlossaryPath, err)
	}
	summary, err := m.deps.Translator.Summarize(ctx, sentences, transcript.Language, glossary)
	if err != nil {
		return nil, err
	}
	return writeArtifact(m.logPath(TerminologyFile), summary), nil
}

func (m *Manager) translate(ctx context.Context, run *workflowRun) (func() error, error) {
	transcript, err := m.readTranscript()
	if err != nil {
		return nil, err
	}
	sentences, err := m.readSentences()
	if err != nil {
		return nil, err
	}
	var glossary translate.Glossary
	if err := readArtifact(m.logPath(TerminologyFile), &glossary); err != nil {
		return nil, err
	}
	from, to := stageProgress[stageSummarize], stageProgress[stageTranslate]
	out, err := m.deps.Translator.Translate(ctx, translate.Input{
		Lines:          sentences,
		SourceLanguage: transcript.Language,
		Glossary:       glossary,
		Progress: func(done, total int) {
			if total > 0 {
				m.setProgress(run, runstate.StageProcess, from+(to-from)*float64(done)/float64(total))
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return writeArtifact(m.logPath(TranslationFile), out), nil
}

func (m *Manager) align(ctx context.Context, _ *workflowRun) (func() error, error) {
	transcript, err := m.readTranscript()
	if err != nil {
		return nil, err
	}
	var out translate.Output
	if err := readArtifact(m.logPath(TranslationFile), &out); err != nil {
		return nil, err
	}
	windows, err := align.Align(transcript.Words(), out.Source)
	if err != nil {
		var mismatch *align.MismatchError
		if errors.As(err, &mismatch) {
			return nil, services.Wrap(services.ErrValidation, stageAlign, "match sentences", "", err)
		}
		return nil, err
	}
	windows = align.MergeGaps(windows, m.cfg.Alignment.GapMergeSeconds)
	lines := m.deps.Translator.TrimLines(ctx, out.Translation, align.Durations(windows))
	entries, err := subtitles.BuildEntries(windows, out.Source, lines)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stageAlign, "build entries", "", err)
	}
	return func() error {
		paths, err := subtitles.WriteAll(m.workDir(), entries, subtitles.DefaultStyle())
		if err != nil {
			return err
		}
		logging.WithContext(ctx, m.logger).Info("subtitles written",
			logging.Int("entries", len(entries)),
			logging.Int("files", len(paths)),
		)
		return nil
	}, nil
}

// readTranscript returns the transcript later stages work from: the
// corrected one.
func (m *Manager) readTranscript() (align.Transcript, error) {
	var transcript align.Transcript
	err := readArtifact(m.logPath(CorrectedTranscriptFile), &transcript)
	return transcript, err
}

func (m *Manager) readSentences() ([]string, error) {
	var sentences []string
	err := readArtifact(m.logPath(SentencesFile), &sentences)
	return sentences, err
}

func readArtifact(path string, v any) error {
	if err := fileutil.ReadJSON(path, v); err != nil {
		return services.Wrap(services.ErrNotFound, "process", "read artifact", path, err)
	}
	return nil
}
