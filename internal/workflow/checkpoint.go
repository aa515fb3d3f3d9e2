package workflow

import (
	"errors"
	"io/fs"
	"path/filepath"
	"slices"
	"time"

	"subflow/internal/fileutil"
	"subflow/internal/subtitles"
)

// Processing sub-stages, in execution order.
const (
	stageTranscribe = "transcribe"
	stageCorrect    = "correct"
	stageSplit      = "split"
	stageRepair     = "repair"
	stageSummarize  = "summarize"
	stageTranslate  = "translate"
	stageAlign      = "align"
)

// Intermediate artifact names under the workspace log directory.
// transcript.json and split.json stay untouched by the correction and
// repair passes so their input can be inspected after the fact.
const (
	TranscriptFile          = "transcript.json"
	CorrectedTranscriptFile = "transcript_corrected.json"
	SplitFile               = "split.json"
	SentencesFile           = "sentences.json"
	TerminologyFile         = "terminology.json"
	TranslationFile         = "translation.json"
	CheckpointFile          = "checkpoint.json"

	CorrectionLogFile   = "correction_changelog.json"
	EntityRepairLogFile = "entity_repair_changelog.json"
)

// Checkpoint records which processing stages last finished.
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	Completed []string  `json:"completed"`
	LastStage string    `json:"last_stage"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Checkpoint) has(stage string) bool {
	return c != nil && slices.Contains(c.Completed, stage)
}

// artifactPath maps a processing stage to the file that proves it ran.
func (m *Manager) artifactPath(stage string) string {
	switch stage {
	case stageTranscribe:
		return m.logPath(TranscriptFile)
	case stageCorrect:
		return m.logPath(CorrectedTranscriptFile)
	case stageSplit:
		return m.logPath(SplitFile)
	case stageRepair:
		return m.logPath(SentencesFile)
	case stageSummarize:
		return m.logPath(TerminologyFile)
	case stageTranslate:
		return m.logPath(TranslationFile)
	default:
		return filepath.Join(m.workDir(), subtitles.FileASS)
	}
}

// loadCheckpoint returns nil when no checkpoint has been written.
func (m *Manager) loadCheckpoint() (*Checkpoint, error) {
	var cp Checkpoint
	if err := fileutil.ReadJSON(m.logPath(CheckpointFile), &cp); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return &cp, nil
}

// stageAlreadyComplete reports whether stage's artifact exists and the
// checkpoint, when present, agrees that the stage finished.
func (m *Manager) stageAlreadyComplete(cp *Checkpoint, stage string) bool {
	if !fileutil.Exists(m.artifactPath(stage)) {
		return false
	}
	return cp == nil || cp.has(stage)
}

// pendingStages lists the stages Continue would run. Once one stage needs
// to run, every later stage runs too.
func (m *Manager) pendingStages(cp *Checkpoint) []string {
	for i, stage := range processingOrder {
		if !m.stageAlreadyComplete(cp, stage) {
			return slices.Clone(processingOrder[i:])
		}
	}
	return nil
}

var processingOrder = []string{
	stageTranscribe,
	stageCorrect,
	stageSplit,
	stageRepair,
	stageSummarize,
	stageTranslate,
	stageAlign,
}

// recordStage rewrites the checkpoint so stage is the last completed one.
func (m *Manager) recordStage(runID, stage string) error {
	idx := slices.Index(processingOrder, stage)
	cp := Checkpoint{
		RunID:     runID,
		Completed: slices.Clone(processingOrder[:idx+1]),
		LastStage: stage,
		UpdatedAt: time.Now().UTC(),
	}
	return fileutil.WriteJSONAtomic(m.logPath(CheckpointFile), cp)
}

// invalidateFrom drops stage and everything after it from the checkpoint
// before the stage reruns.
func (m *Manager) invalidateFrom(runID, stage string) error {
	idx := slices.Index(processingOrder, stage)
	cp := Checkpoint{
		RunID:     runID,
		Completed: slices.Clone(processingOrder[:idx]),
		UpdatedAt: time.Now().UTC(),
	}
	if idx > 0 {
		cp.LastStage = processingOrder[idx-1]
	}
	return fileutil.WriteJSONAtomic(m.logPath(CheckpointFile), cp)
}

// appendChangelog adds rows to the JSON array at path. Earlier runs keep
// their rows.
func appendChangelog[T any](path string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	var existing []T
	if err := fileutil.ReadJSON(path, &existing); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return fileutil.WriteJSONAtomic(path, append(existing, rows...))
}
