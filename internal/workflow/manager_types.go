package workflow

import (
	"context"
	"errors"

	"subflow/internal/align"
	"subflow/internal/repair"
	"subflow/internal/services/ytdlp"
	"subflow/internal/translate"
)

var (
	// ErrRunActive is returned when an operation needs the workflow idle.
	ErrRunActive = errors.New("a workflow run is already active")
	// ErrNoSubtitle is returned by Burn when no subtitle has been produced.
	ErrNoSubtitle = errors.New("no subtitle file available to burn")
)

// Downloader fetches a source video into the workspace.
type Downloader interface {
	Download(ctx context.Context, sourceRef string, quality ytdlp.Quality, destDir string) (string, error)
}

// Transcriber produces word-timed speech recognition output.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath, workDir string) (align.Transcript, error)
}

// Refiner re-times transcript words against the audio the Transcriber
// left in workDir.
type Refiner interface {
	Refine(ctx context.Context, workDir string, transcript align.Transcript) (align.Transcript, error)
}

// Corrector fixes recognition errors token by token.
type Corrector interface {
	Correct(ctx context.Context, transcript align.Transcript) (align.Transcript, []repair.TokenChange, error)
}

// BoundaryRepairer rejoins entities the splitter cut across sentences.
type BoundaryRepairer interface {
	Repair(ctx context.Context, lines []string, language string) ([]string, []repair.BoundaryChange, error)
}

// Splitter breaks transcript text into sentences.
type Splitter interface {
	Split(ctx context.Context, text, language string) ([]string, error)
}

// Translator covers the text-generation steps of processing.
// *translate.Pipeline satisfies it.
type Translator interface {
	Summarize(ctx context.Context, lines []string, sourceLanguage string, existing translate.Glossary) (translate.Glossary, error)
	Translate(ctx context.Context, in translate.Input) (translate.Output, error)
	TrimLines(ctx context.Context, lines []string, durations []float64) []string
}

// Burner renders a subtitle file into a video.
type Burner interface {
	Burn(ctx context.Context, video, subtitle, output string) (string, error)
}

// Archiver preserves the previous run's subtitle before a new run wipes
// the workspace. It returns the archived path, or "" when there was
// nothing to keep.
type Archiver interface {
	Archive(ctx context.Context, workDir string) (string, error)
}

// Notifier announces finished jobs. Delivery failures are logged only.
type Notifier interface {
	NotifyRunCompleted(ctx context.Context, runID string) error
	NotifyRunFailed(ctx context.Context, runID, reason string) error
	NotifyBurnCompleted(ctx context.Context, output string) error
}

// Deps bundles the collaborators the Manager orchestrates. Refiner,
// Corrector, Repairer, Archiver and Notifier are optional; a missing
// correction or repair pass copies its input forward.
type Deps struct {
	Downloader  Downloader
	Transcriber Transcriber
	Refiner     Refiner
	Corrector   Corrector
	Splitter    Splitter
	Repairer    BoundaryRepairer
	Translator  Translator
	Burner      Burner
	Archiver    Archiver
	Notifier    Notifier
}

type runKind string

const (
	runFull   runKind = "full"
	runLocal  runKind = "local"
	runResume runKind = "continue"
	runBurn   runKind = "burn"
)
