// Package mfa re-times recognized words with the Montreal Forced Aligner.
// The recognizer's text is kept; only word start and end times change.
package mfa

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"

	"subflow/internal/align"
	"subflow/internal/config"
	"subflow/internal/fileutil"
	"subflow/internal/logging"
	"subflow/internal/procutil"
	"subflow/internal/services"
	"subflow/internal/services/whisper"
)

// maxSkips bounds how many aligner words may be passed over while
// looking for the next recognized word.
const maxSkips = 3

// Service runs `mfa align` as a subprocess.
type Service struct {
	cfg    config.MFA
	logger *slog.Logger
	run    procutil.RunFunc
}

// New constructs a refiner from the [mfa] configuration.
func New(cfg config.MFA, logger *slog.Logger) *Service {
	defaults := config.Default().MFA
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = defaults.Binary
	}
	if strings.TrimSpace(cfg.AcousticModel) == "" {
		cfg.AcousticModel = defaults.AcousticModel
	}
	if strings.TrimSpace(cfg.Dictionary) == "" {
		cfg.Dictionary = defaults.Dictionary
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaults.TimeoutSeconds
	}
	return &Service{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "mfa"),
		run:    procutil.Run,
	}
}

// WithRunner sets a custom command runner (for testing).
func (s *Service) WithRunner(run procutil.RunFunc) {
	if run != nil {
		s.run = run
	}
}

// Refine aligns transcript against the audio the transcriber extracted
// into workDir and returns a copy with updated word timings. It fails when
// no word could be matched to the aligner output.
func (s *Service) Refine(ctx context.Context, workDir string, transcript align.Transcript) (align.Transcript, error) {
	audio := filepath.Join(workDir, whisper.AudioFileName)
	if !fileutil.Exists(audio) {
		return align.Transcript{}, services.Wrap(services.ErrNotFound, "refine", "locate audio", audio, nil)
	}
	words := transcript.Words()
	if len(words) == 0 {
		return align.Transcript{}, services.Wrap(services.ErrValidation, "refine", "collect words", "transcript has no words", nil)
	}

	tmp, err := os.MkdirTemp("", "subflow-mfa-")
	if err != nil {
		return align.Transcript{}, fmt.Errorf("refine: create work dir: %w", err)
	}
	defer os.RemoveAll(tmp)
	input := filepath.Join(tmp, "input")
	output := filepath.Join(tmp, "output")
	for _, dir := range []string{input, output} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return align.Transcript{}, fmt.Errorf("refine: create work dir: %w", err)
		}
	}
	if err := fileutil.CopyFile(audio, filepath.Join(input, whisper.AudioFileName)); err != nil {
		return align.Transcript{}, fmt.Errorf("refine: stage audio: %w", err)
	}
	text := make([]string, 0, len(words))
	for _, w := range words {
		if word := cleanWord(w.Word); word != "" {
			text = append(text, word)
		}
	}
	stem := strings.TrimSuffix(whisper.AudioFileName, filepath.Ext(whisper.AudioFileName))
	if err := os.WriteFile(filepath.Join(input, stem+".txt"), []byte(strings.Join(text, " ")), 0o644); err != nil {
		return align.Transcript{}, fmt.Errorf("refine: write transcript: %w", err)
	}

	s.logger.Info("running mfa",
		logging.String("acoustic_model", s.cfg.AcousticModel),
		logging.String("dictionary", s.cfg.Dictionary),
		logging.Int("words", len(text)),
	)
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutSeconds)*time.Second)
	defer cancel()
	_, runErr := s.run(runCtx, procutil.Command{Name: s.cfg.Binary, Args: s.buildArgs(input, output)})
	if err := ctx.Err(); err != nil {
		return align.Transcript{}, err
	}
	grids, _ := doublestar.Glob(os.DirFS(output), "**/*.TextGrid", doublestar.WithFilesOnly())
	if len(grids) == 0 {
		if runErr == nil {
			runErr = fmt.Errorf("no TextGrid written")
		}
		return align.Transcript{}, services.Wrap(services.ErrExternalTool, "refine", "mfa align", "", runErr)
	}
	if runErr != nil {
		// mfa sometimes exits non-zero after writing usable output.
		s.logger.Warn("mfa exited with error but produced output", logging.Error(runErr))
	}

	data, err := os.ReadFile(filepath.Join(output, filepath.FromSlash(grids[0])))
	if err != nil {
		return align.Transcript{}, fmt.Errorf("refine: read TextGrid: %w", err)
	}
	intervals, err := ParseTextGrid(data, WordsTier)
	if err != nil {
		return align.Transcript{}, services.Wrap(services.ErrExternalTool, "refine", "parse TextGrid", grids[0], err)
	}
	refined, updated := ApplyTimings(transcript, intervals)
	if updated == 0 {
		return align.Transcript{}, services.Wrap(services.ErrExternalTool, "refine", "match words", "no recognized word matched the aligner output", nil)
	}
	s.logger.Info("mfa timings applied",
		logging.Int("updated", updated),
		logging.Int("words", len(words)),
	)
	return refined, nil
}

func (s *Service) buildArgs(input, output string) []string {
	return []string{
		"align",
		input,
		s.cfg.Dictionary,
		s.cfg.AcousticModel,
		output,
		"--clean",
		"--single_speaker",
		"--quiet",
	}
}

// ApplyTimings walks the transcript and the aligner words in step,
// copying aligner times onto matching words. A recognized word may skip
// up to three aligner words to find its match. It returns the updated
// copy and how many words changed.
func ApplyTimings(transcript align.Transcript, intervals []Interval) (align.Transcript, int) {
	out := align.Transcript{Language: transcript.Language, Segments: make([]align.Segment, len(transcript.Segments))}
	next, updated := 0, 0
	for si, seg := range transcript.Segments {
		seg.Words = append([]align.Word(nil), seg.Words...)
		for wi, w := range seg.Words {
			word := matchKey(w.Word)
			if word == "" {
				continue
			}
			for skip := 0; skip < maxSkips && next+skip < len(intervals); skip++ {
				candidate := intervals[next+skip]
				if !wordsMatch(word, matchKey(candidate.Text)) {
					continue
				}
				seg.Words[wi].Start, seg.Words[wi].End = candidate.Start, candidate.End
				next += skip + 1
				updated++
				break
			}
		}
		if n := len(seg.Words); n > 0 {
			seg.Start, seg.End = seg.Words[0].Start, seg.Words[n-1].End
		}
		out.Segments[si] = seg
	}
	return out, updated
}

func wordsMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}

func cleanWord(word string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(word), `"'`))
}

// matchKey lowercases word and strips surrounding punctuation.
func matchKey(word string) string {
	return strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
}
