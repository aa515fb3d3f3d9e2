package whisper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"subflow/internal/align"
	"subflow/internal/config"
	"subflow/internal/language"
	"subflow/internal/logging"
	"subflow/internal/procutil"
	"subflow/internal/services"
)

// Service runs ffmpeg and WhisperX as subprocesses.
type Service struct {
	cfg    config.Whisper
	logger *slog.Logger
	run    procutil.RunFunc
}

// New constructs a transcriber from the [whisper] configuration.
func New(cfg config.Whisper, logger *slog.Logger) *Service {
	defaults := config.Default().Whisper
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = defaults.Binary
	}
	if strings.TrimSpace(cfg.FFmpegBinary) == "" {
		cfg.FFmpegBinary = defaults.FFmpegBinary
	}
	if strings.TrimSpace(cfg.Runtime) == "" {
		cfg.Runtime = RuntimeWhisperX
	}
	return &Service{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "whisper"),
		run:    procutil.Run,
	}
}

// WithRunner sets a custom command runner (for testing).
func (s *Service) WithRunner(run procutil.RunFunc) {
	if run != nil {
		s.run = run
	}
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return DefaultModel
}

// Transcribe extracts audio from mediaPath into workDir, runs WhisperX on
// it and loads the resulting transcript.
func (s *Service) Transcribe(ctx context.Context, mediaPath, workDir string) (align.Transcript, error) {
	if s.cfg.Runtime != RuntimeWhisperX {
		return align.Transcript{}, services.Wrap(services.ErrConfiguration, "transcribe", "select runtime",
			fmt.Sprintf("unsupported whisper runtime %q", s.cfg.Runtime), nil)
	}
	if strings.TrimSpace(mediaPath) == "" {
		return align.Transcript{}, services.Wrap(services.ErrValidation, "transcribe", "resolve media", "media path required", nil)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return align.Transcript{}, fmt.Errorf("transcribe: ensure work dir: %w", err)
	}

	audio := filepath.Join(workDir, AudioFileName)
	if _, err := s.run(ctx, procutil.Command{Name: s.cfg.FFmpegBinary, Args: extractArgs(mediaPath, audio)}); err != nil {
		return align.Transcript{}, wrapTool("extract audio", err)
	}

	s.logger.Info("running whisperx",
		logging.String("model", s.Model()),
		logging.Bool("cuda", s.cfg.CUDAEnabled),
		logging.String("language", s.cfg.Language),
	)
	cmd := procutil.Command{
		Name: s.cfg.Binary,
		Args: s.buildArgs(audio, workDir),
		// Torch 2.6 defaults torch.load to weights_only, which pyannote checkpoints reject.
		Env: []string{"TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1"},
	}
	if _, err := s.run(ctx, cmd); err != nil {
		return align.Transcript{}, wrapTool("whisperx", err)
	}

	transcript, err := LoadTranscript(filepath.Join(workDir, TranscriptJSONName))
	if err != nil {
		return align.Transcript{}, services.Wrap(services.ErrExternalTool, "transcribe", "parse output", "", err)
	}
	if transcript.Language == "" {
		transcript.Language = language.ISO2(s.cfg.Language)
	}
	return transcript, nil
}

func wrapTool(op string, err error) error {
	if services.IsCancellation(err) {
		return err
	}
	return services.Wrap(services.ErrExternalTool, "transcribe", op, "", err)
}

func extractArgs(source, dest string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
}

func (s *Service) buildArgs(source, outputDir string) []string {
	args := make([]string, 0, 40)
	if s.cfg.CUDAEnabled {
		args = append(args, "--index-url", CUDAIndexURL, "--extra-index-url", PypiIndexURL)
	} else {
		args = append(args, "--index-url", PypiIndexURL)
	}
	args = append(args,
		"whisperx",
		source,
		"--model", s.Model(),
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", "json",
		"--chunk_size", ChunkSize,
		"--vad_onset", VADOnset,
		"--vad_offset", VADOffset,
		"--beam_size", BeamSize,
		"--temperature", Temperature,
	)

	vadMethod := s.cfg.VADMethod
	if vadMethod == "" || (vadMethod == VADMethodPyannote && s.cfg.HFToken == "") {
		vadMethod = VADMethodSilero
	}
	args = append(args, "--vad_method", vadMethod)
	if vadMethod == VADMethodPyannote {
		args = append(args, "--hf_token", s.cfg.HFToken)
	}

	if lang := language.ISO2(s.cfg.Language); lang != "" {
		args = append(args, "--language", lang)
	}
	if s.cfg.CUDAEnabled {
		args = append(args, "--device", CUDADevice)
	} else {
		args = append(args, "--device", CPUDevice, "--compute_type", CPUComputeType)
	}
	return args
}

type rawWord struct {
	Word  string   `json:"word"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

type rawSegment struct {
	Start float64   `json:"start"`
	End   float64   `json:"end"`
	Text  string    `json:"text"`
	Words []rawWord `json:"words"`
}

type payload struct {
	Language string       `json:"language"`
	Segments []rawSegment `json:"segments"`
}

// LoadTranscript reads a WhisperX JSON file.
func LoadTranscript(path string) (align.Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return align.Transcript{}, err
	}
	return ParseTranscript(data)
}

// ParseTranscript converts WhisperX JSON into a Transcript, filling in
// timings for untimed words.
func ParseTranscript(data []byte) (align.Transcript, error) {
	var raw payload
	if err := json.Unmarshal(data, &raw); err != nil {
		return align.Transcript{}, fmt.Errorf("parse whisperx json: %w", err)
	}
	transcript := align.Transcript{Language: raw.Language}
	for _, seg := range raw.Segments {
		transcript.Segments = append(transcript.Segments, align.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
			Words: fillTimings(seg),
		})
	}
	return transcript, nil
}

// fillTimings gives untimed words the end of the previous word (or the
// segment start) as their start and the next timed start (or the segment
// end) as their end.
func fillTimings(seg rawSegment) []align.Word {
	words := make([]align.Word, 0, len(seg.Words))
	prevEnd := seg.Start
	for i, w := range seg.Words {
		text := strings.TrimSpace(w.Word)
		if text == "" {
			continue
		}
		start := prevEnd
		if w.Start != nil {
			start = *w.Start
		}
		end := nextStart(seg, i+1)
		if w.End != nil {
			end = *w.End
		}
		end = max(end, start)
		words = append(words, align.Word{Word: text, Start: start, End: end})
		prevEnd = end
	}
	return words
}

func nextStart(seg rawSegment, from int) float64 {
	for _, w := range seg.Words[from:] {
		if w.Start != nil {
			return *w.Start
		}
	}
	return seg.End
}
