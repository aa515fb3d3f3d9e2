// Package ffmpeg burns ASS subtitles into a video and checks the result
// with ffprobe.
package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"subflow/internal/config"
	"subflow/internal/logging"
	"subflow/internal/procutil"
	"subflow/internal/services"
)

// OutputSuffix is appended to the video base name for burned output.
const OutputSuffix = "_with_subtitles.mp4"

// Service wraps the ffmpeg and ffprobe binaries.
type Service struct {
	cfg    config.Burn
	logger *slog.Logger
	run    procutil.RunFunc
}

// New constructs a burner from the [burn] configuration.
func New(cfg config.Burn, logger *slog.Logger) *Service {
	defaults := config.Default().Burn
	if strings.TrimSpace(cfg.FFmpegBinary) == "" {
		cfg.FFmpegBinary = defaults.FFmpegBinary
	}
	if strings.TrimSpace(cfg.VideoCodec) == "" {
		cfg.VideoCodec = defaults.VideoCodec
	}
	if strings.TrimSpace(cfg.AudioCodec) == "" {
		cfg.AudioCodec = defaults.AudioCodec
	}
	if strings.TrimSpace(cfg.FFprobeBinary) == "" {
		cfg.FFprobeBinary = defaults.FFprobeBinary
	}
	return &Service{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "burn"),
		run:    procutil.Run,
	}
}

// WithRunner replaces the subprocess runner (used by tests).
func (s *Service) WithRunner(run procutil.RunFunc) {
	if run != nil {
		s.run = run
	}
}

// OutputPath returns the burned file path for video.
func OutputPath(video string) string {
	base := strings.TrimSuffix(filepath.Base(video), filepath.Ext(video))
	return filepath.Join(filepath.Dir(video), base+OutputSuffix)
}

// Burn renders subtitle onto video and writes output. An empty output
// uses OutputPath(video).
func (s *Service) Burn(ctx context.Context, video, subtitle, output string) (string, error) {
	for _, path := range []string{video, subtitle} {
		if _, err := os.Stat(path); err != nil {
			return "", services.Wrap(services.ErrNotFound, "burn", "locate input", path, err)
		}
	}
	if output == "" {
		output = OutputPath(video)
	}
	tmp := output + ".tmp" + filepath.Ext(output)
	started := time.Now()
	if _, err := s.run(ctx, procutil.Command{Name: s.cfg.FFmpegBinary, Args: s.buildArgs(video, subtitle, tmp)}); err != nil {
		_ = os.Remove(tmp)
		if services.IsCancellation(err) {
			return "", err
		}
		return "", services.Wrap(services.ErrExternalTool, "burn", "ffmpeg", "", err)
	}
	if s.cfg.ValidateOutput {
		if err := s.validateOutput(ctx, video, tmp); err != nil {
			_ = os.Remove(tmp)
			return "", err
		}
	}
	if err := os.Rename(tmp, output); err != nil {
		return "", fmt.Errorf("burn: finalize output: %w", err)
	}
	s.logger.Info("subtitles burned",
		logging.String("video", filepath.Base(video)),
		logging.String("output", output),
		logging.Duration("elapsed", time.Since(started).Round(time.Second)),
	)
	return output, nil
}

func (s *Service) buildArgs(video, subtitle, output string) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", video,
		"-vf", "ass=" + escapeFilterPath(subtitle),
		"-c:v", s.cfg.VideoCodec,
	}
	args = append(args, s.cfg.VideoArgs...)
	args = append(args, "-c:a", s.cfg.AudioCodec)
	if bitrate := strings.TrimSpace(s.cfg.AudioBitrate); bitrate != "" {
		args = append(args, "-b:a", bitrate)
	}
	return append(args, output)
}

// escapeFilterPath quotes a path for use inside an ffmpeg filter argument.
func escapeFilterPath(path string) string {
	return strings.NewReplacer(`\`, `\\`, `:`, `\:`, `'`, `\'`, `,`, `\,`, `[`, `\[`, `]`, `\]`).Replace(path)
}
