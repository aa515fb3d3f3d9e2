// Package ytdlp downloads source videos with the yt-dlp command line tool.
//
// Every run fetches the video twice: a low-quality copy that feeds speech
// recognition and a best-quality copy that is burned later. Both land in the
// workspace as "<title>_low.<ext>" and "<title>_best.<ext>".
package ytdlp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"subflow/internal/config"
	"subflow/internal/logging"
	"subflow/internal/procutil"
	"subflow/internal/services"
	"subflow/internal/textutil"
)

// Quality selects which format a download requests.
type Quality string

const (
	QualityLow  Quality = "low"
	QualityBest Quality = "best"
)

// Suffix is the file name marker for the quality.
func (q Quality) Suffix() string {
	if q == QualityLow {
		return "_low"
	}
	return "_best"
}

// Service wraps the yt-dlp binary.
type Service struct {
	cfg    config.Download
	logger *slog.Logger
	run    procutil.RunFunc
	sleep  func(context.Context, time.Duration) error
}

// New constructs a downloader from the [download] configuration.
func New(cfg config.Download, logger *slog.Logger) *Service {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = config.Default().Download.Binary
	}
	return &Service{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "ytdlp"),
		run:    procutil.Run,
		sleep:  procutil.Sleep,
	}
}

// WithRunner replaces the subprocess runner (used by tests).
func (s *Service) WithRunner(run procutil.RunFunc) {
	if run != nil {
		s.run = run
	}
}

// WithSleeper replaces the backoff sleep (used by tests).
func (s *Service) WithSleeper(sleep func(context.Context, time.Duration) error) {
	if sleep != nil {
		s.sleep = sleep
	}
}

// Download fetches sourceRef into destDir and returns the local path.
// Failed attempts are retried with a linear backoff.
func (s *Service) Download(ctx context.Context, sourceRef string, quality Quality, destDir string) (string, error) {
	sourceRef = strings.TrimSpace(sourceRef)
	if sourceRef == "" {
		return "", services.Wrap(services.ErrValidation, "download", "resolve source", "source URL is empty", nil)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "download", "prepare workspace", destDir, err)
	}

	attempts := max(s.cfg.Retries, 0) + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(s.cfg.RetryDelaySeconds*(attempt-1)) * time.Second
			logging.WarnWithContext(s.logger, "download attempt failed; retrying", "download_retry",
				logging.String("quality", string(quality)),
				logging.Int("attempt", attempt-1),
				logging.Duration("delay", delay),
				logging.Error(lastErr),
				logging.String(logging.FieldImpact, "download restarts from the beginning"),
			)
			if err := s.sleep(ctx, delay); err != nil {
				return "", err
			}
		}
		path, err := s.attempt(ctx, sourceRef, quality, destDir)
		if err == nil {
			s.logger.Info("download complete",
				logging.String("quality", string(quality)),
				logging.String("path", path),
				logging.Int("attempt", attempt),
			)
			return path, nil
		}
		if services.IsCancellation(err) || ctx.Err() != nil {
			return "", err
		}
		lastErr = err
	}
	return "", services.Wrap(services.ErrExternalTool, "download", "yt-dlp",
		fmt.Sprintf("%s download failed after %d attempts", quality, attempts), lastErr)
}

func (s *Service) attempt(ctx context.Context, sourceRef string, quality Quality, destDir string) (string, error) {
	title, err := s.Title(ctx, sourceRef)
	if err != nil {
		return "", err
	}
	base := title + quality.Suffix()
	args := s.commonArgs()
	args = append(args,
		"--no-playlist",
		"--newline",
		"-f", s.format(quality),
		"-o", filepath.Join(destDir, base+".%(ext)s"),
		sourceRef,
	)
	if _, err := s.run(ctx, procutil.Command{Name: s.cfg.Binary, Args: args}); err != nil {
		return "", err
	}
	return FindDownloaded(destDir, base)
}

// Title asks yt-dlp for the video title and returns it sanitized for use
// as a file name.
func (s *Service) Title(ctx context.Context, sourceRef string) (string, error) {
	var stdout bytes.Buffer
	args := append(s.commonArgs(), "--no-playlist", "--skip-download", "--print", "title", sourceRef)
	if _, err := s.run(ctx, procutil.Command{Name: s.cfg.Binary, Args: args, Stdout: &stdout}); err != nil {
		return "", err
	}
	title := strings.TrimSpace(stdout.String())
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = strings.TrimSpace(title[:idx])
	}
	return textutil.SanitizeFileName(title), nil
}

func (s *Service) commonArgs() []string {
	var args []string
	if proxy := strings.TrimSpace(s.cfg.Proxy); proxy != "" {
		args = append(args, "--proxy", proxy)
	}
	if cookies := strings.TrimSpace(s.cfg.CookiesPath); cookies != "" {
		args = append(args, "--cookies", cookies)
	}
	return args
}

func (s *Service) format(quality Quality) string {
	defaults := config.Default().Download
	if quality == QualityLow {
		return firstNonEmpty(s.cfg.LowFormat, defaults.LowFormat)
	}
	return firstNonEmpty(s.cfg.HighFormat, defaults.HighFormat)
}

// FindDownloaded locates the finished file named base.<ext> in dir,
// ignoring partial downloads.
func FindDownloaded(dir, base string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, base+".") || IsPartial(name) {
			continue
		}
		matches = append(matches, filepath.Join(dir, name))
	}
	if len(matches) == 0 {
		return "", services.Wrap(services.ErrNotFound, "download", "locate output",
			fmt.Sprintf("no file named %s.* after download", base), nil)
	}
	slices.Sort(matches)
	return matches[0], nil
}

// IsPartial reports whether name is an in-progress yt-dlp artifact.
func IsPartial(name string) bool {
	for _, suffix := range PartialPatterns {
		if strings.HasSuffix(name, strings.TrimPrefix(suffix, "**/*")) {
			return true
		}
	}
	return false
}

// PartialPatterns match temporary files yt-dlp leaves behind when
// interrupted.
var PartialPatterns = []string{"**/*.part", "**/*.ytdl"}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
