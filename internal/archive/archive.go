// Package archive keeps the subtitles of previous runs before a new run
// wipes the workspace, and prunes old archives on a schedule.
//
// Archives are named by the local time they were taken
// (2006-01-02_15-04-05.ass). With keep_intermediates the workspace log JSON
// is copied into a sibling directory of the same name. An optional Sink
// mirrors every archived file, typically to S3.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"subflow/internal/config"
	"subflow/internal/fileutil"
	"subflow/internal/logging"
	"subflow/internal/subtitles"
)

// TimestampLayout names archive entries.
const TimestampLayout = "2006-01-02_15-04-05"

// Sink mirrors archived files to remote storage.
type Sink interface {
	Put(ctx context.Context, key, path string) error
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Service archives workspace subtitles into the archive directory.
type Service struct {
	dir    string
	cfg    config.Archive
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithSink mirrors archives to sink.
func WithSink(sink Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs an archive service for cfg.Paths.ArchiveDir.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		dir:    cfg.Paths.ArchiveDir,
		cfg:    cfg.Archive,
		logger: logging.NewComponentLogger(logger, "archive"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Archive copies workDir's ASS subtitle (and, when configured, the log
// JSON) into the archive directory. It returns "" when there is no
// subtitle. Sink failures are logged and do not fail the archive.
func (s *Service) Archive(ctx context.Context, workDir string) (string, error) {
	subtitle := filepath.Join(workDir, subtitles.FileASS)
	if !fileutil.Exists(subtitle) {
		return "", nil
	}
	stamp := s.now().Format(TimestampLayout)
	dest := filepath.Join(s.dir, stamp+".ass")
	if err := fileutil.CopyFile(subtitle, dest); err != nil {
		return "", fmt.Errorf("archive subtitle: %w", err)
	}
	files := map[string]string{stamp + ".ass": dest}

	if s.cfg.KeepIntermediates {
		copied, err := s.copyIntermediates(filepath.Join(workDir, "log"), filepath.Join(s.dir, stamp))
		if err != nil {
			return dest, fmt.Errorf("archive intermediates: %w", err)
		}
		for _, path := range copied {
			files[stamp+"/"+filepath.Base(path)] = path
		}
	}

	s.mirror(ctx, files)
	return dest, nil
}

func (s *Service) copyIntermediates(logDir, destDir string) ([]string, error) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var copied []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		dest := filepath.Join(destDir, entry.Name())
		if err := fileutil.CopyFile(filepath.Join(logDir, entry.Name()), dest); err != nil {
			return copied, err
		}
		copied = append(copied, dest)
	}
	return copied, nil
}

func (s *Service) mirror(ctx context.Context, files map[string]string) {
	if s.sink == nil {
		return
	}
	for key, path := range files {
		if err := s.sink.Put(ctx, key, path); err != nil {
			logging.WarnWithContext(s.logger, "archive upload failed", "archive_upload_failed",
				logging.String("key", key),
				logging.Error(err),
				logging.String(logging.FieldImpact, "archive kept locally only"),
				logging.String(logging.FieldErrorHint, "check archive.s3 credentials and bucket"),
			)
		}
	}
}

// Prune removes archives older than the retention window and returns how
// many local entries were deleted. A zero retention keeps everything.
func (s *Service) Prune(ctx context.Context) (int, error) {
	if s.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, entry.Name())); err != nil {
			return removed, fmt.Errorf("prune %s: %w", entry.Name(), err)
		}
		removed++
	}
	if s.sink != nil {
		remote, err := s.sink.Prune(ctx, cutoff)
		if err != nil {
			logging.WarnWithContext(s.logger, "remote archive prune failed", "archive_prune_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "old remote archives remain"),
			)
		} else if remote > 0 {
			s.logger.Info("remote archives pruned", logging.Int("objects", remote))
		}
	}
	if removed > 0 {
		s.logger.Info("archives pruned",
			logging.Int("entries", removed),
			logging.Int("retention_days", s.cfg.RetentionDays),
		)
	}
	return removed, nil
}
