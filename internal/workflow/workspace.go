package workflow

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"subflow/internal/config"
	"subflow/internal/logging"
	"subflow/internal/services"
	"subflow/internal/services/ffmpeg"
	"subflow/internal/services/ytdlp"
)

// LogDirName is the workspace subdirectory holding intermediate JSON.
const LogDirName = "log"

func (m *Manager) workDir() string {
	return m.cfg.Paths.WorkDir
}

func (m *Manager) logPath(name string) string {
	return filepath.Join(m.workDir(), LogDirName, name)
}

type videoFile struct {
	path    string
	size    int64
	modTime time.Time
}

// VideoPattern builds a glob matching the allowed video extensions.
func VideoPattern(formats []string) string {
	exts := make([]string, 0, len(formats))
	for _, f := range formats {
		f = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), "."))
		if f != "" {
			exts = append(exts, f)
		}
	}
	if len(exts) == 0 {
		return VideoPattern(config.Default().Download.AllowedFormats)
	}
	return "*.{" + strings.Join(exts, ",") + "}"
}

// IsVideoFile reports whether name carries an allowed video extension.
func IsVideoFile(name string, formats []string) bool {
	ok, err := doublestar.Match(VideoPattern(formats), strings.ToLower(filepath.Base(name)))
	return err == nil && ok
}

func listVideos(dir string, formats []string) ([]videoFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var videos []videoFile
	for _, entry := range entries {
		if entry.IsDir() || !IsVideoFile(entry.Name(), formats) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		videos = append(videos, videoFile{
			path:    filepath.Join(dir, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return videos, nil
}

func isBurnedOutput(path string) bool {
	return strings.HasSuffix(filepath.Base(path), ffmpeg.OutputSuffix)
}

func isLowQuality(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(strings.TrimSuffix(base, filepath.Ext(base)), ytdlp.QualityLow.Suffix())
}

// processingVideo prefers the low-quality download and falls back to the
// largest other source video.
func (m *Manager) processingVideo() (string, error) {
	videos, _ := listVideos(m.workDir(), m.cfg.Download.AllowedFormats)
	var best *videoFile
	for i := range videos {
		v := &videos[i]
		if isBurnedOutput(v.path) {
			continue
		}
		if isLowQuality(v.path) {
			return v.path, nil
		}
		if best == nil || v.size > best.size {
			best = v
		}
	}
	if best == nil {
		return "", services.Wrap(services.ErrNotFound, "process", "locate video", "no video in workspace", nil)
	}
	return best.path, nil
}

// burnSourceVideo picks the largest video that is neither the low-quality
// copy nor a previous burn.
func (m *Manager) burnSourceVideo() (string, error) {
	videos, _ := listVideos(m.workDir(), m.cfg.Download.AllowedFormats)
	var best *videoFile
	for i := range videos {
		v := &videos[i]
		if isBurnedOutput(v.path) || isLowQuality(v.path) {
			continue
		}
		if best == nil || v.size > best.size {
			best = v
		}
	}
	if best == nil {
		return "", services.Wrap(services.ErrNotFound, "burn", "locate video", "no full-quality video in workspace", nil)
	}
	return best.path, nil
}

// removePartials deletes interrupted download fragments from the
// workspace and reports how many were removed.
func (m *Manager) removePartials() int {
	root := m.workDir()
	fsys := os.DirFS(root)
	removed := 0
	for _, pattern := range ytdlp.PartialPatterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			continue
		}
		for _, rel := range matches {
			if err := os.Remove(filepath.Join(root, filepath.FromSlash(rel))); err != nil {
				m.logger.Debug("partial file removal failed", logging.String("path", rel), logging.Error(err))
				continue
			}
			removed++
		}
	}
	return removed
}

// cleanDir empties dir, creating it when missing.
func cleanDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
