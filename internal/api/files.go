package api

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"subflow/internal/fileutil"
	"subflow/internal/logging"
	"subflow/internal/services"
	"subflow/internal/subtitles"
	"subflow/internal/textutil"
	"subflow/internal/workflow"
)

const (
	maxSubtitleBytes = 16 << 20
	multipartMemory  = 32 << 20
	uploadField      = "file"
)

// handleUploadSubtitle replaces the workspace ASS subtitle with an edited
// copy so a later burn uses it.
func (s *Server) handleUploadSubtitle(w http.ResponseWriter, r *http.Request) {
	if report := s.ctrl.Status(); report.Active || report.Burning {
		s.writeError(w, r, workflow.ErrRunActive)
		return
	}
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload subtitle", "multipart field \"file\" is required", err))
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".ass") {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload subtitle", "only .ass subtitles are accepted", nil))
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, maxSubtitleBytes+1))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(data) > maxSubtitleBytes || !subtitles.LooksLikeASS(data) {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload subtitle", "file is not a valid ASS subtitle", nil))
		return
	}
	dest := filepath.Join(s.workDir, subtitles.FileASS)
	if err := fileutil.WriteFileAtomic(dest, data, 0o644); err != nil {
		s.writeError(w, r, fmt.Errorf("store subtitle: %w", err))
		return
	}
	s.logger.Info("subtitle uploaded",
		logging.String("source_name", header.Filename),
		logging.Int("bytes", len(data)),
	)
	s.writeJSON(w, http.StatusOK, UploadResponse{Message: "subtitle uploaded", Name: subtitles.FileASS, Size: int64(len(data))})
}

// handleUploadVideo stores a video in the upload directory under a
// sanitized name for a later start_local.
func (s *Server) handleUploadVideo(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload video", "invalid multipart body", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload video", "multipart field \"file\" is required", err))
		return
	}
	defer file.Close()

	if !workflow.IsVideoFile(header.Filename, s.formats) {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload video",
			fmt.Sprintf("unsupported format; allowed: %s", strings.Join(s.formats, ", ")), nil))
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	name := textutil.SanitizeFileName(strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename))) + ext

	size, err := storeUpload(file, filepath.Join(s.uploadDir, name))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("store upload: %w", err))
		return
	}
	s.logger.Info("video uploaded", logging.String("name", name), logging.Int64("bytes", size))
	s.writeJSON(w, http.StatusOK, UploadResponse{Message: "video uploaded", Name: name, Size: size})
}

func storeUpload(src io.Reader, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return 0, err
	}
	size, err := io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	return size, nil
}

// handleFiles lists the top-level workspace files, newest first.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.workDir)
	if err != nil && !os.IsNotExist(err) {
		s.writeError(w, r, err)
		return
	}
	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{Name: entry.Name(), Size: info.Size(), ModifiedAt: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ModifiedAt.After(files[j].ModifiedAt) })
	s.writeJSON(w, http.StatusOK, FilesResponse{Files: files})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil || !safeName(name) {
		s.writeMessage(w, http.StatusBadRequest, "invalid file name")
		return
	}
	path := filepath.Join(s.workDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		s.writeMessage(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

// safeName accepts a single path element inside the workspace.
func safeName(name string) bool {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "\x00") {
		return false
	}
	return filepath.Base(name) == name
}
