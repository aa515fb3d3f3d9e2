package api

import (
	"time"

	"subflow/internal/deps"
	"subflow/internal/runstate"
	"subflow/internal/workflow"
)

// StartRequest is the body of POST /api/start.
type StartRequest struct {
	URL string `json:"url"`
}

// StartLocalRequest is the body of POST /api/start_local. An empty File
// selects the newest uploaded video.
type StartLocalRequest struct {
	File string `json:"file,omitempty"`
}

// MessageResponse carries human-readable outcomes and errors.
type MessageResponse struct {
	Message string `json:"message"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	workflow.Report
	Dependencies []deps.Status `json:"dependencies,omitempty"`
}

// LogsResponse is one page of buffered log entries. Next is the cursor to
// pass as since on the following request.
type LogsResponse struct {
	Entries []runstate.LogEntry `json:"entries"`
	Next    uint64              `json:"next"`
}

// FileInfo describes a workspace file available for download.
type FileInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// FilesResponse is returned by GET /api/files.
type FilesResponse struct {
	Files []FileInfo `json:"files"`
}

// UploadResponse reports where an uploaded file was stored.
type UploadResponse struct {
	Message string `json:"message"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
}
