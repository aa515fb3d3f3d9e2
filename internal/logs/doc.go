// Package logs reads the daemon's on-disk log file.
//
// The CLI falls back to it when the daemon API is unreachable; while the
// daemon runs, the in-memory buffer served over HTTP is preferred.
package logs
