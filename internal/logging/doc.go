// Package logging assembles structured slog loggers and formatting helpers used
// across subflow services.
//
// It owns the console/JSON handlers, rotates the daemon log file, and exposes
// context-aware helpers so pipeline code can tag log lines with run IDs,
// stages, and correlation IDs automatically. A no-op logger is provided for
// tests and wiring code that cannot fail.
package logging
