package runstate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// LogHandler is an slog.Handler that mirrors records into the State log
// ring so API clients see the same stream the daemon log does.
type LogHandler struct {
	state *State
	level slog.Leveler
	attrs []slog.Attr
}

// NewLogHandler returns a handler that appends records at or above level.
func NewLogHandler(state *State, level slog.Leveler) *LogHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &LogHandler{state: state, level: level}
}

func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.state != nil && level >= h.level.Level()
}

func (h *LogHandler) Handle(_ context.Context, record slog.Record) error {
	if h.state == nil {
		return nil
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(record.Message))

	// Errors and warnings carry their cause into the panel line.
	appendDetail := func(attr slog.Attr) {
		switch attr.Key {
		case "error", "impact":
			fmt.Fprintf(&b, " (%s: %s)", attr.Key, attr.Value.Resolve().String())
		}
	}
	for _, attr := range h.attrs {
		appendDetail(attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		appendDetail(attr)
		return true
	})

	h.state.appendLog(levelName(record.Level), b.String())
	return nil
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandler{
		state: h.state,
		level: h.level,
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *LogHandler) WithGroup(string) slog.Handler {
	return h
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
