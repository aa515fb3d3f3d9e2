package logging

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

// sinkHandler writes each record to the primary console or JSON output
// and mirrors it into sinks. In the daemon the one sink is the run state
// log ring that backs /api/logs and the WebSocket stream, so CLI clients
// see the lines the daemon log shows.
type sinkHandler struct {
	primary slog.Handler
	sinks   []slog.Handler
}

// withSinks wraps primary when there is at least one non-nil sink.
func withSinks(primary slog.Handler, sinks ...slog.Handler) slog.Handler {
	sinks = slices.DeleteFunc(slices.Clone(sinks), func(h slog.Handler) bool { return h == nil })
	if len(sinks) == 0 {
		return primary
	}
	return &sinkHandler{primary: primary, sinks: sinks}
}

func (h *sinkHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.primary.Enabled(ctx, level) {
		return true
	}
	return slices.ContainsFunc(h.sinks, func(s slog.Handler) bool { return s.Enabled(ctx, level) })
}

// Handle offers the record to every handler whose level admits it. A
// failing sink never keeps the record from the primary output; all
// failures are joined into the returned error.
func (h *sinkHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.all() {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *sinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(s slog.Handler) slog.Handler { return s.WithAttrs(attrs) })
}

func (h *sinkHandler) WithGroup(name string) slog.Handler {
	return h.derive(func(s slog.Handler) slog.Handler { return s.WithGroup(name) })
}

func (h *sinkHandler) all() []slog.Handler {
	return append([]slog.Handler{h.primary}, h.sinks...)
}

func (h *sinkHandler) derive(fn func(slog.Handler) slog.Handler) *sinkHandler {
	next := &sinkHandler{primary: fn(h.primary), sinks: make([]slog.Handler, len(h.sinks))}
	for i, sink := range h.sinks {
		next.sinks[i] = fn(sink)
	}
	return next
}
