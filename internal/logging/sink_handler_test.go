package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"subflow/internal/runstate"
)

func TestWithSinksReturnsPrimaryWithoutSinks(t *testing.T) {
	var buf bytes.Buffer
	primary := slog.NewJSONHandler(&buf, nil)
	if h := withSinks(primary, nil, nil); h != primary {
		t.Fatal("expected primary handler to be returned unwrapped")
	}
}

func TestSinkHandlerMirrorsIntoRunState(t *testing.T) {
	var buf bytes.Buffer
	state := runstate.New(10)
	primary := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(withSinks(primary, runstate.NewLogHandler(state, slog.LevelInfo)))
	logger = NewComponentLogger(logger, "workflow")

	logger.Debug("console only")
	WarnWithContext(logger, "archive failed", "archive_failed",
		Error(errors.New("disk full")),
		String(FieldImpact, "previous subtitle is discarded"),
	)

	if !strings.Contains(buf.String(), "console only") || !strings.Contains(buf.String(), "archive failed") {
		t.Fatalf("primary output missing records: %q", buf.String())
	}
	entries, _ := state.Logs(0, 10)
	if len(entries) != 1 {
		t.Fatalf("run state should only receive info and above, got %+v", entries)
	}
	if entries[0].Level != "WARN" || !strings.Contains(entries[0].Message, "(error: disk full)") {
		t.Fatalf("unexpected run state entry %+v", entries[0])
	}
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("sink closed") }

func TestSinkHandlerFailureKeepsPrimaryOutput(t *testing.T) {
	var buf bytes.Buffer
	primary := slog.NewTextHandler(&buf, nil)
	h := withSinks(primary, failingHandler{slog.NewTextHandler(&bytes.Buffer{}, nil)})

	record := slog.NewRecord(time.Time{}, slog.LevelInfo, "still written", 0)
	if err := h.Handle(context.Background(), record); err == nil || !strings.Contains(err.Error(), "sink closed") {
		t.Fatalf("expected sink error, got %v", err)
	}
	if !strings.Contains(buf.String(), "still written") {
		t.Fatalf("primary output missing record: %q", buf.String())
	}
}

func TestSinkHandlerCarriesAttrsAndGroups(t *testing.T) {
	var a, b bytes.Buffer
	h := withSinks(slog.NewJSONHandler(&a, nil), slog.NewJSONHandler(&b, nil))
	logger := slog.New(h).With("run_id", "r1").WithGroup("llm")
	logger.Info("call", "model", "m")

	for _, out := range []string{a.String(), b.String()} {
		if !strings.Contains(out, `"run_id":"r1"`) || !strings.Contains(out, `"llm":{"model":"m"}`) {
			t.Fatalf("unexpected output %q", out)
		}
	}
}
