package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"subflow/internal/align"
	"subflow/internal/logging"
	"subflow/internal/runstate"
	"subflow/internal/services"
)

// handleStageFailure records a stage outcome. Cancellation marks the stage
// stopped; anything else marks it error and flags the run failed without
// touching sibling branches.
func (m *Manager) handleStageFailure(ctx context.Context, logger *slog.Logger, run *workflowRun, name string, stageErr error) {
	if services.IsCancellation(stageErr) || ctx.Err() != nil {
		run.stopped.Store(true)
		m.apply(run, func() { m.state.UpdateStageStatus(name, runstate.StageStopped) })
		logger.Info("stage stopped", logging.String(logging.FieldEventType, "stage_stopped"))
		return
	}

	run.failed.Store(true)
	message := classifyStageFailure(name, stageErr)
	m.apply(run, func() {
		m.state.UpdateStageStatus(name, runstate.StageError)
		m.state.SetError(message)
		if run.kind != runBurn {
			m.state.SetStatus(runstate.StatusError)
		}
	})
	logging.ErrorWithContext(logger, "stage failed", "stage_failure",
		logging.Error(stageErr),
		logging.Alert("stage_failure"),
		logging.String(logging.FieldErrorHint, failureHint(stageErr)),
	)
}

func classifyStageFailure(name string, err error) string {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = "failed"
	}
	return name + ": " + message
}

func failureHint(err error) string {
	var mismatch *align.MismatchError
	switch {
	case errors.As(err, &mismatch):
		return "sentence text no longer matches the transcript; rerun split or fix log/sentences.json"
	case errors.Is(err, services.ErrConfiguration):
		return "check the configuration file and credentials"
	case errors.Is(err, services.ErrExternalTool):
		return "check that the external tool is installed and its output above"
	case errors.Is(err, services.ErrValidation):
		return "the model output did not validate; Continue retries from this stage"
	case errors.Is(err, services.ErrNotFound):
		return "an expected input file is missing from the workspace"
	default:
		return "check logs for details; Continue resumes from the failed stage"
	}
}
