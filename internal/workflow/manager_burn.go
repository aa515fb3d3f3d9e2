package workflow

import (
	"context"
	"path/filepath"

	"subflow/internal/fileutil"
	"subflow/internal/logging"
	"subflow/internal/runstate"
	"subflow/internal/subtitles"
)

// Burn renders the subtitle file into the best available video in the
// background. It requires src_trans.ass and a full-quality video, and runs
// independently of the main run.
func (m *Manager) Burn(ctx context.Context) error {
	subtitle := filepath.Join(m.workDir(), subtitles.FileASS)
	if !fileutil.Exists(subtitle) {
		return ErrNoSubtitle
	}
	video, err := m.burnSourceVideo()
	if err != nil {
		return err
	}
	job, jobCtx, err := m.begin(ctx, runBurn)
	if err != nil {
		return err
	}
	m.apply(job, func() { m.state.ReopenStage(runstate.StageBurn) })
	m.logger.Info("burn started",
		logging.String(logging.FieldRunID, job.id),
		logging.String("video", filepath.Base(video)),
	)
	m.launch(job, func() {
		defer m.finish(job)
		_ = m.runStage(jobCtx, job, runstate.StageBurn, func(ctx context.Context) error {
			out, err := m.deps.Burner.Burn(ctx, video, subtitle, "")
			if err != nil {
				return err
			}
			logging.WithContext(ctx, m.logger).Info("burned video ready", logging.String("path", out))
			m.notify("burn_completed", func(ctx context.Context, n Notifier) error {
				return n.NotifyBurnCompleted(ctx, out)
			})
			return nil
		})
	})
	return nil
}
