package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"subflow/internal/fileutil"
	"subflow/internal/logging"
	"subflow/internal/runstate"
	"subflow/internal/services"
	"subflow/internal/services/ytdlp"
	"subflow/internal/textutil"
)

// Start archives the previous result, resets state, wipes the workspace
// and launches a full run for sourceRef. It returns once the run is
// launched.
func (m *Manager) Start(ctx context.Context, sourceRef string) error {
	sourceRef = strings.TrimSpace(sourceRef)
	if sourceRef == "" {
		return services.Wrap(services.ErrValidation, "start", "parse request", "source URL is required", nil)
	}
	run, runCtx, err := m.begin(ctx, runFull)
	if err != nil {
		return err
	}
	if err := m.prepareWorkspace(runCtx, run); err != nil {
		m.abandon(run)
		return err
	}
	m.logger.Info("workflow started",
		logging.String(logging.FieldRunID, run.id),
		logging.String("source", sourceRef),
	)
	m.launch(run, func() { m.runFull(runCtx, run, sourceRef) })
	return nil
}

// StartLocal runs processing on an uploaded video instead of downloading.
// An empty fileRef selects the newest upload.
func (m *Manager) StartLocal(ctx context.Context, fileRef string) error {
	upload, err := m.resolveUpload(fileRef)
	if err != nil {
		return err
	}
	run, runCtx, err := m.begin(ctx, runLocal)
	if err != nil {
		return err
	}
	if err := m.prepareWorkspace(runCtx, run); err != nil {
		m.abandon(run)
		return err
	}
	base := textutil.SanitizeFileName(strings.TrimSuffix(filepath.Base(upload), filepath.Ext(upload)))
	dest := filepath.Join(m.workDir(), base+ytdlp.QualityBest.Suffix()+strings.ToLower(filepath.Ext(upload)))
	if err := fileutil.CopyFileVerified(upload, dest); err != nil {
		m.abandon(run)
		return services.Wrap(services.ErrExternalTool, "start_local", "copy upload", filepath.Base(upload), err)
	}
	m.apply(run, func() {
		for _, stage := range []string{runstate.StageDownloadLow, runstate.StageDownloadHigh} {
			m.state.UpdateStageStatus(stage, runstate.StageRunning)
			m.state.UpdateStageStatus(stage, runstate.StageCompleted)
		}
		m.state.SetStatus(runstate.StatusProcessing)
	})
	m.logger.Info("local workflow started",
		logging.String(logging.FieldRunID, run.id),
		logging.String("video", filepath.Base(dest)),
	)
	m.launch(run, func() {
		m.runProcessBranch(runCtx, run)
		m.finish(run)
	})
	return nil
}

// Continue resumes processing in the existing workspace. Stages whose
// artifacts are already present are skipped; if all of them are, Continue
// only logs and returns.
func (m *Manager) Continue(ctx context.Context) error {
	m.mu.Lock()
	active := m.run != nil
	m.mu.Unlock()
	if active {
		return ErrRunActive
	}

	checkpoint, err := m.loadCheckpoint()
	if err != nil {
		return services.Wrap(services.ErrValidation, "continue", "read checkpoint", "", err)
	}
	pending := m.pendingStages(checkpoint)
	if len(pending) == 0 {
		m.logger.Info("all processing stages already complete; nothing to continue")
		return nil
	}
	if pending[0] == stageTranscribe {
		if _, err := m.processingVideo(); err != nil {
			return err
		}
	}

	run, runCtx, err := m.begin(ctx, runResume)
	if err != nil {
		return err
	}
	m.apply(run, func() {
		m.state.SetError("")
		m.state.ReopenStage(runstate.StageProcess)
		m.state.SetStatus(runstate.StatusProcessing)
	})
	m.logger.Info("continuing workflow",
		logging.String(logging.FieldRunID, run.id),
		logging.String("resume_from", pending[0]),
	)
	m.launch(run, func() {
		m.runProcessBranch(runCtx, run)
		m.finish(run)
	})
	return nil
}

// Stop cancels the active run and any burn job, marks running stages
// stopped and returns the workflow to idle without waiting for the jobs.
// Partial downloads are removed once the jobs exit or the grace period
// ends, unless a new run has claimed the workspace by then.
func (m *Manager) Stop() {
	m.mu.Lock()
	var jobs []*workflowRun
	for _, job := range []*workflowRun{m.run, m.burn} {
		if job != nil {
			job.stopped.Store(true)
			job.cancel()
			jobs = append(jobs, job)
		}
	}
	m.run, m.burn = nil, nil
	stopped := m.state.StopRunning()
	m.state.SetStatus(runstate.StatusIdle)
	m.stopping.Add(1)
	m.mu.Unlock()
	m.logger.Info("workflow stopped", logging.Any("stopped_stages", stopped))

	go func() {
		defer m.stopping.Done()
		m.awaitExit(jobs)
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.run != nil {
			return
		}
		if removed := m.removePartials(); removed > 0 {
			m.logger.Info("partial downloads removed", logging.Int("partials_removed", removed))
		}
	}()
}

// awaitExit waits for jobs to finish, giving up after the grace period.
func (m *Manager) awaitExit(jobs []*workflowRun) {
	deadline := time.NewTimer(m.stopGrace())
	defer deadline.Stop()
	for _, job := range jobs {
		select {
		case <-job.done:
		case <-deadline.C:
			logging.WarnWithContext(m.logger, "workflow did not exit within grace period", "stop_timeout",
				logging.String(logging.FieldRunID, job.id),
				logging.Duration("grace", m.stopGrace()),
				logging.String(logging.FieldImpact, "stale goroutines are fenced off from state and workspace"),
			)
			return
		}
	}
}

// Reset returns every stage to pending. It is rejected while a run is
// active.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run != nil {
		return ErrRunActive
	}
	m.state.Reset()
	return nil
}

func (m *Manager) begin(ctx context.Context, kind runKind) (*workflowRun, context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind == runBurn {
		if m.burn != nil {
			return nil, nil, ErrRunActive
		}
	} else if m.run != nil {
		return nil, nil, ErrRunActive
	}

	// Runs outlive the request that started them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &workflowRun{
		id:     uuid.NewString(),
		kind:   kind,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	runCtx = services.WithRunID(runCtx, run.id)
	if kind == runBurn {
		m.burn = run
	} else {
		m.run = run
	}
	return run, runCtx, nil
}

func (m *Manager) launch(run *workflowRun, body func()) {
	go func() {
		defer close(run.done)
		body()
	}()
}

// abandon releases a run that failed before launch.
func (m *Manager) abandon(run *workflowRun) {
	m.mu.Lock()
	if m.run == run {
		m.run = nil
	}
	if m.burn == run {
		m.burn = nil
	}
	m.mu.Unlock()
	run.cancel()
	close(run.done)
}

// finish settles the overall status, uninstalls the run and sends the
// outcome notification.
func (m *Manager) finish(run *workflowRun) {
	defer run.cancel()
	m.mu.Lock()
	installed := m.run == run || m.burn == run
	if m.burn == run {
		m.burn = nil
	} else if m.run == run {
		m.run = nil
		switch {
		case run.failed.Load():
			m.state.SetStatus(runstate.StatusError)
		case run.stopped.Load():
			m.state.SetStatus(runstate.StatusIdle)
		default:
			m.state.SetStatus(runstate.StatusCompleted)
			m.logger.Info("workflow completed", logging.String(logging.FieldRunID, run.id))
		}
	}
	m.mu.Unlock()

	if !installed || run.stopped.Load() {
		return
	}
	switch {
	case run.failed.Load():
		reason := m.state.Snapshot().Error
		m.notify("run_failed", func(ctx context.Context, n Notifier) error {
			return n.NotifyRunFailed(ctx, run.id, reason)
		})
	case run.kind != runBurn:
		m.notify("run_completed", func(ctx context.Context, n Notifier) error {
			return n.NotifyRunCompleted(ctx, run.id)
		})
	}
}

func (m *Manager) notify(event string, send func(context.Context, Notifier) error) {
	if m.deps.Notifier == nil {
		return
	}
	if err := send(context.Background(), m.deps.Notifier); err != nil {
		logging.WarnWithContext(m.logger, "notification failed", "notification_failed",
			logging.String("event", event),
			logging.Error(err),
			logging.String(logging.FieldImpact, "outcome was not announced"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

func (m *Manager) prepareWorkspace(ctx context.Context, run *workflowRun) error {
	if m.deps.Archiver != nil {
		archived, err := m.deps.Archiver.Archive(ctx, m.workDir())
		if err != nil {
			logging.WarnWithContext(m.logger, "archiving previous subtitle failed", "archive_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "previous subtitle is discarded"),
				logging.String(logging.FieldErrorHint, "check archive_dir permissions and S3 settings"),
			)
		} else if archived != "" {
			m.logger.Info("previous subtitle archived", logging.String("path", archived))
		}
	}
	m.apply(run, func() { m.state.Reset() })
	if err := cleanDir(m.workDir()); err != nil {
		return services.Wrap(services.ErrConfiguration, "start", "clean workspace", m.workDir(), err)
	}
	return nil
}

func (m *Manager) runFull(ctx context.Context, run *workflowRun, sourceRef string) {
	m.setStatus(run, runstate.StatusDownloadingLow)
	err := m.runStage(ctx, run, runstate.StageDownloadLow, func(ctx context.Context) error {
		_, err := m.deps.Downloader.Download(ctx, sourceRef, ytdlp.QualityLow, m.workDir())
		return err
	})
	if err != nil {
		m.finish(run)
		return
	}

	m.setStatus(run, runstate.StatusProcessing)
	run.wg.Add(2)
	go func() {
		defer run.wg.Done()
		m.runProcessBranch(ctx, run)
	}()
	go func() {
		defer run.wg.Done()
		_ = m.runStage(ctx, run, runstate.StageDownloadHigh, func(ctx context.Context) error {
			_, err := m.deps.Downloader.Download(ctx, sourceRef, ytdlp.QualityBest, m.workDir())
			return err
		})
	}()
	run.wg.Wait()
	m.finish(run)
}

// runStage drives one named stage through running to its outcome.
// Panics inside fn become stage errors.
func (m *Manager) runStage(ctx context.Context, run *workflowRun, name string, fn func(context.Context) error) error {
	ctx = services.WithRequestID(services.WithStage(ctx, name), uuid.NewString())
	logger := logging.WithContext(ctx, m.logger)
	if !m.apply(run, func() { m.state.UpdateStageStatus(name, runstate.StageRunning) }) {
		return context.Canceled
	}
	started := time.Now()
	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

	if err := safeCall(ctx, name, fn); err != nil {
		m.handleStageFailure(ctx, logger, run, name, err)
		return err
	}
	m.apply(run, func() { m.state.UpdateStageStatus(name, runstate.StageCompleted) })
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(started).Round(time.Millisecond)),
	)
	return nil
}

func safeCall(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	return fn(ctx)
}

func (m *Manager) resolveUpload(fileRef string) (string, error) {
	dir := m.cfg.Paths.UploadDir
	fileRef = strings.TrimSpace(fileRef)
	if fileRef != "" {
		if filepath.Base(fileRef) != fileRef {
			return "", services.Wrap(services.ErrValidation, "start_local", "resolve upload", "file must be a bare name", nil)
		}
		path := filepath.Join(dir, fileRef)
		if !fileutil.Exists(path) {
			return "", services.Wrap(services.ErrNotFound, "start_local", "resolve upload", fileRef, nil)
		}
		return path, nil
	}
	videos, err := listVideos(dir, m.cfg.Download.AllowedFormats)
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	if len(videos) == 0 {
		return "", services.Wrap(services.ErrNotFound, "start_local", "resolve upload", "no uploaded video", nil)
	}
	newest := videos[0]
	for _, v := range videos[1:] {
		if v.modTime.After(newest.modTime) {
			newest = v
		}
	}
	return newest.path, nil
}
