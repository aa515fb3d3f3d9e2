package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"subflow/internal/api"
	"subflow/internal/archive"
	"subflow/internal/config"
	"subflow/internal/deps"
	"subflow/internal/logging"
	"subflow/internal/workflow"
)

// Daemon coordinates the API server, archive pruning, and the workflow
// manager while enforcing single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	workflow *workflow.Manager
	archive  *archive.Service

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	server    *apiServer
	stopPrune func()
	cancel    context.CancelFunc
	running   atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool            `json:"running"`
	PID          int             `json:"pid"`
	LockFilePath string          `json:"lock_file_path"`
	APIAddress   string          `json:"api_address,omitempty"`
	Workflow     workflow.Report `json:"workflow"`
}

// New constructs a daemon around an already wired workflow manager. The
// archive service is optional.
func New(cfg *config.Config, wf *workflow.Manager, archiver *archive.Service, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || wf == nil {
		return nil, errors.New("daemon requires config and workflow manager")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		workflow: wf,
		archive:  archiver,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, starts the API listener and schedules
// archive pruning.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("ensure lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another subflow daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	handler := api.NewServer(d.cfg, d.workflow, d.logger, api.WithDependencies(d.Dependencies)).Handler()
	server := newAPIServer(d.cfg.Paths.APIBind, handler, d.logger)
	if err := server.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	if d.archive != nil {
		stop, err := d.archive.StartPruning(runCtx)
		if err != nil {
			logging.WarnWithContext(d.logger, "archive pruning disabled", "archive_prune_schedule_invalid",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check archive.prune_schedule"),
				logging.String(logging.FieldImpact, "old archives are not removed automatically"),
			)
		}
		d.stopPrune = stop
	}

	d.server = server
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("subflow daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", server.address()),
	)
	return nil
}

// Stop halts any active run, shuts the API down and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.workflow.Stop()
	d.workflow.Wait()
	if d.stopPrune != nil {
		d.stopPrune()
		d.stopPrune = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("subflow daemon stopped")
}

// Address returns the bound API address, useful when binding to port 0.
func (d *Daemon) Address() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.server == nil {
		return ""
	}
	return d.server.address()
}

// Dependencies reports the availability of the external binaries the
// configured pipeline needs.
func (d *Daemon) Dependencies() []deps.Status {
	return deps.CheckBinaries(deps.Requirements(d.cfg))
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		APIAddress:   d.Address(),
		Workflow:     d.workflow.Status(),
	}
}
