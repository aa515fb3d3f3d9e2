package workflow

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"subflow/internal/config"
	"subflow/internal/logging"
	"subflow/internal/runstate"
)

// Manager owns the single active run and the optional burn job.
type Manager struct {
	cfg    *config.Config
	state  *runstate.State
	deps   Deps
	logger *slog.Logger

	mu   sync.Mutex
	run  *workflowRun
	burn *workflowRun
	// stopping tracks the post-Stop cleanup goroutines.
	stopping sync.WaitGroup
}

// workflowRun is one launched job. Its pointer identity fences state
// mutations: only the run currently installed on the Manager may write.
type workflowRun struct {
	id     string
	kind   runKind
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	failed  atomic.Bool
	stopped atomic.Bool
}

// Report is the observable workflow status.
type Report struct {
	runstate.Snapshot
	RunID   string `json:"run_id,omitempty"`
	Active  bool   `json:"active"`
	Burning bool   `json:"burning"`
}

// NewManager constructs a workflow manager around the process-wide state.
func NewManager(cfg *config.Config, state *runstate.State, deps Deps, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		state:  state,
		deps:   deps,
		logger: logging.NewComponentLogger(logger, "workflow"),
	}
}

// State exposes the injected run state.
func (m *Manager) State() *runstate.State {
	return m.state
}

// Status returns the current snapshot plus run bookkeeping.
func (m *Manager) Status() Report {
	m.mu.Lock()
	report := Report{Active: m.run != nil, Burning: m.burn != nil}
	if m.run != nil {
		report.RunID = m.run.id
	}
	m.mu.Unlock()
	report.Snapshot = m.state.Snapshot()
	return report
}

// Wait blocks until the active run, any burn job and pending Stop
// cleanup have finished.
func (m *Manager) Wait() {
	m.mu.Lock()
	jobs := []*workflowRun{m.run, m.burn}
	m.mu.Unlock()
	for _, job := range jobs {
		if job != nil {
			<-job.done
		}
	}
	m.stopping.Wait()
}

// apply runs fn only while run is still installed. Writes from a stopped
// or superseded run are dropped.
func (m *Manager) apply(run *workflowRun, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run == nil || (m.run != run && m.burn != run) {
		return false
	}
	fn()
	return true
}

func (m *Manager) setStatus(run *workflowRun, status runstate.Status) {
	m.apply(run, func() { m.state.SetStatus(status) })
}

func (m *Manager) setProgress(run *workflowRun, stage string, progress float64) {
	m.apply(run, func() { m.state.SetStageProgress(stage, progress) })
}

func (m *Manager) stopGrace() time.Duration {
	seconds := m.cfg.Workflow.StopGraceSeconds
	if seconds <= 0 {
		seconds = config.Default().Workflow.StopGraceSeconds
	}
	return time.Duration(seconds) * time.Second
}
