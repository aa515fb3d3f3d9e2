package runstate

import (
	"sync"
	"time"
)

// Status is the overall run status.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusDownloadingLow  Status = "downloading_low"
	StatusProcessing      Status = "processing"
	StatusDownloadingHigh Status = "downloading_high"
	StatusCompleted       Status = "completed"
	StatusError           Status = "error"
)

// StageStatus is the status of one named stage.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageError     StageStatus = "error"
	StageStopped   StageStatus = "stopped"
)

// Named stages, in display order.
const (
	StageDownloadLow  = "download_low"
	StageProcess      = "process"
	StageDownloadHigh = "download_high"
	StageBurn         = "burn"
)

// StageNames lists every stage tracked by a State.
var StageNames = []string{StageDownloadLow, StageProcess, StageDownloadHigh, StageBurn}

// StageRecord is the observable state of one stage.
type StageRecord struct {
	Name     string      `json:"name"`
	Status   StageStatus `json:"status"`
	Progress float64     `json:"progress"`
}

// Snapshot is a consistent copy of the state at one instant.
type Snapshot struct {
	Status    Status        `json:"status"`
	Stages    []StageRecord `json:"stages"`
	Error     string        `json:"error,omitempty"`
	LogCount  uint64        `json:"log_count"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Stage returns the record for name from the snapshot.
func (s Snapshot) Stage(name string) (StageRecord, bool) {
	for _, stage := range s.Stages {
		if stage.Name == name {
			return stage, true
		}
	}
	return StageRecord{}, false
}

// EventKind tags change notifications.
type EventKind string

const (
	EventStatus EventKind = "status"
	EventStage  EventKind = "stage"
	EventLog    EventKind = "log"
	EventReset  EventKind = "reset"
)

// Event is delivered to subscribers after every mutation.
type Event struct {
	Kind     EventKind `json:"kind"`
	Snapshot Snapshot  `json:"snapshot"`
	Log      *LogEntry `json:"log,omitempty"`
}

const subscriberBuffer = 64

// State is the lock-guarded status and log store.
type State struct {
	mu        sync.Mutex
	cond      *sync.Cond
	status    Status
	errMsg    string
	stages    map[string]*StageRecord
	logs      ring
	updatedAt time.Time
	subs      map[int]chan Event
	nextSub   int
	now       func() time.Time
}

// New constructs a State whose log ring holds capacity entries.
func New(capacity int) *State {
	s := &State{
		status: StatusIdle,
		stages: make(map[string]*StageRecord, len(StageNames)),
		logs:   newRing(capacity),
		subs:   make(map[int]chan Event),
		now:    time.Now,
	}
	s.cond = sync.NewCond(&s.mu)
	for _, name := range StageNames {
		s.stages[name] = &StageRecord{Name: name, Status: StagePending}
	}
	s.updatedAt = s.now()
	return s
}

// SetStatus sets the run status and notifies subscribers.
func (s *State) SetStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.touchLocked()
	evt := Event{Kind: EventStatus, Snapshot: s.snapshotLocked()}
	s.mu.Unlock()
	s.publish(evt)
}

// Status returns the current run status.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// UpdateStageStatus moves a stage forward. Unknown names and backward moves
// are ignored; the return value reports whether anything changed.
func (s *State) UpdateStageStatus(name string, status StageStatus) bool {
	s.mu.Lock()
	stage, ok := s.stages[name]
	if !ok || !canTransition(stage.Status, status) {
		s.mu.Unlock()
		return false
	}
	stage.Status = status
	switch status {
	case StageRunning:
		stage.Progress = 0
	case StageCompleted:
		stage.Progress = 100
	}
	s.touchLocked()
	evt := Event{Kind: EventStage, Snapshot: s.snapshotLocked()}
	s.mu.Unlock()
	s.publish(evt)
	return true
}

// ReopenStage puts a finished stage back to pending so it can run again.
// Running stages are left untouched.
func (s *State) ReopenStage(name string) bool {
	s.mu.Lock()
	stage, ok := s.stages[name]
	if !ok || stage.Status == StageRunning {
		s.mu.Unlock()
		return false
	}
	stage.Status = StagePending
	stage.Progress = 0
	s.touchLocked()
	evt := Event{Kind: EventStage, Snapshot: s.snapshotLocked()}
	s.mu.Unlock()
	s.publish(evt)
	return true
}

// StopRunning marks every running stage stopped and returns their names.
func (s *State) StopRunning() []string {
	s.mu.Lock()
	var stopped []string
	for _, name := range StageNames {
		stage := s.stages[name]
		if stage.Status == StageRunning {
			stage.Status = StageStopped
			stopped = append(stopped, name)
		}
	}
	if len(stopped) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.touchLocked()
	evt := Event{Kind: EventStage, Snapshot: s.snapshotLocked()}
	s.mu.Unlock()
	s.publish(evt)
	return stopped
}

// SetStageProgress records percentage progress (0-100) for a running stage.
func (s *State) SetStageProgress(name string, progress float64) {
	s.mu.Lock()
	stage, ok := s.stages[name]
	if !ok || stage.Status != StageRunning {
		s.mu.Unlock()
		return
	}
	stage.Progress = min(max(progress, 0), 100)
	s.touchLocked()
	evt := Event{Kind: EventStage, Snapshot: s.snapshotLocked()}
	s.mu.Unlock()
	s.publish(evt)
}

// SetError records the user-facing error message. An empty string clears it.
func (s *State) SetError(msg string) {
	s.mu.Lock()
	s.errMsg = msg
	s.touchLocked()
	evt := Event{Kind: EventStatus, Snapshot: s.snapshotLocked()}
	s.mu.Unlock()
	s.publish(evt)
}

// AppendLog timestamps and stores a message.
func (s *State) AppendLog(message string) LogEntry {
	return s.appendLog("INFO", message)
}

func (s *State) appendLog(level, message string) LogEntry {
	s.mu.Lock()
	entry := s.logs.push(LogEntry{Timestamp: s.now(), Level: level, Message: message})
	evt := Event{Kind: EventLog, Snapshot: s.snapshotLocked(), Log: &entry}
	s.cond.Broadcast()
	s.mu.Unlock()
	s.publish(evt)
	return entry
}

// Reset restores every stage to pending, clears the error, sets the status
// to idle, and records the reset in the log.
func (s *State) Reset() {
	s.mu.Lock()
	for _, name := range StageNames {
		s.stages[name].Status = StagePending
		s.stages[name].Progress = 0
	}
	s.errMsg = ""
	s.status = StatusIdle
	s.touchLocked()
	entry := s.logs.push(LogEntry{Timestamp: s.now(), Level: "INFO", Message: "System reset."})
	evt := Event{Kind: EventReset, Snapshot: s.snapshotLocked(), Log: &entry}
	s.cond.Broadcast()
	s.mu.Unlock()
	s.publish(evt)
}

// Snapshot returns a consistent copy of status, stages, and error.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers a change listener. Events are dropped for listeners
// whose buffer is full. Call the returned func to unsubscribe.
func (s *State) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *State) publish(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (s *State) touchLocked() {
	s.updatedAt = s.now()
}

func (s *State) snapshotLocked() Snapshot {
	stages := make([]StageRecord, 0, len(StageNames))
	for _, name := range StageNames {
		stages = append(stages, *s.stages[name])
	}
	return Snapshot{
		Status:    s.status,
		Stages:    stages,
		Error:     s.errMsg,
		LogCount:  s.logs.count,
		UpdatedAt: s.updatedAt,
	}
}

func canTransition(from, to StageStatus) bool {
	if from == to {
		return false
	}
	switch from {
	case StagePending:
		return true
	case StageRunning:
		return to == StageCompleted || to == StageError || to == StageStopped
	default:
		return false
	}
}
