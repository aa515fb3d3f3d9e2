package runstate_test

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"subflow/internal/runstate"
)

func TestLogRingKeepsLastEntriesAndMonotonicCounter(t *testing.T) {
	const capacity = 5
	const appends = 12
	state := runstate.New(capacity)
	for i := 1; i <= appends; i++ {
		state.AppendLog(fmt.Sprintf("line %d", i))
	}

	entries, count := state.Logs(0, 0)
	if count != appends {
		t.Fatalf("expected counter %d, got %d", appends, count)
	}
	if len(entries) != capacity {
		t.Fatalf("expected %d buffered entries, got %d", capacity, len(entries))
	}
	for i, entry := range entries {
		want := fmt.Sprintf("line %d", appends-capacity+1+i)
		if entry.Message != want {
			t.Fatalf("entry %d: got %q want %q", i, entry.Message, want)
		}
		if entry.Sequence != uint64(appends-capacity+1+i) {
			t.Fatalf("entry %d: unexpected sequence %d", i, entry.Sequence)
		}
	}
	if state.FirstSequence() != appends-capacity+1 {
		t.Fatalf("unexpected first sequence %d", state.FirstSequence())
	}
}

func TestLogsSinceReturnsOnlyNewer(t *testing.T) {
	state := runstate.New(10)
	for i := 0; i < 4; i++ {
		state.AppendLog(fmt.Sprintf("m%d", i))
	}
	entries, count := state.Logs(2, 0)
	if count != 4 || len(entries) != 2 || entries[0].Message != "m2" {
		t.Fatalf("unexpected logs since 2: %+v (count %d)", entries, count)
	}
	entries, _ = state.Logs(4, 0)
	if len(entries) != 0 {
		t.Fatalf("expected nothing after counter, got %+v", entries)
	}
	entries, _ = state.Logs(0, 1)
	if len(entries) != 1 || entries[0].Message != "m0" {
		t.Fatalf("expected limit to apply oldest-first, got %+v", entries)
	}
	tail, _ := state.Tail(2)
	if len(tail) != 2 || tail[1].Message != "m3" {
		t.Fatalf("unexpected tail %+v", tail)
	}
}

func TestConcurrentAppendsAreAtomic(t *testing.T) {
	state := runstate.New(10000)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				state.AppendLog(fmt.Sprintf("w%d-%d", w, i))
			}
		}(w)
	}
	wg.Wait()

	entries, count := state.Logs(0, 0)
	if count != 2000 || len(entries) != 2000 {
		t.Fatalf("expected 2000 entries, got %d (count %d)", len(entries), count)
	}
	for i, entry := range entries {
		if entry.Sequence != uint64(i+1) {
			t.Fatalf("sequence gap at %d: %d", i, entry.Sequence)
		}
	}
}

func TestStageTransitionsMoveForwardOnly(t *testing.T) {
	state := runstate.New(10)

	if state.UpdateStageStatus("unknown", runstate.StageRunning) {
		t.Fatal("unknown stage must be a no-op")
	}
	if !state.UpdateStageStatus(runstate.StageProcess, runstate.StageRunning) {
		t.Fatal("pending -> running should apply")
	}
	if state.UpdateStageStatus(runstate.StageProcess, runstate.StagePending) {
		t.Fatal("running -> pending must be rejected")
	}
	if !state.UpdateStageStatus(runstate.StageProcess, runstate.StageCompleted) {
		t.Fatal("running -> completed should apply")
	}
	if state.UpdateStageStatus(runstate.StageProcess, runstate.StageError) {
		t.Fatal("completed -> error must be rejected")
	}
	stage, _ := state.Snapshot().Stage(runstate.StageProcess)
	if stage.Status != runstate.StageCompleted || stage.Progress != 100 {
		t.Fatalf("unexpected stage %+v", stage)
	}

	if !state.ReopenStage(runstate.StageProcess) {
		t.Fatal("expected reopen to apply")
	}
	if !state.UpdateStageStatus(runstate.StageProcess, runstate.StageRunning) {
		t.Fatal("reopened stage should run again")
	}
	stopped := state.StopRunning()
	if len(stopped) != 1 || stopped[0] != runstate.StageProcess {
		t.Fatalf("unexpected stopped stages %v", stopped)
	}
}

func TestResetRestoresPendingAndLogs(t *testing.T) {
	state := runstate.New(10)
	state.UpdateStageStatus(runstate.StageDownloadLow, runstate.StageRunning)
	state.UpdateStageStatus(runstate.StageDownloadLow, runstate.StageError)
	state.SetError("boom")
	state.SetStatus(runstate.StatusError)

	state.Reset()

	snap := state.Snapshot()
	if snap.Status != runstate.StatusIdle || snap.Error != "" {
		t.Fatalf("unexpected snapshot after reset: %+v", snap)
	}
	for _, stage := range snap.Stages {
		if stage.Status != runstate.StagePending {
			t.Fatalf("stage %s not pending: %s", stage.Name, stage.Status)
		}
	}
	tail, _ := state.Tail(1)
	if len(tail) != 1 || tail[0].Message != "System reset." {
		t.Fatalf("expected reset log line, got %+v", tail)
	}
}

func TestWaitLogsBlocksUntilAppend(t *testing.T) {
	state := runstate.New(10)
	state.AppendLog("before")

	done := make(chan []runstate.LogEntry, 1)
	go func() {
		entries, _, err := state.WaitLogs(context.Background(), 1, 0)
		if err != nil {
			t.Errorf("WaitLogs: %v", err)
		}
		done <- entries
	}()

	time.Sleep(20 * time.Millisecond)
	state.AppendLog("after")

	select {
	case entries := <-done:
		if len(entries) != 1 || entries[0].Message != "after" {
			t.Fatalf("unexpected entries %+v", entries)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitLogs did not wake up")
	}
}

func TestWaitLogsHonorsContext(t *testing.T) {
	state := runstate.New(10)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := state.WaitLogs(ctx, 0, 0); err == nil {
		t.Fatal("expected context error")
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	state := runstate.New(10)
	events, unsubscribe := state.Subscribe()
	defer unsubscribe()

	state.SetStatus(runstate.StatusProcessing)
	state.AppendLog("hello")

	evt := <-events
	if evt.Kind != runstate.EventStatus || evt.Snapshot.Status != runstate.StatusProcessing {
		t.Fatalf("unexpected first event %+v", evt)
	}
	evt = <-events
	if evt.Kind != runstate.EventLog || evt.Log == nil || evt.Log.Message != "hello" {
		t.Fatalf("unexpected log event %+v", evt)
	}
}

func TestSlowSubscriberDoesNotBlockWriters(t *testing.T) {
	state := runstate.New(10)
	_, unsubscribe := state.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			state.AppendLog("x")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writers blocked on a full subscriber")
	}
}

func TestLogHandlerMirrorsRecords(t *testing.T) {
	state := runstate.New(10)
	logger := slog.New(runstate.NewLogHandler(state, slog.LevelInfo)).With("component", "workflow")
	logger.Debug("hidden")
	logger.Warn("polish failed", "error", "timeout")

	entries, count := state.Logs(0, 0)
	if count != 1 {
		t.Fatalf("expected 1 entry, got %d", count)
	}
	if entries[0].Level != "WARN" || !strings.Contains(entries[0].Message, "polish failed (error: timeout)") {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
	if !strings.HasPrefix(entries[0].Line(), "[") {
		t.Fatalf("unexpected line format %q", entries[0].Line())
	}
}
