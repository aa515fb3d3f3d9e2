package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"subflow/internal/api"
	"subflow/internal/daemonctl"
)

type stubProber struct {
	err error
}

func (s stubProber) Status(context.Context) (api.StatusResponse, error) {
	return api.StatusResponse{}, s.err
}

func TestEnsureStartedSkipsLaunchWhenRunning(t *testing.T) {
	result, err := daemonctl.EnsureStarted(context.Background(), stubProber{}, "", daemonctl.LaunchOptions{}, time.Second)
	if err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	if result.State != daemonctl.StartStateAlreadyRunning {
		t.Fatalf("state = %s", result.State)
	}
}

func TestEnsureStartedRequiresExecutable(t *testing.T) {
	_, err := daemonctl.EnsureStarted(context.Background(), stubProber{err: errors.New("refused")}, "", daemonctl.LaunchOptions{}, time.Second)
	if err == nil {
		t.Fatal("expected launch error for empty executable")
	}
}

func TestWaitForAPITimesOut(t *testing.T) {
	err := daemonctl.WaitForAPI(context.Background(), stubProber{err: errors.New("refused")}, 300*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout")
	}
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	if _, err := daemonctl.ReadPID(filepath.Join(dir, "missing.pid")); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	bad := filepath.Join(dir, "bad.pid")
	if err := os.WriteFile(bad, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := daemonctl.ReadPID(bad); err == nil {
		t.Fatal("expected malformed pid error")
	}
	good := filepath.Join(dir, "good.pid")
	if err := os.WriteFile(good, []byte("1234\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if pid, err := daemonctl.ReadPID(good); err != nil || pid != 1234 {
		t.Fatalf("ReadPID = %d, %v", pid, err)
	}
}

func TestTerminateStopsProcess(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	cmd := exec.Command(sleep, "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	pidPath := filepath.Join(t.TempDir(), "subflowd.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
		t.Fatal(err)
	}
	result, err := daemonctl.Terminate(pidPath, 5*time.Second)
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if result.PID != cmd.Process.Pid {
		t.Fatalf("pid = %d, want %d", result.PID, cmd.Process.Pid)
	}
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Fatal("pid file should be removed")
	}
}

func TestTerminateWithoutPIDFile(t *testing.T) {
	_, err := daemonctl.Terminate(filepath.Join(t.TempDir(), "none.pid"), time.Second)
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}
