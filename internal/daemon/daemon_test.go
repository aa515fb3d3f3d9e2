package daemon_test

import (
	"context"
	"testing"

	"subflow/internal/api"
	"subflow/internal/archive"
	"subflow/internal/daemon"
	"subflow/internal/runstate"
	"subflow/internal/testsupport"
	"subflow/internal/workflow"
)

func newDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Archive.RetentionDays = 7
	mgr := workflow.NewManager(cfg, runstate.New(100), workflow.Deps{}, nil)
	d, err := daemon.New(cfg, mgr, archive.New(cfg, nil), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func TestDaemonStartStop(t *testing.T) {
	d := newDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status()
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.APIAddress == "" {
		t.Fatal("expected bound api address")
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	client := api.NewClient(d.Address(), "")
	report, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("status over api: %v", err)
	}
	if report.Status != runstate.StatusIdle {
		t.Fatalf("unexpected status %q", report.Status)
	}
	if len(report.Dependencies) == 0 {
		t.Fatal("expected dependency report")
	}

	d.Stop()
	if d.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
	if _, err := client.Status(ctx); err == nil {
		t.Fatal("expected api to be down after stop")
	}
}

func TestDaemonLockIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, err := daemon.New(cfg, workflow.NewManager(cfg, runstate.New(10), workflow.Deps{}, nil), nil, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	second, err := daemon.New(cfg, workflow.NewManager(cfg, runstate.New(10), workflow.Deps{}, nil), nil, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Stop()
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected lock contention error")
	}
}

func TestNewRequiresWorkflow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemon.New(cfg, nil, nil, nil); err == nil {
		t.Fatal("expected error without workflow manager")
	}
}
