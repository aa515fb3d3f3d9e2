package daemonrun_test

import (
	"context"
	"os"
	"testing"

	"subflow/internal/daemonrun"
	"subflow/internal/testsupport"
)

func TestBuildWiresEveryCollaborator(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	built, err := daemonrun.Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer built.Close()

	d := built.Deps
	if d.Downloader == nil || d.Transcriber == nil || d.Splitter == nil || d.Translator == nil || d.Burner == nil || d.Archiver == nil {
		t.Fatalf("unwired collaborator in %#v", d)
	}
	if built.Archive == nil {
		t.Fatal("expected archive service")
	}
	if _, err := os.Stat(cfg.CallCachePath()); err != nil {
		t.Fatalf("expected call cache at %s: %v", cfg.CallCachePath(), err)
	}
	if d.Refiner != nil || d.Corrector != nil || d.Repairer != nil {
		t.Fatalf("optional passes should stay unwired by default: %#v", d)
	}
}

func TestBuildWiresEnabledOptionalPasses(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.MFA.Enabled = true
	cfg.Correction.Enabled = true
	cfg.EntityRepair.Enabled = true
	built, err := daemonrun.Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer built.Close()

	d := built.Deps
	if d.Refiner == nil || d.Corrector == nil || d.Repairer == nil {
		t.Fatalf("enabled pass left unwired in %#v", d)
	}
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := daemonrun.Run(ctx, cfg, daemonrun.Options{LogLevel: "error"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := daemonrun.Run(context.Background(), nil, daemonrun.Options{}); err == nil {
		t.Fatal("expected error for nil config")
	}
}
