package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"subflow/internal/api"
	"subflow/internal/config"
	"subflow/internal/runstate"
	"subflow/internal/testsupport"
	"subflow/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	state      *runstate.State
	configPath string
	apiURL     string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	content := fmt.Sprintf(`[paths]
work_dir = %q
upload_dir = %q
archive_dir = %q
cache_dir = %q
log_dir = %q
api_bind = "127.0.0.1:0"
`, cfg.Paths.WorkDir, cfg.Paths.UploadDir, cfg.Paths.ArchiveDir, cfg.Paths.CacheDir, cfg.Paths.LogDir)
	testsupport.WriteText(t, configPath, content)

	state := runstate.New(100)
	mgr := workflow.NewManager(cfg, state, workflow.Deps{}, nil)
	ts := httptest.NewServer(api.NewServer(cfg, mgr, nil).Handler())
	t.Cleanup(ts.Close)

	return &cliTestEnv{cfg: cfg, state: state, configPath: configPath, apiURL: ts.URL}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.configPath, "--api", e.apiURL}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatusCommandRendersStages(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	for _, want := range []string{"== Workflow ==", "idle", runstate.StageDownloadLow, runstate.StageBurn} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "status", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	if !strings.Contains(out, `"status": "idle"`) {
		t.Fatalf("unexpected json output:\n%s", out)
	}
}

func TestResetAndLogs(t *testing.T) {
	env := setupCLITestEnv(t)
	env.state.AppendLog("hello from the daemon")

	out, err := env.run(t, "reset")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if strings.TrimSpace(out) != "reset" {
		t.Fatalf("unexpected reset output %q", out)
	}

	out, err = env.run(t, "logs")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if !strings.Contains(out, "hello from the daemon") || !strings.Contains(out, "System reset.") {
		t.Fatalf("unexpected logs output:\n%s", out)
	}

	out, err = env.run(t, "logs", "--since", "1")
	if err != nil {
		t.Fatalf("logs --since: %v", err)
	}
	if strings.Contains(out, "hello from the daemon") {
		t.Fatalf("since cursor ignored:\n%s", out)
	}
}

func TestContinueWithNothingToResume(t *testing.T) {
	env := setupCLITestEnv(t)
	_, err := env.run(t, "continue")
	if err == nil {
		t.Fatal("expected continue without a video to fail")
	}
}

func TestFilesAndDownload(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "files")
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if !strings.Contains(out, "Workspace is empty") {
		t.Fatalf("unexpected empty listing %q", out)
	}

	testsupport.WriteText(t, filepath.Join(env.cfg.Paths.WorkDir, "trans.srt"), "1\n")
	out, err = env.run(t, "files")
	if err != nil || !strings.Contains(out, "trans.srt") {
		t.Fatalf("files: %v\n%s", err, out)
	}

	dest := t.TempDir()
	if _, err := env.run(t, "download", "trans.srt", "-o", dest); err != nil {
		t.Fatalf("download: %v", err)
	}
	if got := testsupport.ReadText(t, filepath.Join(dest, "trans.srt")); got != "1\n" {
		t.Fatalf("downloaded content %q", got)
	}
	if _, err := env.run(t, "download", "missing.srt", "-o", dest); err == nil {
		t.Fatal("expected missing download to fail")
	}
	if _, err := os.Stat(filepath.Join(dest, "missing.srt")); !os.IsNotExist(err) {
		t.Fatal("failed download should not leave a file behind")
	}
}

func TestUploadVideo(t *testing.T) {
	env := setupCLITestEnv(t)
	src := filepath.Join(t.TempDir(), "talk.mp4")
	testsupport.WriteText(t, src, "video")
	out, err := env.run(t, "upload-video", src)
	if err != nil {
		t.Fatalf("upload-video: %v", err)
	}
	if !strings.Contains(out, "talk.mp4") {
		t.Fatalf("unexpected output %q", out)
	}
	if got := testsupport.ReadText(t, filepath.Join(env.cfg.Paths.UploadDir, "talk.mp4")); got != "video" {
		t.Fatalf("stored upload %q", got)
	}
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "subflow", "config.toml")
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config not written: %v", err)
	}

	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected refusal to overwrite existing config")
	}
}

func TestHumanSize(t *testing.T) {
	cases := map[int64]string{
		12:      "12 B",
		2048:    "2.0 KiB",
		5 << 20: "5.0 MiB",
	}
	for in, want := range cases {
		if got := humanSize(in); got != want {
			t.Fatalf("humanSize(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestPreflightReportsMissingKey(t *testing.T) {
	t.Setenv("SUBFLOW_LLM_API_KEY", "")
	env := setupCLITestEnv(t)
	out, err := env.run(t, "preflight")
	if err == nil {
		t.Fatalf("expected preflight failure, got output:\n%s", out)
	}
	for _, want := range []string{"Work directory", "read/write ok", "API key missing"} {
		if !strings.Contains(out, want) {
			t.Fatalf("preflight output missing %q:\n%s", want, out)
		}
	}
}

func TestNotifyTestRequiresTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "test-notify"); err == nil || !strings.Contains(err.Error(), "ntfy_topic") {
		t.Fatalf("expected missing topic error, got %v", err)
	}
}

func TestDaemonStartWhenAPIAnswers(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "daemon", "start", "--daemon-bin", "/nonexistent/subflowd")
	if err != nil {
		t.Fatalf("daemon start: %v", err)
	}
	if !strings.Contains(out, "already running") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestDaemonStopWithoutPIDFile(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "daemon", "stop")
	if err != nil {
		t.Fatalf("daemon stop: %v", err)
	}
	if !strings.Contains(out, "not running") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestLogsFromFile(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteText(t, env.cfg.LogFilePath(), "one\ntwo\nthree\n")
	out, err := env.run(t, "logs", "--file", "-n", "2")
	if err != nil {
		t.Fatalf("logs --file: %v", err)
	}
	if strings.Contains(out, "one") || !strings.Contains(out, "two\nthree") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
