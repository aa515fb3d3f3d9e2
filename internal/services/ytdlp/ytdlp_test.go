package ytdlp_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"subflow/internal/config"
	"subflow/internal/procutil"
	"subflow/internal/services"
	"subflow/internal/services/ytdlp"
)

type fakeYtDlp struct {
	title    string
	failures int
	calls    [][]string
}

func (f *fakeYtDlp) run(_ context.Context, cmd procutil.Command) ([]byte, error) {
	f.calls = append(f.calls, cmd.Args)
	if slices.Contains(cmd.Args, "--print") {
		_, _ = io.WriteString(cmd.Stdout, f.title+"\n")
		return nil, nil
	}
	if f.failures > 0 {
		f.failures--
		return []byte("HTTP Error 503"), errors.New("yt-dlp: exit status 1: HTTP Error 503")
	}
	idx := slices.Index(cmd.Args, "-o")
	template := cmd.Args[idx+1]
	target := strings.Replace(template, "%(ext)s", "mp4", 1)
	if err := os.WriteFile(strings.Replace(template, "%(ext)s", "mp4.part", 1), []byte("p"), 0o644); err != nil {
		return nil, err
	}
	return nil, os.WriteFile(target, []byte("video"), 0o644)
}

func newService(t *testing.T, cfg config.Download, fake *fakeYtDlp) (*ytdlp.Service, *[]time.Duration) {
	t.Helper()
	svc := ytdlp.New(cfg, nil)
	svc.WithRunner(fake.run)
	var delays []time.Duration
	svc.WithSleeper(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	})
	return svc, &delays
}

func TestDownloadUsesSanitizedTitleAndFormat(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default().Download
	cfg.Proxy = "http://127.0.0.1:7890"
	cfg.CookiesPath = "/tmp/cookies.txt"
	fake := &fakeYtDlp{title: `Talk: "Go" <live>?`}
	svc, _ := newService(t, cfg, fake)

	path, err := svc.Download(context.Background(), "https://example.com/watch?v=1", ytdlp.QualityLow, dir)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if want := filepath.Join(dir, "Talk Go live_low.mp4"); path != want {
		t.Fatalf("path = %q, want %q", path, want)
	}
	args := strings.Join(fake.calls[len(fake.calls)-1], " ")
	for _, want := range []string{"-f " + cfg.LowFormat, "--proxy http://127.0.0.1:7890", "--cookies /tmp/cookies.txt"} {
		if !strings.Contains(args, want) {
			t.Fatalf("args %q missing %q", args, want)
		}
	}
}

func TestDownloadRetriesWithLinearBackoff(t *testing.T) {
	cfg := config.Default().Download
	cfg.Retries = 2
	cfg.RetryDelaySeconds = 2
	fake := &fakeYtDlp{title: "clip", failures: 2}
	svc, delays := newService(t, cfg, fake)

	path, err := svc.Download(context.Background(), "https://example.com/v", ytdlp.QualityBest, t.TempDir())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if filepath.Base(path) != "clip_best.mp4" {
		t.Fatalf("unexpected path %q", path)
	}
	if fmt.Sprint(*delays) != "[2s 4s]" {
		t.Fatalf("delays = %v", *delays)
	}
}

func TestDownloadGivesUpAfterRetries(t *testing.T) {
	cfg := config.Default().Download
	cfg.Retries = 1
	fake := &fakeYtDlp{title: "clip", failures: 5}
	svc, _ := newService(t, cfg, fake)

	_, err := svc.Download(context.Background(), "https://example.com/v", ytdlp.QualityBest, t.TempDir())
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "after 2 attempts") {
		t.Fatalf("unexpected error text %v", err)
	}
}

func TestDownloadRejectsEmptySource(t *testing.T) {
	svc, _ := newService(t, config.Default().Download, &fakeYtDlp{})
	if _, err := svc.Download(context.Background(), "  ", ytdlp.QualityLow, t.TempDir()); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIsPartial(t *testing.T) {
	for name, want := range map[string]bool{
		"a_low.mp4":      false,
		"a_low.mp4.part": true,
		"a_low.mp4.ytdl": true,
		"partial.mkv":    false,
	} {
		if got := ytdlp.IsPartial(name); got != want {
			t.Errorf("IsPartial(%q) = %v", name, got)
		}
	}
}
