package deps

import (
	"os"
	"path/filepath"
	"testing"

	"subflow/internal/config"
	"subflow/internal/testsupport"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for unset command: %q", results[2].Detail)
	}
}

func TestRequirementsFollowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Whisper.FFmpegBinary = "/opt/ffmpeg-audio"
	cfg.Splitter.Command = []string{"spacy-split", "--json"}
	cfg.MFA.Enabled = true

	reqs := Requirements(&cfg)
	names := map[string]Requirement{}
	for _, req := range reqs {
		names[req.Name] = req
	}
	for _, want := range []string{"yt-dlp", "FFmpeg", "uvx", "FFmpeg (audio)", "FFprobe", "MFA", "Sentence splitter"} {
		if _, ok := names[want]; !ok {
			t.Fatalf("missing requirement %q in %#v", want, reqs)
		}
	}
	if !names["MFA"].Optional || names["MFA"].Command != "mfa" {
		t.Fatalf("unexpected mfa requirement %#v", names["MFA"])
	}
	if !names["Sentence splitter"].Optional || names["Sentence splitter"].Command != "spacy-split" {
		t.Fatalf("unexpected splitter requirement %#v", names["Sentence splitter"])
	}
}

func TestMissingSkipsOptional(t *testing.T) {
	missing := Missing([]Status{
		{Name: "a", Available: true},
		{Name: "b"},
		{Name: "c", Optional: true},
	})
	if len(missing) != 1 || missing[0].Name != "b" {
		t.Fatalf("unexpected missing %#v", missing)
	}
}

func TestDefaultRequirementsResolveOnPath(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())

	statuses := CheckBinaries(Requirements(cfg))
	if missing := Missing(statuses); len(missing) != 0 {
		t.Fatalf("expected stubbed binaries to resolve, missing %#v", missing)
	}
}
