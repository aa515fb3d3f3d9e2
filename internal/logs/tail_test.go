package logs_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"subflow/internal/logs"
)

type collector struct {
	mu    sync.Mutex
	lines []string
}

func (c *collector) add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestTailLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subflow.log")
	if err := os.WriteFile(path, []byte("a\nb\nc\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	var got collector
	if err := logs.Tail(context.Background(), path, logs.TailOptions{Lines: 2}, got.add); err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	lines := got.snapshot()
	if len(lines) != 2 || lines[0] != "b" || lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", lines)
	}
}

func TestTailMissingFile(t *testing.T) {
	var got collector
	if err := logs.Tail(context.Background(), filepath.Join(t.TempDir(), "none.log"), logs.TailOptions{Lines: 5}, got.add); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(got.snapshot()) != 0 {
		t.Fatal("expected no lines")
	}
}

func TestTailFollowPicksUpAppendsAndTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subflow.log")
	if err := os.WriteFile(path, []byte("start\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got collector
	done := make(chan error, 1)
	go func() {
		done <- logs.Tail(ctx, path, logs.TailOptions{Lines: 1, Follow: true, Poll: 20 * time.Millisecond}, got.add)
	}()

	waitLines := func(n int) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for len(got.snapshot()) < n {
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for %d lines, have %#v", n, got.snapshot())
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	waitLines(1)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString("later\n"); err != nil {
		t.Fatalf("append log: %v", err)
	}
	_ = f.Close()
	waitLines(2)

	if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
		t.Fatalf("truncate log: %v", err)
	}
	waitLines(3)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("tail: %v", err)
	}
	lines := got.snapshot()
	if lines[0] != "start" || lines[1] != "later" || lines[2] != "x" {
		t.Fatalf("unexpected lines %#v", lines)
	}
}

func TestIsAPIUnavailable(t *testing.T) {
	if logs.IsAPIUnavailable(nil) || logs.IsAPIUnavailable(errors.New("boom")) {
		t.Fatal("plain errors are not unavailability")
	}
	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	if !logs.IsAPIUnavailable(opErr) {
		t.Fatal("dial errors mean the API is unavailable")
	}
}
