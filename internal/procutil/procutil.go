// Package procutil runs external tools in their own process group so a
// cancelled run can take down the whole subprocess tree.
//
// Cancelling the context sends SIGTERM to the group; anything still alive
// after the grace period receives SIGKILL.
package procutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultGrace is used when a Command does not set its own grace period.
const DefaultGrace = 5 * time.Second

// outputTail bounds how much captured output is quoted in errors.
const outputTail = 2048

// Command describes one subprocess invocation.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Env   []string // appended to the daemon environment
	Stdin io.Reader
	// Stdout receives standard output when set; otherwise stdout is
	// captured together with stderr.
	Stdout io.Writer
	Grace  time.Duration
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// RunFunc executes a command and returns its captured output. Services
// hold one so tests can swap in a fake.
type RunFunc func(ctx context.Context, cmd Command) ([]byte, error)

// Run starts cmd in a new process group and waits for it. The returned
// output is stderr, plus stdout when Command.Stdout is nil. A cancelled
// context yields an error wrapping ctx.Err().
func Run(ctx context.Context, cmd Command) ([]byte, error) {
	if strings.TrimSpace(cmd.Name) == "" {
		return nil, errors.New("procutil: command name required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	proc := exec.Command(cmd.Name, cmd.Args...) //nolint:gosec
	proc.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		proc.Env = append(os.Environ(), cmd.Env...)
	}
	proc.Stdin = cmd.Stdin
	proc.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var captured bytes.Buffer
	proc.Stderr = &captured
	if cmd.Stdout != nil {
		proc.Stdout = cmd.Stdout
	} else {
		proc.Stdout = &captured
	}

	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Name, err)
	}

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return captured.Bytes(), fmt.Errorf("%s: %w: %s", cmd.Name, err, Tail(captured.Bytes()))
		}
		return captured.Bytes(), nil
	case <-ctx.Done():
	}

	grace := cmd.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	pgid := proc.Process.Pid
	_ = unix.Kill(-pgid, unix.SIGTERM)
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		_ = unix.Kill(-pgid, unix.SIGKILL)
		<-done
	}
	return captured.Bytes(), fmt.Errorf("%s interrupted: %w", cmd.Name, ctx.Err())
}

// Tail returns the trimmed end of captured output for error messages.
func Tail(output []byte) string {
	text := strings.TrimSpace(string(output))
	if len(text) > outputTail {
		text = "..." + text[len(text)-outputTail:]
	}
	return text
}

// Sleep waits for d or until ctx ends, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
