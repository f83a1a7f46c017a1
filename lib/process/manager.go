// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"
)

// stderrWaitDelay bounds how long Wait keeps copying a helper's stderr
// after the helper exits, for when a grandchild still holds the pipe.
const stderrWaitDelay = time.Second

// Spec describes one helper invocation.
type Spec struct {
	// Path is the executable. A bare name is looked up on PATH.
	Path string

	// Args are passed after the executable name.
	Args []string

	// Dir is the working directory. Empty means the daemon's own.
	Dir string

	// Env entries ("KEY=value") are appended to the daemon's
	// environment. Later entries win.
	Env []string

	// Stderr receives the helper's standard error. Nil means the
	// Manager's default.
	Stderr io.Writer
}

// SpawnError reports that a helper could not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IsSpawnError reports whether err came from a failed spawn.
func IsSpawnError(err error) bool {
	var spawnError *SpawnError
	return errors.As(err, &spawnError)
}

// Manager starts helpers. The zero value is ready to use.
type Manager struct {
	// Stderr is where helper stderr goes when Spec.Stderr is nil.
	// Nil means the daemon's own stderr.
	Stderr io.Writer

	// Logger receives spawn and reap events. Nil disables them.
	Logger *slog.Logger
}

// Start launches the helper described by spec. The returned Child owns
// the parent ends of the stdin and stdout pipes; the child ends are
// closed here once the helper has them.
func (m *Manager) Start(spec Spec) (*Child, error) {
	if spec.Path == "" {
		return nil, &SpawnError{Path: spec.Path, Err: errors.New("empty executable path")}
	}

	stdinRead, stdinWrite, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Path: spec.Path, Err: fmt.Errorf("creating stdin pipe: %w", err)}
	}
	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		stdinRead.Close()
		stdinWrite.Close()
		return nil, &SpawnError{Path: spec.Path, Err: fmt.Errorf("creating stdout pipe: %w", err)}
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Stdin = stdinRead
	cmd.Stdout = stdoutWrite
	cmd.Stderr = m.stderrFor(spec)
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = stderrWaitDelay

	startError := startCommand(cmd)

	// The helper holds its own copies now (or never will).
	stdinRead.Close()
	stdoutWrite.Close()

	if startError != nil {
		stdinWrite.Close()
		stdoutRead.Close()
		return nil, &SpawnError{Path: spec.Path, Err: startError}
	}

	child := &Child{
		Pid:    cmd.Process.Pid,
		Path:   spec.Path,
		Stdin:  stdinWrite,
		Stdout: stdoutRead,
		cmd:    cmd,
		done:   make(chan struct{}),
	}
	if m.Logger != nil {
		m.Logger.Debug("helper started", "path", spec.Path, "pid", child.Pid)
	}
	go child.reap(m.Logger)
	return child, nil
}

func (m *Manager) stderrFor(spec Spec) io.Writer {
	if spec.Stderr != nil {
		return spec.Stderr
	}
	if m.Stderr != nil {
		return m.Stderr
	}
	return os.Stderr
}

// Child is a running (or finished) helper.
type Child struct {
	Pid  int
	Path string

	// Stdin is the write end of the helper's standard input. Closing it
	// delivers end-of-file to the helper.
	Stdin *os.File

	// Stdout is the read end of the helper's standard output.
	Stdout *os.File

	cmd    *exec.Cmd
	done   chan struct{}
	status ExitStatus
}

func (c *Child) reap(logger *slog.Logger) {
	waitError := c.cmd.Wait()
	var exitError *exec.ExitError
	if errors.As(waitError, &exitError) || errors.Is(waitError, exec.ErrWaitDelay) {
		waitError = nil
	}
	c.status = statusFromState(c.cmd.ProcessState, waitError)
	if logger != nil {
		logger.Debug("helper reaped", "path", c.Path, "pid", c.Pid, "status", c.status.String())
	}
	close(c.done)
}

// Done is closed once the helper has been reaped.
func (c *Child) Done() <-chan struct{} { return c.done }

// Exited reports whether the helper has been reaped.
func (c *Child) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the helper has been reaped and returns its status.
// It is safe to call from several goroutines and more than once.
func (c *Child) Wait() ExitStatus {
	<-c.done
	return c.status
}

// Signal delivers sig to the helper's process group. Signalling a
// reaped helper is a no-op.
func (c *Child) Signal(sig unix.Signal) error {
	if c.Exited() {
		return nil
	}
	err := unix.Kill(-c.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		// The group may already be gone while the leader is still
		// unreaped; fall back to the process itself.
		err = c.cmd.Process.Signal(sig)
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
	}
	return err
}

// Terminate sends SIGTERM.
func (c *Child) Terminate() error { return c.Signal(unix.SIGTERM) }

// Kill sends SIGKILL.
func (c *Child) Kill() error { return c.Signal(unix.SIGKILL) }

// Close releases the parent's pipe ends. It does not signal the helper.
func (c *Child) Close() {
	c.Stdin.Close()
	c.Stdout.Close()
}
