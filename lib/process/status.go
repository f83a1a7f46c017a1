// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
	"syscall"
)

// ExitStatus describes how a helper ended.
type ExitStatus struct {
	// Code is the exit code, or -1 when the helper was killed by a
	// signal or could not be waited on.
	Code int

	// Signal is the terminating signal when Signaled is true.
	Signal syscall.Signal

	// Signaled reports whether a signal ended the helper.
	Signaled bool

	// Err is set when waiting itself failed, which leaves Code at -1.
	Err error
}

// statusFromState converts the result of exec.Cmd.Wait.
func statusFromState(state *os.ProcessState, waitError error) ExitStatus {
	if state == nil {
		return ExitStatus{Code: -1, Err: waitError}
	}
	status := ExitStatus{Code: state.ExitCode()}
	if waitStatus, ok := state.Sys().(syscall.WaitStatus); ok && waitStatus.Signaled() {
		status.Signaled = true
		status.Signal = waitStatus.Signal()
		status.Code = -1
	}
	return status
}

// Success reports whether the helper exited on its own with code 0.
func (s ExitStatus) Success() bool {
	return s.Err == nil && !s.Signaled && s.Code == 0
}

// ShellCode returns the conventional shell encoding: the exit code, or
// 128 + signal number.
func (s ExitStatus) ShellCode() int {
	if s.Signaled {
		return 128 + int(s.Signal)
	}
	return s.Code
}

func (s ExitStatus) String() string {
	switch {
	case s.Err != nil:
		return fmt.Sprintf("wait failed: %v", s.Err)
	case s.Signaled:
		return fmt.Sprintf("signal: %v", s.Signal)
	default:
		return fmt.Sprintf("exit status %d", s.Code)
	}
}
