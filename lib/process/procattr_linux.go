// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"os/exec"
	"runtime"
	"sync"
	"syscall"
)

// sysProcAttr puts the helper in its own process group. Pdeathsig makes
// the kernel send SIGTERM to the helper when the OS thread that forked
// it exits, so helpers are only forked from forkThread.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}

var (
	forkOnce  sync.Once
	forkQueue chan func()
)

// forkThread is a goroutine locked to its OS thread for the life of the
// process. That thread exits only with the daemon, which is when
// Pdeathsig should fire.
func forkThread() {
	runtime.LockOSThread()
	for job := range forkQueue {
		job()
	}
}

// startCommand runs cmd.Start on forkThread.
func startCommand(cmd *exec.Cmd) error {
	forkOnce.Do(func() {
		forkQueue = make(chan func())
		go forkThread()
	})
	result := make(chan error, 1)
	forkQueue <- func() { result <- cmd.Start() }
	return <-result
}
