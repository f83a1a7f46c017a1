// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"io"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/bureau-foundation/nmproxy/lib/testutil"
)

func TestHelperOutlivesStartingThread(t *testing.T) {
	script := testutil.WriteScript(t, "sleeper", "echo ready\nwhile :; do sleep 1; done")

	// The goroutine exits while locked, so the runtime retires its
	// thread.
	var manager Manager
	started := make(chan *Child, 1)
	go func() {
		runtime.LockOSThread()
		child, err := manager.Start(Spec{Path: script})
		if err != nil {
			t.Errorf("Start: %v", err)
			close(started)
			return
		}
		started <- child
	}()
	child, ok := <-started
	if !ok {
		t.FailNow()
	}
	defer child.Close()

	ready := make([]byte, len("ready\n"))
	if _, err := io.ReadFull(child.Stdout, ready); err != nil {
		t.Fatalf("reading readiness line: %v", err)
	}
	select {
	case <-child.Done():
		t.Fatalf("helper exited with %+v after the starting thread ended", child.Wait())
	case <-time.After(200 * time.Millisecond):
	}

	if err := child.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if status := waitStatus(t, child); status.Signal != syscall.SIGKILL {
		t.Errorf("status = %+v, want SIGKILL", status)
	}
}
