// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/nmproxy/lib/activation"
	"github.com/bureau-foundation/nmproxy/lib/clock"
	"github.com/bureau-foundation/nmproxy/lib/handshake"
	"github.com/bureau-foundation/nmproxy/lib/process"
	"github.com/bureau-foundation/nmproxy/lib/resolve"
	"github.com/bureau-foundation/nmproxy/lib/testutil"
	"github.com/bureau-foundation/nmproxy/relay"
)

// listenerSet creates one listening socket per target and returns the
// set plus each socket's path.
func listenerSet(t *testing.T, targets ...string) (*activation.Set, map[string]string) {
	t.Helper()
	directory := testutil.SocketDir(t)
	listeners := make(map[string]*net.UnixListener)
	paths := make(map[string]string)
	for _, target := range targets {
		path := filepath.Join(directory, activation.SocketPrefix+target+activation.SocketSuffix)
		listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { listener.Close() })
		listeners[target] = listener
		paths[target] = path
	}
	set, err := activation.FromListeners(listeners)
	if err != nil {
		t.Fatal(err)
	}
	return set, paths
}

func dial(t *testing.T, path string) *net.UnixConn {
	t.Helper()
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("dialing %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// recordingServer records sessions and holds each one until release is
// closed or the kill context ends.
type recordingServer struct {
	mu       sync.Mutex
	sessions []relay.Session
	started  chan relay.Session
	release  chan struct{}
	killed   atomic.Int32
}

func newRecordingServer() *recordingServer {
	return &recordingServer{
		started: make(chan relay.Session, 16),
		release: make(chan struct{}),
	}
}

func (r *recordingServer) Serve(ctx, killCtx context.Context, session relay.Session) relay.Result {
	r.mu.Lock()
	r.sessions = append(r.sessions, session)
	r.mu.Unlock()
	r.started <- session
	defer session.Conn.Close()
	select {
	case <-r.release:
	case <-killCtx.Done():
		r.killed.Add(1)
	}
	return relay.Result{SessionID: session.ID, Target: session.Target, State: relay.StateDone}
}

type runResult struct {
	err error
}

// startSupervisor runs supervisor until the test ends. The returned
// channel delivers Run's result once; cleanup waits on a separate exit
// signal so tests may drain the result themselves.
func startSupervisor(t *testing.T, supervisor *Supervisor) (context.CancelFunc, <-chan runResult) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan runResult, 1)
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		done <- runResult{err: supervisor.Run(ctx)}
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-exited:
		case <-time.After(testutil.Timeout):
			t.Error("supervisor did not exit during cleanup")
		}
	})
	return cancel, done
}

func TestStartSupervisorCleanupAfterResultDrained(t *testing.T) {
	var elapsed time.Duration
	t.Run("drained", func(t *testing.T) {
		var bodyDone time.Time
		// Registered first, so it runs after every other cleanup.
		t.Cleanup(func() { elapsed = time.Since(bodyDone) })

		set, _ := listenerSet(t, "firefox")
		cancel, done := startSupervisor(t, &Supervisor{Listeners: set, Sessions: newRecordingServer(), ShutdownGrace: time.Second})
		cancel()
		testutil.RequireReceive(t, done, testutil.Timeout, "Run did not return")
		bodyDone = time.Now()
	})
	if elapsed >= testutil.Timeout/2 {
		t.Errorf("cleanup took %v after the result was drained", elapsed)
	}
}

func TestRunServesEveryTarget(t *testing.T) {
	set, paths := listenerSet(t, "firefox", "chromium")
	server := newRecordingServer()
	close(server.release)
	cancel, done := startSupervisor(t, &Supervisor{Listeners: set, Sessions: server, ShutdownGrace: time.Second})

	dial(t, paths["firefox"])
	dial(t, paths["chromium"])
	seen := map[string]bool{}
	for range 2 {
		session := testutil.RequireReceive(t, server.started, testutil.Timeout, "session not started")
		seen[session.Target] = true
	}
	if !seen["firefox"] || !seen["chromium"] {
		t.Errorf("targets served = %v, want both", seen)
	}

	cancel()
	if result := testutil.RequireReceive(t, done, testutil.Timeout, "Run did not return"); result.err != nil {
		t.Errorf("Run = %v, want nil after shutdown", result.err)
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	set, paths := listenerSet(t, "firefox", "chromium")
	server := newRecordingServer()
	close(server.release)
	startSupervisor(t, &Supervisor{Listeners: set, Sessions: server, ShutdownGrace: time.Second})

	const connections = 6
	for i := range connections {
		if i%2 == 0 {
			dial(t, paths["firefox"])
		} else {
			dial(t, paths["chromium"])
		}
	}
	ids := map[uint64]bool{}
	for range connections {
		session := testutil.RequireReceive(t, server.started, testutil.Timeout, "session not started")
		if ids[session.ID] {
			t.Errorf("session ID %d issued twice", session.ID)
		}
		ids[session.ID] = true
	}
	for id := range ids {
		if id == 0 || id > connections {
			t.Errorf("session ID %d outside 1..%d", id, connections)
		}
	}
}

func TestShutdownWaitsForSessionsAndKeepsSockets(t *testing.T) {
	set, paths := listenerSet(t, "firefox", "chromium")
	script := testutil.WriteScript(t, "echo-host", "exec cat")
	table := resolve.NewTable()
	table.Add("firefox", "echo", resolve.Entry{Spec: process.Spec{Path: script}})
	table.Add("chromium", "echo", resolve.Entry{Spec: process.Spec{Path: script}})
	handler := &relay.Handler{
		Resolver: table,
		Spawner:  &process.Manager{},
		Options:  relay.DefaultOptions(),
	}
	supervisor := &Supervisor{Listeners: set, Sessions: handler, ShutdownGrace: testutil.Timeout}
	cancel, done := startSupervisor(t, supervisor)

	clients := []*net.UnixConn{dial(t, paths["firefox"]), dial(t, paths["chromium"])}
	for _, client := range clients {
		handshake.Write(client, handshake.Request{Identifier: "echo"})
		client.Write([]byte("mid"))
		reply := make([]byte, 3)
		client.SetReadDeadline(time.Now().Add(testutil.Timeout))
		if _, err := io.ReadFull(client, reply); err != nil {
			t.Fatalf("session not relaying: %v", err)
		}
	}

	cancel()
	select {
	case <-done:
		t.Fatal("Run returned while sessions were still relaying")
	case <-time.After(100 * time.Millisecond):
	}

	// Both sessions finish normally during the grace period.
	for _, client := range clients {
		client.Write([]byte("end"))
		client.CloseWrite()
		client.SetReadDeadline(time.Now().Add(testutil.Timeout))
		rest, err := io.ReadAll(client)
		if err != nil || string(rest) != "end" {
			t.Errorf("tail = %q, %v; want end", rest, err)
		}
	}
	if result := testutil.RequireReceive(t, done, testutil.Timeout, "Run did not return"); result.err != nil {
		t.Errorf("Run = %v", result.err)
	}
	if supervisor.InFlight() != 0 {
		t.Errorf("InFlight() = %d after shutdown", supervisor.InFlight())
	}

	// The sockets still exist and still listen.
	for target, path := range paths {
		conn, err := net.Dial("unix", path)
		if err != nil {
			t.Errorf("socket for %s closed by shutdown: %v", target, err)
			continue
		}
		conn.Close()
	}
}

func TestShutdownGraceKillsStragglers(t *testing.T) {
	set, paths := listenerSet(t, "firefox")
	server := newRecordingServer()
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	cancel, done := startSupervisor(t, &Supervisor{
		Listeners:     set,
		Sessions:      server,
		ShutdownGrace: 10 * time.Second,
		Clock:         fake,
		Logger:        slog.New(slog.DiscardHandler),
	})

	dial(t, paths["firefox"])
	testutil.RequireReceive(t, server.started, testutil.Timeout, "session not started")

	cancel()
	waited := make(chan struct{})
	go func() {
		fake.WaitForTimers(1)
		close(waited)
	}()
	testutil.RequireClosed(t, waited, testutil.Timeout, "grace timer never armed")
	if server.killed.Load() != 0 {
		t.Fatal("session killed before the grace period ended")
	}

	fake.Advance(10 * time.Second)
	testutil.RequireReceive(t, done, testutil.Timeout, "Run did not return after the grace period")
	if server.killed.Load() != 1 {
		t.Errorf("killed = %d, want 1", server.killed.Load())
	}
}

func TestRunWithoutTargets(t *testing.T) {
	set, err := activation.FromListeners(nil)
	if err != nil {
		t.Fatal(err)
	}
	supervisor := &Supervisor{Listeners: set, Sessions: newRecordingServer()}
	if err := supervisor.Run(context.Background()); err == nil {
		t.Error("Run with no targets succeeded")
	}
}

// flakyListeners fails a fixed number of accepts, then blocks.
type flakyListeners struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakyListeners) Names() []string { return []string{"firefox"} }

func (f *flakyListeners) Accept(ctx context.Context, name string) (*net.UnixConn, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("accept: too many open files")
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAcceptErrorsBackOff(t *testing.T) {
	listeners := &flakyListeners{failures: 3}
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	startSupervisor(t, &Supervisor{
		Listeners:     listeners,
		Sessions:      newRecordingServer(),
		ShutdownGrace: time.Second,
		Clock:         fake,
	})

	for attempt, delay := range []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond} {
		waited := make(chan struct{})
		go func() {
			fake.WaitForTimers(1)
			close(waited)
		}()
		testutil.RequireClosed(t, waited, testutil.Timeout, "no back-off timer after failure %d", attempt+1)
		if got := listeners.calls.Load(); got != int32(attempt+1) {
			t.Fatalf("accept calls = %d before back-off %d, want %d", got, attempt+1, attempt+1)
		}
		// Advancing by less than the delay must not retry.
		fake.Advance(delay - time.Millisecond)
		if got := listeners.calls.Load(); got != int32(attempt+1) {
			t.Fatalf("accept retried before its %s back-off elapsed", delay)
		}
		fake.Advance(time.Millisecond)
	}

	deadline := time.Now().Add(testutil.Timeout)
	for listeners.calls.Load() < 4 {
		if time.Now().After(deadline) {
			t.Fatal("accept loop stopped retrying")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNextBackoff(t *testing.T) {
	var delay time.Duration
	var sequence []time.Duration
	for range 10 {
		delay = nextBackoff(delay)
		sequence = append(sequence, delay)
	}
	want := []time.Duration{
		5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond,
		80 * time.Millisecond, 160 * time.Millisecond, 320 * time.Millisecond, 640 * time.Millisecond,
		time.Second, time.Second,
	}
	for i := range want {
		if sequence[i] != want[i] {
			t.Errorf("back-off %d = %s, want %s", i, sequence[i], want[i])
		}
	}
}
