// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package activation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopped is returned by Accept once Stop has been called.
var ErrStopped = errors.New("activation: listener set stopped")

// MissingSocketError reports configured targets that have no inherited
// socket. It is a startup error: serving some targets and not others
// would fail silently for the missing ones.
type MissingSocketError struct {
	Names []string
}

func (e *MissingSocketError) Error() string {
	return fmt.Sprintf("no inherited socket for target(s) %s; check ListenStream= and FileDescriptorName= in the socket unit(s)",
		strings.Join(e.Names, ", "))
}

// UnknownTargetError is returned by Accept for a name the Set does not
// hold.
type UnknownTargetError struct {
	Name string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("activation: no socket named %q", e.Name)
}

// Set is a fixed collection of named listening sockets. Names map to
// exactly one socket for the lifetime of the Set.
type Set struct {
	targets map[string]*target
	stopped atomic.Bool
}

type target struct {
	name     string
	listener *net.UnixListener

	// file is the inherited handle. Held so its finalizer never closes
	// the descriptor out from under the service manager.
	file *os.File

	// accepting serializes Accept per target: one socket is never
	// accepted from by two goroutines at once.
	accepting sync.Mutex
}

// FromListeners builds a Set from already-open Unix listeners.
func FromListeners(listeners map[string]*net.UnixListener) (*Set, error) {
	set := &Set{targets: make(map[string]*target, len(listeners))}
	for name, listener := range listeners {
		if name == "" {
			return nil, fmt.Errorf("activation: empty socket name")
		}
		if listener == nil {
			return nil, fmt.Errorf("activation: nil listener for %q", name)
		}
		// A stray Close must not remove a path the service manager owns.
		listener.SetUnlinkOnClose(false)
		set.targets[name] = &target{name: name, listener: listener}
	}
	return set, nil
}

// NewSet builds a Set from inherited socket handles. Each file must
// refer to a listening Unix stream socket.
func NewSet(files map[string]*os.File) (*Set, error) {
	set := &Set{targets: make(map[string]*target, len(files))}
	for name, file := range files {
		if name == "" {
			return nil, fmt.Errorf("activation: empty socket name for %s", file.Name())
		}
		generic, err := net.FileListener(file)
		if err != nil {
			return nil, fmt.Errorf("activation: socket %q: %w", name, err)
		}
		listener, ok := generic.(*net.UnixListener)
		if !ok {
			return nil, fmt.Errorf("activation: socket %q is %T, want a Unix stream socket", name, generic)
		}
		listener.SetUnlinkOnClose(false)
		set.targets[name] = &target{name: name, listener: listener, file: file}
	}
	return set, nil
}

// Names returns the target names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.targets))
	for name := range s.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of sockets in the Set.
func (s *Set) Len() int { return len(s.targets) }

// Addr returns the local address of the named socket, or nil.
func (s *Set) Addr(name string) net.Addr {
	if target, ok := s.targets[name]; ok {
		return target.listener.Addr()
	}
	return nil
}

// Require checks that every configured name has a socket. Returns a
// *MissingSocketError listing all absent names.
func (s *Set) Require(names []string) error {
	var missing []string
	for _, name := range names {
		if _, ok := s.targets[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &MissingSocketError{Names: missing}
	}
	return nil
}

// Unused returns socket names not present in names, sorted. The daemon
// logs these; an inherited socket without configuration is not fatal.
func (s *Set) Unused(names []string) []string {
	configured := make(map[string]bool, len(names))
	for _, name := range names {
		configured[name] = true
	}
	var unused []string
	for name := range s.targets {
		if !configured[name] {
			unused = append(unused, name)
		}
	}
	sort.Strings(unused)
	return unused
}

// Accept blocks until a client connects to the named socket, ctx is
// cancelled, or Stop is called. Returns ErrStopped after Stop and
// ctx.Err() after cancellation. Any other error is an OS accept failure
// the caller should log and retry; the socket remains usable.
func (s *Set) Accept(ctx context.Context, name string) (*net.UnixConn, error) {
	target, ok := s.targets[name]
	if !ok {
		return nil, &UnknownTargetError{Name: name}
	}

	target.accepting.Lock()
	defer target.accepting.Unlock()

	if err := target.listener.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("activation: clearing deadline on %q: %w", name, err)
	}
	// Checked after clearing the deadline: Stop sets the flag before it
	// sets the deadline, so one of the two always wins.
	if s.stopped.Load() {
		return nil, ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	interrupt := context.AfterFunc(ctx, func() {
		target.listener.SetDeadline(time.Now())
	})
	defer interrupt()

	connection, err := target.listener.AcceptUnix()
	if err != nil {
		if s.stopped.Load() {
			return nil, ErrStopped
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("accepting on %q: %w", name, err)
	}
	return connection, nil
}

// Stop makes every pending and future Accept return ErrStopped. The
// sockets stay open and listening. Stop is idempotent.
func (s *Set) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	now := time.Now()
	for _, target := range s.targets {
		target.listener.SetDeadline(now)
	}
}
