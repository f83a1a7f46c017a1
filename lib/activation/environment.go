// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package activation

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ListenFDsStart is the first inherited descriptor number.
const ListenFDsStart = 3

// Environment variable names of the socket-activation convention.
const (
	envListenPID     = "LISTEN_PID"
	envListenFDs     = "LISTEN_FDS"
	envListenFDNames = "LISTEN_FDNAMES"
)

// ErrNotActivated is returned by FromEnvironment when the process was
// not started with inherited sockets.
var ErrNotActivated = errors.New("activation: no inherited sockets (the daemon must be started as a socket-activated service)")

// FromEnvironment builds a Set from descriptors inherited through
// LISTEN_PID, LISTEN_FDS and LISTEN_FDNAMES. When unsetEnvironment is
// true the variables are removed afterwards so helper processes do not
// see them.
func FromEnvironment(unsetEnvironment bool) (*Set, error) {
	files, err := inheritedFiles(os.LookupEnv, os.Getpid(), ListenFDsStart)
	if unsetEnvironment {
		os.Unsetenv(envListenPID)
		os.Unsetenv(envListenFDs)
		os.Unsetenv(envListenFDNames)
	}
	if err != nil {
		return nil, err
	}
	return NewSet(files)
}

// inheritedFiles validates the inherited descriptors and wraps each in
// an *os.File keyed by target name. lookup and pid are parameters so
// tests can supply their own environment and descriptor range.
func inheritedFiles(lookup func(string) (string, bool), pid int, start int) (map[string]*os.File, error) {
	pidValue, ok := lookup(envListenPID)
	if !ok {
		return nil, ErrNotActivated
	}
	listenPID, err := strconv.Atoi(pidValue)
	if err != nil {
		return nil, fmt.Errorf("activation: parsing %s=%q: %w", envListenPID, pidValue, err)
	}
	if listenPID != pid {
		return nil, fmt.Errorf("activation: %s=%d is not this process (%d)", envListenPID, listenPID, pid)
	}

	countValue, _ := lookup(envListenFDs)
	count, err := strconv.Atoi(countValue)
	if err != nil {
		return nil, fmt.Errorf("activation: parsing %s=%q: %w", envListenFDs, countValue, err)
	}
	if count <= 0 {
		return nil, ErrNotActivated
	}

	namesValue, _ := lookup(envListenFDNames)
	var names []string
	if namesValue != "" {
		names = strings.Split(namesValue, ":")
	}
	if len(names) != count {
		return nil, fmt.Errorf("activation: %s lists %d name(s) for %d descriptor(s); every socket needs a FileDescriptorName=",
			envListenFDNames, len(names), count)
	}

	files := make(map[string]*os.File, count)
	for index := 0; index < count; index++ {
		descriptor := start + index
		name := TargetName(names[index])
		if name == "" {
			return nil, fmt.Errorf("activation: descriptor %d has an empty name", descriptor)
		}
		if _, duplicate := files[name]; duplicate {
			return nil, fmt.Errorf("activation: descriptor name %q is used more than once", name)
		}
		if err := probeListeningSocket(descriptor); err != nil {
			return nil, fmt.Errorf("activation: descriptor %d (%s): %w", descriptor, name, err)
		}
		// Helpers must never inherit the listening sockets.
		unix.CloseOnExec(descriptor)
		files[name] = os.NewFile(uintptr(descriptor), "LISTEN_FD_"+name)
	}
	return files, nil
}

// probeListeningSocket checks that descriptor is a Unix stream socket in
// the listening state.
func probeListeningSocket(descriptor int) error {
	socketType, err := unix.GetsockoptInt(descriptor, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return fmt.Errorf("not a socket: %w", err)
	}
	if socketType != unix.SOCK_STREAM {
		return fmt.Errorf("socket type %d, want SOCK_STREAM", socketType)
	}
	domain, err := unix.GetsockoptInt(descriptor, unix.SOL_SOCKET, unix.SO_DOMAIN)
	if err != nil {
		return fmt.Errorf("reading socket domain: %w", err)
	}
	if domain != unix.AF_UNIX {
		return fmt.Errorf("socket domain %d, want AF_UNIX", domain)
	}
	listening, err := unix.GetsockoptInt(descriptor, unix.SOL_SOCKET, unix.SO_ACCEPTCONN)
	if err != nil {
		return fmt.Errorf("reading listen state: %w", err)
	}
	if listening != 1 {
		return fmt.Errorf("socket is not listening")
	}
	return nil
}
