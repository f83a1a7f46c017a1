// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package activation

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

// placeDescriptors duplicates each listener's socket onto consecutive
// descriptors starting at start, mimicking what the service manager
// does at 3, 4, 5, ... The caller owns the placed descriptors.
func placeDescriptors(t *testing.T, start int, listeners ...*net.UnixListener) {
	t.Helper()
	for index, listener := range listeners {
		file, err := listener.File()
		if err != nil {
			t.Fatalf("File: %v", err)
		}
		target := start + index
		if err := unix.Dup3(int(file.Fd()), target, 0); err != nil {
			t.Fatalf("Dup3 onto %d: %v", target, err)
		}
		file.Close()
	}
}

func environment(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestInheritedFiles(t *testing.T) {
	const start = 240
	firefox := listen(t, "firefox")
	chromium := listen(t, "chromium")
	placeDescriptors(t, start, firefox, chromium)

	pid := os.Getpid()
	files, err := inheritedFiles(environment(map[string]string{
		"LISTEN_PID":     strconv.Itoa(pid),
		"LISTEN_FDS":     "2",
		"LISTEN_FDNAMES": "nm-proxy-firefox.socket:chromium",
	}), pid, start)
	if err != nil {
		t.Fatalf("inheritedFiles: %v", err)
	}
	t.Cleanup(func() {
		for _, file := range files {
			file.Close()
		}
	})

	set, err := NewSet(files)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	if err := set.Require([]string{"firefox", "chromium"}); err != nil {
		t.Fatalf("Require: %v", err)
	}

	flags, err := unix.FcntlInt(uintptr(start), unix.F_GETFD, 0)
	if err != nil {
		t.Fatalf("F_GETFD: %v", err)
	}
	if flags&unix.FD_CLOEXEC == 0 {
		t.Error("inherited descriptor is not close-on-exec; helpers would inherit it")
	}

	go func() {
		connection, dialError := net.Dial("unix", firefox.Addr().String())
		if dialError == nil {
			connection.Close()
		}
	}()
	connection, err := set.Accept(context.Background(), "firefox")
	if err != nil {
		t.Fatalf("Accept on inherited socket: %v", err)
	}
	connection.Close()
}

func TestInheritedFilesErrors(t *testing.T) {
	const start = 250
	placeDescriptors(t, start, listen(t, "one"))
	t.Cleanup(func() { unix.Close(start) })

	pid := os.Getpid()
	self := strconv.Itoa(pid)
	tests := []struct {
		name    string
		env     map[string]string
		wantSub string
	}{
		{"not activated", map[string]string{}, "no inherited sockets"},
		{"other pid", map[string]string{"LISTEN_PID": "1", "LISTEN_FDS": "1", "LISTEN_FDNAMES": "one"}, "is not this process"},
		{"bad count", map[string]string{"LISTEN_PID": self, "LISTEN_FDS": "x"}, "parsing LISTEN_FDS"},
		{"zero count", map[string]string{"LISTEN_PID": self, "LISTEN_FDS": "0"}, "no inherited sockets"},
		{"missing names", map[string]string{"LISTEN_PID": self, "LISTEN_FDS": "1"}, "FileDescriptorName"},
		{"empty name", map[string]string{"LISTEN_PID": self, "LISTEN_FDS": "1", "LISTEN_FDNAMES": ""}, "FileDescriptorName"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := inheritedFiles(environment(test.env), pid, start)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), test.wantSub) {
				t.Errorf("error %q does not contain %q", err, test.wantSub)
			}
		})
	}
}

func TestInheritedFilesRejectsNonListening(t *testing.T) {
	const start = 260
	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	defer unix.Close(pair[1])
	if err := unix.Dup3(pair[0], start, 0); err != nil {
		t.Fatalf("Dup3: %v", err)
	}
	unix.Close(pair[0])
	t.Cleanup(func() { unix.Close(start) })

	pid := os.Getpid()
	_, err = inheritedFiles(environment(map[string]string{
		"LISTEN_PID":     strconv.Itoa(pid),
		"LISTEN_FDS":     "1",
		"LISTEN_FDNAMES": "firefox",
	}), pid, start)
	if err == nil || !strings.Contains(err.Error(), "not listening") {
		t.Fatalf("error = %v, want not listening", err)
	}
}

func TestFromEnvironmentNotActivated(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	os.Unsetenv("LISTEN_PID")
	if _, err := FromEnvironment(true); !errors.Is(err, ErrNotActivated) {
		t.Fatalf("FromEnvironment error = %v, want ErrNotActivated", err)
	}
}
