// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"io/fs"
	"net"
	"os"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal stream termination:
// EOF, a closed connection or file, broken pipe, connection reset, or an
// expired deadline. These errors occur during normal relay teardown when one
// side disconnects and the other side's in-flight read or write fails as a
// result, or when a read is interrupted on purpose by SetReadDeadline.
//
// Relays that interrupt blocked reads with deadlines produce
// os.ErrDeadlineExceeded on the interrupted side. Closed pipe ends produce
// os.ErrClosed. None of these should be logged as errors.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, fs.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
