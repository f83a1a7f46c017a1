// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import "io"

// closeWriter is implemented by *net.UnixConn and *net.TCPConn.
type closeWriter interface {
	CloseWrite() error
}

// CloseWrite shuts down the write side of connection so the peer observes
// EOF while the read side stays usable. Connections without half-close
// support fall back to a full Close, which is the only way to deliver EOF
// on them.
func CloseWrite(connection io.Closer) error {
	if writer, ok := connection.(closeWriter); ok {
		return writer.CloseWrite()
	}
	return connection.Close()
}
