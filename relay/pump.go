// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"errors"
	"io"
	"os"

	"github.com/bureau-foundation/nmproxy/lib/netutil"
)

const pumpBufferSize = 32 * 1024

// direction names one half of the relay in logs.
type direction string

const (
	toHelper   direction = "to_helper"
	fromHelper direction = "from_helper"
)

// pumpResult is how one direction ended.
type pumpResult struct {
	direction direction

	// bytes is the number of bytes delivered to the destination.
	bytes int64

	// dropped counts bytes read from the source but never written.
	dropped int

	// readError and writeError are nil for a clean end of stream.
	readError  error
	writeError error

	// closeError is from half-closing the destination afterwards.
	closeError error
}

// forced reports whether the direction was cut by a deadline rather
// than ending on its own.
func (r pumpResult) forced() bool {
	return errors.Is(r.readError, os.ErrDeadlineExceeded) || errors.Is(r.readError, os.ErrClosed)
}

// unexpected returns the first error that is not part of normal
// teardown, or nil.
func (r pumpResult) unexpected() error {
	for _, err := range []error{r.readError, r.writeError} {
		if err != nil && !netutil.IsExpectedCloseError(err) {
			return err
		}
	}
	return nil
}

// pump copies src to dst until src ends or either side fails, then
// half-closes dst. Each chunk read is written before the next read, so
// source order is preserved and a failed write leaves its unwritten
// remainder in dropped.
func pump(which direction, dst io.Writer, src io.Reader, closeDestination func() error) pumpResult {
	result := pumpResult{direction: which}
	buffer := make([]byte, pumpBufferSize)
	for {
		n, readError := src.Read(buffer)
		if n > 0 {
			written, writeError := dst.Write(buffer[:n])
			result.bytes += int64(written)
			if writeError == nil && written < n {
				writeError = io.ErrShortWrite
			}
			if writeError != nil {
				result.dropped = n - written
				result.writeError = writeError
				break
			}
		}
		if readError != nil {
			if !errors.Is(readError, io.EOF) {
				result.readError = readError
			}
			break
		}
	}
	result.closeError = closeDestination()
	return result
}
