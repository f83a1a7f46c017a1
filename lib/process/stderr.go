// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// maxLineBytes caps one logged stderr line. Longer lines are split.
const maxLineBytes = 4096

// LineLogger is an io.Writer that logs each complete line written to it
// as one record at Warn level. Attach it as Spec.Stderr to capture
// helper diagnostics in the daemon's log.
type LineLogger struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending []byte
}

// NewLineLogger returns a writer that logs through logger.
func NewLineLogger(logger *slog.Logger) *LineLogger {
	return &LineLogger{logger: logger}
}

func (l *LineLogger) Write(data []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending = append(l.pending, data...)
	for {
		index := bytes.IndexByte(l.pending, '\n')
		if index < 0 {
			break
		}
		l.emit(l.pending[:index])
		l.pending = l.pending[index+1:]
	}
	for len(l.pending) >= maxLineBytes {
		l.emit(l.pending[:maxLineBytes])
		l.pending = l.pending[maxLineBytes:]
	}
	// Compact so the backing array doesn't grow without bound.
	l.pending = append([]byte(nil), l.pending...)
	return len(data), nil
}

// Flush logs any partial line still buffered.
func (l *LineLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) > 0 {
		l.emit(l.pending)
		l.pending = nil
	}
}

func (l *LineLogger) emit(line []byte) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) == 0 {
		return
	}
	l.logger.LogAttrs(context.Background(), slog.LevelWarn, "helper stderr", slog.String("line", string(line)))
}
