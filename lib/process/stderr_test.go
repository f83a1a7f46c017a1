// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLineLoggerSplitsWrites(t *testing.T) {
	var buffer bytes.Buffer
	lines := NewLineLogger(slog.New(slog.NewJSONHandler(&buffer, nil)))

	lines.Write([]byte("par"))
	lines.Write([]byte("tial\r\nnext\n\n"))
	lines.Write([]byte("tail"))

	if got := strings.Count(buffer.String(), "\n"); got != 2 {
		t.Fatalf("logged %d records before Flush, want 2:\n%s", got, buffer.String())
	}
	lines.Flush()

	records := strings.Split(strings.TrimSpace(buffer.String()), "\n")
	want := []string{`"line":"partial"`, `"line":"next"`, `"line":"tail"`}
	if len(records) != len(want) {
		t.Fatalf("got %d records, want %d:\n%s", len(records), len(want), buffer.String())
	}
	for i, fragment := range want {
		if !strings.Contains(records[i], fragment) {
			t.Errorf("record %d = %s, want %s", i, records[i], fragment)
		}
	}
}

func TestLineLoggerCapsLongLines(t *testing.T) {
	var buffer bytes.Buffer
	lines := NewLineLogger(slog.New(slog.NewJSONHandler(&buffer, nil)))

	lines.Write(bytes.Repeat([]byte("x"), maxLineBytes+10))
	if got := strings.Count(buffer.String(), "\n"); got != 1 {
		t.Fatalf("logged %d records for an over-long line, want 1", got)
	}
	lines.Flush()
	if got := strings.Count(buffer.String(), "\n"); got != 2 {
		t.Fatalf("logged %d records after Flush, want 2", got)
	}
}
