// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func frameBytes(length uint32, payload string) []byte {
	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header, length)
	return append(header, payload...)
}

func TestReadIdentifierOnly(t *testing.T) {
	request, err := Read(bytes.NewReader(frameBytes(7, "kdeplas")), 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if request.Identifier != "kdeplas" {
		t.Errorf("Identifier = %q, want %q", request.Identifier, "kdeplas")
	}
	if len(request.Args) != 0 {
		t.Errorf("Args = %q, want none", request.Args)
	}
}

func TestReadLeavesTrailingBytes(t *testing.T) {
	stream := bytes.NewReader(append(frameBytes(7, "kdeplas"), "ping"...))
	if _, err := Read(stream, 0); err != nil {
		t.Fatalf("Read: %v", err)
	}
	rest, _ := io.ReadAll(stream)
	if string(rest) != "ping" {
		t.Errorf("bytes after frame = %q, want %q", rest, "ping")
	}
}

func TestWriteThenRead(t *testing.T) {
	want := Request{
		Identifier: "org.kde.plasma.browser_integration.json",
		Args:       []string{"/home/user/.mozilla/native-messaging-hosts/org.kde.plasma.browser_integration.json", "plasma-browser-integration@kde.org"},
	}
	var buffer bytes.Buffer
	if err := Write(&buffer, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(&buffer, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Identifier != want.Identifier {
		t.Errorf("Identifier = %q, want %q", got.Identifier, want.Identifier)
	}
	if len(got.Args) != len(want.Args) {
		t.Fatalf("Args = %q, want %q", got.Args, want.Args)
	}
	for i := range want.Args {
		if got.Args[i] != want.Args[i] {
			t.Errorf("Args[%d] = %q, want %q", i, got.Args[i], want.Args[i])
		}
	}
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name       string
		input      []byte
		maxPayload int
		want       error
	}{
		{"empty stream", nil, 0, ErrTruncated},
		{"partial header", []byte{0x00, 0x00}, 0, ErrTruncated},
		{"partial payload", frameBytes(7, "kde"), 0, ErrTruncated},
		{"zero length", frameBytes(0, ""), 0, ErrEmptyIdentifier},
		{"empty first field", frameBytes(4, "\x00arg"), 0, ErrEmptyIdentifier},
		{"oversized", frameBytes(65, "x"), 64, ErrFrameTooLarge},
		{"oversized default", frameBytes(DefaultMaxPayload+1, ""), 0, ErrFrameTooLarge},
		{"huge declared length", frameBytes(0xFFFFFFFF, ""), 0, ErrFrameTooLarge},
		{"invalid utf8", frameBytes(2, "\xff\xfe"), 0, ErrInvalidUTF8},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Read(bytes.NewReader(test.input), test.maxPayload)
			if !errors.Is(err, test.want) {
				t.Fatalf("Read error = %v, want %v", err, test.want)
			}
			if !IsProtocolError(err) {
				t.Errorf("IsProtocolError(%v) = false", err)
			}
		})
	}
}

// An oversized frame must be rejected from the header alone, without
// waiting for a body the client may never send.
func TestReadOversizedDoesNotConsumeBody(t *testing.T) {
	stream := bytes.NewReader(append(frameBytes(100, ""), "body"...))
	if _, err := Read(stream, 10); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("Read error = %v, want ErrFrameTooLarge", err)
	}
	if stream.Len() != 4 {
		t.Errorf("remaining = %d bytes, want 4 (body untouched)", stream.Len())
	}
}

func TestReadExactLimit(t *testing.T) {
	if _, err := Read(bytes.NewReader(frameBytes(4, "abcd")), 4); err != nil {
		t.Fatalf("payload at exactly the limit rejected: %v", err)
	}
}

func TestEncodeRejectsInvalidRequests(t *testing.T) {
	if _, err := Encode(Request{}); !errors.Is(err, ErrEmptyIdentifier) {
		t.Errorf("Encode(empty) error = %v, want ErrEmptyIdentifier", err)
	}
	if _, err := Encode(Request{Identifier: "host", Args: []string{"a\x00b"}}); err == nil {
		t.Error("Encode accepted an argument containing NUL")
	}
	if _, err := Encode(Request{Identifier: "\xff"}); !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("Encode(invalid utf8) error = %v, want ErrInvalidUTF8", err)
	}
}

func TestIOErrorIsNotProtocolError(t *testing.T) {
	failure := errors.New("connection reset")
	_, err := Read(io.MultiReader(&failingReader{err: failure}), 0)
	if !errors.Is(err, failure) {
		t.Fatalf("Read error = %v, want wrapped %v", err, failure)
	}
	if IsProtocolError(err) {
		t.Error("I/O failure classified as a protocol error")
	}
}

type failingReader struct{ err error }

func (f *failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestRequestString(t *testing.T) {
	request := Request{Identifier: "host", Args: []string{"a", "b"}}
	if got := request.String(); got != "host a b" {
		t.Errorf("String() = %q", got)
	}
}
