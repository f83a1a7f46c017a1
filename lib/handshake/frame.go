// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// HeaderSize is the width of the length prefix.
const HeaderSize = 4

// DefaultMaxPayload bounds the payload when the caller does not
// configure a limit. Manifest names and browser arguments fit easily.
const DefaultMaxPayload = 4096

// fieldSeparator splits the identifier from caller arguments.
const fieldSeparator = "\x00"

var (
	// ErrFrameTooLarge is returned when the declared length exceeds the
	// configured maximum. The payload is not read.
	ErrFrameTooLarge = errors.New("handshake: frame exceeds maximum length")

	// ErrEmptyIdentifier is returned for a zero-length payload or an
	// empty first field.
	ErrEmptyIdentifier = errors.New("handshake: empty host identifier")

	// ErrInvalidUTF8 is returned when the payload is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("handshake: payload is not valid UTF-8")

	// ErrTruncated is returned when the stream ends before a complete
	// frame has been read.
	ErrTruncated = errors.New("handshake: stream ended before complete frame")
)

// Request is a decoded handshake frame.
type Request struct {
	// Identifier names the native-messaging host the sandboxed client
	// wants launched.
	Identifier string

	// Args are the browser-supplied arguments, passed through to the
	// helper after the arguments from its resolved spec.
	Args []string
}

// Encode returns the wire form of request.
func Encode(request Request) ([]byte, error) {
	if request.Identifier == "" {
		return nil, ErrEmptyIdentifier
	}
	fields := append([]string{request.Identifier}, request.Args...)
	for _, field := range fields {
		if strings.Contains(field, fieldSeparator) {
			return nil, fmt.Errorf("handshake: field %q contains a NUL byte", field)
		}
	}
	payload := strings.Join(fields, fieldSeparator)
	if !utf8.ValidString(payload) {
		return nil, ErrInvalidUTF8
	}
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return nil, ErrFrameTooLarge
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[:HeaderSize], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// Write sends request as a single frame. Header and payload go out in
// one Write call so a stream socket never sees a partial header from a
// concurrent writer.
func Write(w io.Writer, request Request) error {
	frame, err := Encode(request)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("handshake: writing frame: %w", err)
	}
	return nil
}

// Read reads exactly one frame from r and nothing more, so any bytes
// that follow the frame stay in r for the relay. maxPayload <= 0 selects
// DefaultMaxPayload.
func Read(r io.Reader, maxPayload int) (Request, error) {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}

	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Request{}, readError("header", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if uint64(length) > uint64(maxPayload) {
		return Request{}, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, length, maxPayload)
	}
	if length == 0 {
		return Request{}, ErrEmptyIdentifier
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Request{}, readError("payload", err)
	}
	return decode(payload)
}

func decode(payload []byte) (Request, error) {
	if !utf8.Valid(payload) {
		return Request{}, ErrInvalidUTF8
	}
	fields := strings.Split(string(payload), fieldSeparator)
	if fields[0] == "" {
		return Request{}, ErrEmptyIdentifier
	}
	request := Request{Identifier: fields[0]}
	if len(fields) > 1 {
		request.Args = fields[1:]
	}
	return request, nil
}

// readError maps short reads to ErrTruncated and keeps other I/O
// errors (deadlines, resets) visible to the caller.
func readError(part string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w (reading %s)", ErrTruncated, part)
	}
	return fmt.Errorf("handshake: reading %s: %w", part, err)
}

// IsProtocolError reports whether err came from a malformed frame as
// opposed to an I/O failure on the underlying stream.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrFrameTooLarge) || errors.Is(err, ErrEmptyIdentifier) ||
		errors.Is(err, ErrInvalidUTF8) || errors.Is(err, ErrTruncated)
}

// String renders request for logs. NUL separators are shown as spaces.
func (request Request) String() string {
	var buffer bytes.Buffer
	buffer.WriteString(request.Identifier)
	for _, argument := range request.Args {
		buffer.WriteByte(' ')
		buffer.WriteString(argument)
	}
	return buffer.String()
}
