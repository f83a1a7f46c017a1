// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package activation

import "errors"

// ErrNotActivated is returned by FromEnvironment when the process was
// not started with inherited sockets.
var ErrNotActivated = errors.New("activation: socket activation is only supported on Linux; pass handles with NewSet")

// FromEnvironment is unavailable off Linux. Callers hand sockets over
// through NewSet instead.
func FromEnvironment(unsetEnvironment bool) (*Set, error) {
	return nil, ErrNotActivated
}
