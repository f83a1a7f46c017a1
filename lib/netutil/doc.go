// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small helpers shared by the relay and the relay
// client: classification of errors that mark an ordinary end of stream,
// and half-close wrappers for stream sockets.
package netutil
