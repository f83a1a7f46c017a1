// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package activation owns the pre-bound listening sockets the daemon
// serves, one per target identity (a browser or browser profile).
//
// The daemon never binds its own sockets. An external service manager
// creates them, keeps them across daemon restarts, and hands them over
// through the socket-activation convention:
//
//	LISTEN_PID=<daemon pid> LISTEN_FDS=<n> LISTEN_FDNAMES=<name>:<name>:...
//
// with descriptors numbered from 3. [FromEnvironment] parses that
// convention. Platforms or tests that pass handles some other way build
// the same [Set] with [NewSet] (from *os.File handles) or
// [FromListeners].
//
// A Set only ever accepts from its sockets. [Set.Stop] interrupts
// blocked accepts with an expired deadline instead of closing anything,
// so ownership of every socket returns intact to the service manager
// when the process exits and clients that connect during a restart sit
// in the kernel backlog until the replacement process accepts them.
package activation
