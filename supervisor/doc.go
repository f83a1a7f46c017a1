// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor runs the daemon's accept loops and coordinates
// shutdown.
//
// [Supervisor.Run] starts one accept loop per listening target. Each
// accepted connection gets a process-unique session ID and its own
// goroutine running a relay session; sessions never interact. Transient
// accept failures are logged and retried with a back-off that starts at
// 5ms, doubles up to 1s, and resets after a successful accept.
//
// Shutdown has two phases. Cancelling Run's context stops the accept
// loops and tells sessions still waiting for a handshake to give up,
// while sessions already relaying continue. Sessions then get the
// shutdown grace period to finish; after it, the kill context given to
// every session is cancelled, helpers are killed, and Run returns once
// every session has been reaped. The listening sockets are never
// closed: they return to the service manager when the process exits.
package supervisor
