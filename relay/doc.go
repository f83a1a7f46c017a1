// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay serves one accepted sandbox connection: it reads the
// handshake, resolves and spawns the requested native-messaging host,
// relays bytes in both directions, and tears the session down.
//
// A session moves through these states:
//
//	accepted -> handshake_pending -> spawning -> relaying -> closing -> done
//
// with errored reachable from any state before done. Each session is
// owned by the goroutine calling [Handler.Serve]; the two relay
// directions run in their own goroutines and share nothing but the
// socket and the helper's pipes.
//
// Relaying follows half-close semantics. When the sandbox side stops
// writing, the helper's stdin is closed and its output keeps flowing
// until it closes stdout. When the helper closes stdout, the socket's
// write side is shut down and the sandbox side may keep writing. If
// the helper exits while the sandbox side is still open, the remaining
// directions get the drain timeout and are then cut.
//
// Once both directions have finished the helper gets the stdio close
// grace period to exit on its own, then SIGTERM, then after the
// terminate timeout SIGKILL. The helper is reaped exactly once however
// the session ends.
//
// [Handler.Serve] takes two contexts. Cancelling the first (shutdown
// has begun) aborts a session still waiting for its handshake and
// keeps one that is already relaying. Cancelling the second (the
// shutdown grace period is over) kills the helper and cuts the relay.
package relay
