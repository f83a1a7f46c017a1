// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process spawns native-messaging helpers and reports how they
// ended, and holds the binary entrypoint helper [Fatal].
//
// [Manager.Start] creates a helper from a [Spec] with two fresh pipes
// substituted for its standard input and output. Standard error stays
// attached to the daemon's own (or to a writer the caller supplies) for
// diagnostics. The returned [Child] carries the parent's pipe ends and
// is reaped exactly once by a goroutine started with it; any number of
// callers may block in [Child.Wait] or select on [Child.Done].
//
// Spawn failures (missing binary, permission denied, resource
// exhaustion) come back as a [*SpawnError] and are never retried here:
// retrying a broken manifest entry is the operator's decision.
//
// Helpers run in their own process group so [Child.Signal] and
// [Child.Kill] reach anything the helper itself started. On Linux the
// kernel also sends SIGTERM to a helper whose daemon dies unexpectedly.
package process
