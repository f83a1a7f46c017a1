// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for nm-proxy packages.
//
// [SocketDir] creates a temporary directory in /tmp suitable for Unix
// domain sockets. Unix domain sockets have a 108-byte path limit
// (sun_path in sockaddr_un) and t.TempDir() can exceed it on build
// systems with deeply nested temporary roots.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with time.After fallback). These are the only
// place in the test suite where real wall-clock timeouts are used;
// everything else takes an injected clock.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation, and [WriteScript] writes small executable shell
// helpers that stand in for native-messaging hosts.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
