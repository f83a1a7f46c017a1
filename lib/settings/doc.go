// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package settings persists the host table snapshot: for each target
// (browser), the native-messaging host identifiers the setup step
// registered and the executable each one launches.
//
// The snapshot is written with [Save] (atomically: temporary file,
// fsync, rename, parent directory fsync) and read with [Load]. The
// daemon treats it as one more source of host specs behind its own
// configuration file; see lib/resolve.
package settings
