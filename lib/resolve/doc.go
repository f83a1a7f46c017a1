// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package resolve turns a handshake (target plus host identifier) into
// the [process.Spec] of the helper to launch.
//
// Three sources are combined by [Build] into a [Chain], consulted in
// order:
//
//   - [Table] built from the configuration file's explicit hosts,
//   - [Table] built from the setup step's settings snapshot,
//   - [ManifestDirectory], host-side manifests per target.
//
// A source that does not know an identifier reports a
// [*ConfigurationError] wrapping [ErrUnknownHost] and the chain moves
// on. Any other error (a caller the manifest does not allow) stops the
// chain. Resolvers never start processes and are safe for concurrent
// use.
package resolve
