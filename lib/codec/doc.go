// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the daemon's CBOR encoding configuration.
//
// CBOR is used only for on-disk state owned by nm-proxy (the host
// table snapshot in lib/settings). Everything a human edits is YAML or
// TOML (lib/config) and everything a browser emits is JSON
// (lib/manifest).
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. The
// same table therefore always produces identical bytes, so a snapshot
// that did not change does not look changed to a file watcher.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Types persisted only as CBOR carry `cbor` struct tags.
package codec
