// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest reads native-messaging host manifests: the small
// JSON documents browsers use to map a host name to an executable.
//
// Both browser families are accepted. Firefox manifests list
// allowed_extensions (extension IDs); Chromium manifests list
// allowed_origins (chrome-extension://ID/ URLs). Manifests are parsed
// through tidwall/jsonc, so hand-maintained host-side copies may carry
// comments and trailing commas.
//
// Only manifests with "type": "stdio" describe a launchable host;
// [Parse] rejects every other type.
package manifest
