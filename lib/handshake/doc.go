// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package handshake implements the single frame a relay client sends
// before a connection becomes an opaque byte pipe.
//
// Wire format:
//
//	[length:4 BE][payload:length]
//
// The payload is UTF-8. Its first NUL-separated field names the
// requested native-messaging host; any further fields are the arguments
// the browser passed to the relay client (manifest path and extension
// ID for Firefox, extension origin for Chromium), forwarded verbatim to
// the helper:
//
//	org.kde.plasma.browser_integration.json\x00/path/to/manifest.json\x00plasma-browser-integration@kde.org
//
// A payload without NUL bytes is an identifier with no arguments. The
// frame is an internal contract between the relay client and the
// session handler, not a compatibility surface; both sides import this
// package so they cannot drift apart.
package handshake
