// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// nm-proxy-daemon relays native-messaging connections from sandboxed
// browsers to helper processes running outside the sandbox.
//
// The daemon is socket activated. Each inherited listening socket is
// a target, named after its socket unit with the "nm-proxy-" prefix
// and ".socket" suffix removed. A client connecting to a target sends
// one handshake frame naming the host it wants. The daemon resolves
// that host (configured hosts first, then the settings snapshot, then
// the target's manifest directory), launches the helper, and copies
// bytes in both directions until either side is done.
//
// The daemon never closes its listening sockets. On SIGINT or SIGTERM
// it stops accepting, lets established sessions finish for the
// configured shutdown grace, kills the helpers of any that remain, and
// exits 0. The socket units keep the sockets bound for the next start.
//
// Maintenance modes:
//
//	nm-proxy-daemon --check               validate configuration and exit
//	nm-proxy-daemon --export-hosts PATH   write a settings snapshot
//	nm-proxy-daemon --dump-settings       print the settings file as CBOR diagnostic notation
package main
