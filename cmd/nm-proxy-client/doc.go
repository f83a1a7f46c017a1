// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// nm-proxy-client is the native-messaging host that browsers inside a
// sandbox actually launch. It connects to nm-proxy-daemon's socket,
// sends one handshake frame naming the requested host together with
// the browser's arguments, and then copies its own stdin and stdout
// to and from the socket.
//
// Firefox invokes hosts as "client <manifest-path> <extension-id>";
// the identifier is the manifest's file name. Chromium passes only the
// caller origin, so its manifests must run the client with
// --identifier.
//
// The socket is --socket, else $NM_PROXY_SOCKET, else the first
// nm-proxy-*.socket entry in $XDG_RUNTIME_DIR. Inside Flatpak the
// socket may appear as a regular file, so both are accepted.
package main
