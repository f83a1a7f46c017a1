// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package activation

import "strings"

// Socket unit naming used by the service manager configuration. A
// descriptor named "nm-proxy-firefox.socket" serves target "firefox".
const (
	SocketPrefix = "nm-proxy-"
	SocketSuffix = ".socket"
)

// TargetName maps a descriptor name to a target name by stripping the
// socket unit prefix and suffix, if both are present.
func TargetName(descriptorName string) string {
	if strings.HasPrefix(descriptorName, SocketPrefix) && strings.HasSuffix(descriptorName, SocketSuffix) &&
		len(descriptorName) > len(SocketPrefix)+len(SocketSuffix) {
		return strings.TrimSuffix(strings.TrimPrefix(descriptorName, SocketPrefix), SocketSuffix)
	}
	return descriptorName
}
