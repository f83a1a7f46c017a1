// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package process

import (
	"os/exec"
	"syscall"
)

// sysProcAttr puts the helper in its own process group. Pdeathsig is
// not available off Linux.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func startCommand(cmd *exec.Cmd) error {
	return cmd.Start()
}
