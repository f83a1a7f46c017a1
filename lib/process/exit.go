// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
)

// Fatal reports err from a binary's run function and exits. Errors
// carrying an ExitCode method exit with that code; everything else
// prints "error: err" to stderr and exits 1. It writes directly to
// stderr since the structured logger may not exist yet.
func Fatal(err error) {
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		os.Exit(coder.ExitCode())
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
