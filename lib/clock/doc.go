// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for the relay's
// grace periods, drain timeouts, and accept back-off.
//
// Production code holds a Clock field set to Real(). Tests set it to
// Fake(), which stands still until Advance is called:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	handler := &relay.Handler{Clock: fake}
//	// ... start the session ...
//	fake.WaitForTimers(1)          // session registered its grace timer
//	fake.Advance(200 * time.Millisecond)
//
// WaitForTimers closes the race between a goroutine registering a timer
// and the test advancing the clock past it.
package clock
