// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import "fmt"

// State is a session lifecycle state.
type State int

const (
	StateAccepted State = iota
	StateHandshakePending
	StateSpawning
	StateRelaying
	StateClosing
	StateDone
	StateErrored
)

var stateNames = [...]string{
	StateAccepted:         "accepted",
	StateHandshakePending: "handshake_pending",
	StateSpawning:         "spawning",
	StateRelaying:         "relaying",
	StateClosing:          "closing",
	StateDone:             "done",
	StateErrored:          "errored",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether s is done or errored.
func (s State) Terminal() bool {
	return s == StateDone || s == StateErrored
}
