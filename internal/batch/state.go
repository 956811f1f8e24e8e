/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package batch

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidTransition indicates an invalid state transition was attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// State is a phase of one batch run.
type State string

const (
	StateIdle         State = "idle"
	StateLoadingState State = "loading_state"
	StateRunning      State = "running"
	StateFlushing     State = "flushing"
	StateDone         State = "done"
)

var validTransitions = map[State][]State{
	StateIdle:         {StateLoadingState},
	StateLoadingState: {StateRunning, StateDone},
	StateRunning:      {StateFlushing},
	StateFlushing:     {StateDone},
}

func checkTransition(from, to State) error {
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
