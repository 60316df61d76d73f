// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deploy

import (
	"fmt"
	"sort"
	"sync"
)

// State is the per-service rollout state.
type State string

const (
	StatePending             State = "Pending"
	StateSkipped             State = "Skipped"
	StateStartingNewInstance State = "StartingNewInstance"
	StateProbingReadiness    State = "ProbingReadiness"
	StateReady               State = "Ready"
	StateDrainingOldInstance State = "DrainingOldInstance"
	StateStopping            State = "Stopping"
	StateStarting            State = "Starting"
	StateDone                State = "Done"
	StateNotReady            State = "NotReady"
	StateRollbackTriggered   State = "RollbackTriggered"
)

// Terminal reports whether no further transition is expected.
func (s State) Terminal() bool {
	switch s {
	case StateSkipped, StateDone, StateRollbackTriggered:
		return true
	}
	return false
}

// transitions lists the legal next states. Failure of a runtime call moves any
// active state to NotReady; a triggered rollback can follow any non-skipped
// state.
var transitions = map[State][]State{
	StatePending:             {StateSkipped, StateStartingNewInstance, StateStopping, StateStarting, StateNotReady},
	StateStartingNewInstance: {StateProbingReadiness, StateNotReady, StateRollbackTriggered},
	StateProbingReadiness:    {StateReady, StateDone, StateNotReady, StateRollbackTriggered},
	StateReady:               {StateDrainingOldInstance, StateNotReady, StateRollbackTriggered},
	StateDrainingOldInstance: {StateDone, StateNotReady, StateRollbackTriggered},
	StateStopping:            {StateStarting, StateNotReady, StateRollbackTriggered},
	StateStarting:            {StateProbingReadiness, StateNotReady, StateRollbackTriggered},
	StateDone:                {StateRollbackTriggered},
	StateNotReady:            {StateRollbackTriggered},
}

// Transition is one observed state change.
type Transition struct {
	Service string
	From    State
	To      State
}

// tracker holds the state of every service in a run.
type tracker struct {
	mu      sync.Mutex
	states  map[string]State
	touched map[string]bool
	observe func(Transition)
}

func newTracker(services []string, observe func(Transition)) *tracker {
	t := &tracker{states: make(map[string]State, len(services)), touched: map[string]bool{}, observe: observe}
	for _, s := range services {
		t.states[s] = StatePending
	}
	return t
}

// move applies a transition. Illegal transitions are programming errors and
// are reported instead of applied.
func (t *tracker) move(service string, to State) error {
	t.mu.Lock()
	from := t.states[service]
	legal := false
	for _, next := range transitions[from] {
		if next == to {
			legal = true
			break
		}
	}
	if !legal {
		t.mu.Unlock()
		return fmt.Errorf("illegal transition %s: %s -> %s", service, from, to)
	}
	t.states[service] = to
	if to != StateSkipped && to != StateRollbackTriggered {
		t.touched[service] = true
	}
	observe := t.observe
	t.mu.Unlock()

	if observe != nil {
		observe(Transition{Service: service, From: from, To: to})
	}
	return nil
}

func (t *tracker) state(service string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[service]
}

// touchedServices returns the services a mutation was attempted on, sorted.
func (t *tracker) touchedServices() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.touched))
	for s := range t.touched {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// inState returns the services currently in one of states, sorted.
func (t *tracker) inState(states ...State) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for s, st := range t.states {
		for _, want := range states {
			if st == want {
				out = append(out, s)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
