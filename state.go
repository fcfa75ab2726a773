// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package gojaruntime

import (
	"sync/atomic"
)

// InstanceState represents the current state of a [MainInstance] lifecycle.
//
// State Machine:
//
//	StateCreated → StateBootstrapping                [Run()]
//	StateBootstrapping → StateBootstrapFailed        [bootstrap exception / inspector failure]
//	StateBootstrapping → StateLoopRunning            [bootstrap succeeded]
//	StateLoopRunning ⇄ StateBeforeExitCheck          [loop idle / before-exit resurrected the loop]
//	StateBeforeExitCheck → StateExitEmitted          [loop finally idle, or stopping]
//	StateBootstrapFailed → StateTeardown             [shared teardown, loop skipped]
//	StateExitEmitted → StateTeardown                 [shared teardown]
//	StateTeardown → StateTerminated                  (terminal)
//
// State Transition Rules:
//   - Use TryTransition() (CAS) for states reachable from more than one
//     predecessor (StateLoopRunning, StateBeforeExitCheck)
//   - Use Store() for irreversible states (StateTerminated)
type InstanceState uint64

const (
	// StateCreated indicates the instance has been created but Run has not
	// been called.
	StateCreated InstanceState = iota
	// StateBootstrapping indicates the environment is being constructed and
	// the bootstrap program is executing.
	StateBootstrapping
	// StateBootstrapFailed indicates bootstrap raised an uncaught exception
	// or the inspector hook failed; the run-loop phase is skipped.
	StateBootstrapFailed
	// StateLoopRunning indicates the event loop is being driven.
	StateLoopRunning
	// StateBeforeExitCheck indicates the loop ran out of work and before-exit
	// hooks/events are being given a last chance to schedule more.
	StateBeforeExitCheck
	// StateExitEmitted indicates the "exit" lifecycle event has been emitted.
	StateExitEmitted
	// StateTeardown indicates shared teardown is executing.
	StateTeardown
	// StateTerminated indicates the lifecycle has fully completed.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s InstanceState) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateBootstrapping:
		return "Bootstrapping"
	case StateBootstrapFailed:
		return "BootstrapFailed"
	case StateLoopRunning:
		return "LoopRunning"
	case StateBeforeExitCheck:
		return "BeforeExitCheck"
	case StateExitEmitted:
		return "ExitEmitted"
	case StateTeardown:
		return "Teardown"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// instanceStateMachine is a lock-free state machine with cache-line padding.
//
// Uses pure atomic CAS operations with no mutex. Cache-line padding prevents
// false sharing with adjacent fields, since the state is read from arbitrary
// goroutines (e.g. lifecycle observers) while the run goroutine advances it.
type instanceStateMachine struct { // betteralign:ignore
	_ [64]byte      //nolint:unused
	v atomic.Uint64 // State value
	_ [56]byte      //nolint:unused
}

// newInstanceStateMachine creates a state machine in the Created state.
func newInstanceStateMachine() *instanceStateMachine {
	s := &instanceStateMachine{}
	s.v.Store(uint64(StateCreated))
	return s
}

// Load returns the current state atomically.
func (s *instanceStateMachine) Load() InstanceState {
	return InstanceState(s.v.Load())
}

// Store atomically stores a new state, without transition validation.
func (s *instanceStateMachine) Store(state InstanceState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
// Returns true if the transition was successful.
func (s *instanceStateMachine) TryTransition(from, to InstanceState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// IsTerminal returns true if the current state is terminal.
func (s *instanceStateMachine) IsTerminal() bool {
	return s.Load() == StateTerminated
}
