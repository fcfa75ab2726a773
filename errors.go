// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package gojaruntime

import "errors"

// Standard errors.
var (
	// ErrLoopTerminated is returned when operations are attempted on a loop
	// that has been closed.
	ErrLoopTerminated = errors.New("gojaruntime: loop has been terminated")

	// ErrLoopBusy is returned when RunOnce is called while an iteration is
	// already executing on another goroutine.
	ErrLoopBusy = errors.New("gojaruntime: loop iteration already in progress")

	// ErrTimerNotFound is returned when cancelling a timer that does not
	// exist or has already fired.
	ErrTimerNotFound = errors.New("gojaruntime: timer not found")

	// ErrInstanceNotRegistered is returned when posting tasks for an engine
	// instance that is not registered with the platform.
	ErrInstanceNotRegistered = errors.New("gojaruntime: engine instance not registered with platform")

	// ErrInstanceTerminated is returned when Run is called on an instance
	// that has already completed its lifecycle.
	ErrInstanceTerminated = errors.New("gojaruntime: instance has been terminated")

	// ErrRunInProgress is returned when Run is called while another Run call
	// is still executing against the same instance.
	ErrRunInProgress = errors.New("gojaruntime: run already in progress")
)

// TickCallbackError wraps an engine-level exception raised by the registered
// tick callback. It propagates out of the event-loop iteration that was being
// driven when the callback failed.
type TickCallbackError struct {
	Cause error
}

// Error implements the error interface.
func (e *TickCallbackError) Error() string {
	if e.Cause == nil {
		return "gojaruntime: tick callback failed"
	}
	return "gojaruntime: tick callback failed: " + e.Cause.Error()
}

// Unwrap returns the underlying engine exception for use with [errors.Is]
// and [errors.As].
func (e *TickCallbackError) Unwrap() error {
	return e.Cause
}
