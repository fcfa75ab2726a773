// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package gojaruntime

import (
	"github.com/dop251/goja"
)

// Tick-queue flag indices within the shared field buffer. Must stay in sync
// with the bootstrap program, which addresses the same buffer through a
// Uint8Array view.
const (
	kHasTickScheduled   = 0
	kHasRejectionToWarn = 1

	tickFieldsCount = 2
)

// TickQueue holds the native side of the deferred-callback ("next tick")
// scheduling contract.
//
// The two flags live in a byte buffer shared with the script layer via an
// ArrayBuffer, so script code can set them without a native call. If either
// flag is set, the registered tick callback must run before the engine is
// considered idle for the purposes of loop continuation.
type TickQueue struct {
	fields   []byte
	callback goja.Callable
}

func newTickQueue() *TickQueue {
	return &TickQueue{
		fields: make([]byte, tickFieldsCount),
	}
}

// HasTickScheduled reports whether script code has queued deferred work.
func (q *TickQueue) HasTickScheduled() bool {
	return q.fields[kHasTickScheduled] != 0
}

// HasRejectionToWarn reports whether an unhandled rejection warning is
// pending.
func (q *TickQueue) HasRejectionToWarn() bool {
	return q.fields[kHasRejectionToWarn] != 0
}

// SetTickScheduled sets or clears the native side of the tick flag. Script
// code normally writes the shared buffer directly; this exists for embedder
// and test use.
func (q *TickQueue) SetTickScheduled(v bool) {
	q.fields[kHasTickScheduled] = boolByte(v)
}

// SetRejectionToWarn sets or clears the rejection-warning flag.
func (q *TickQueue) SetRejectionToWarn(v bool) {
	q.fields[kHasRejectionToWarn] = boolByte(v)
}

// setCallback registers the single script-level function responsible for
// draining queued deferred work. Later calls replace the registration.
func (q *TickQueue) setCallback(fn goja.Callable) {
	q.callback = fn
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// RunNextTicksNative is the native-side step function, invoked once per
// event-loop iteration boundary (and after each macrotask, via
// [Loop.OnAfterTask]).
//
// If neither tick flag is set, a microtask checkpoint is performed first; a
// microtask may itself schedule a tick or a rejection warning, so the flags
// are re-checked afterwards. Only if a flag is still set is the registered
// tick callback invoked, with no arguments, on the process receiver, at
// most once per call.
//
// Invoking this while the tick callback is unregistered and a flag is set is
// a bootstrap-ordering bug and panics. A failing callback invocation returns
// a [*TickCallbackError], which propagates as a fatal error through the
// native call site driving the event-loop iteration.
func (e *Env) RunNextTicksNative() error {
	if !e.canCallIntoJS.Load() {
		return nil
	}

	q := e.tickQueue
	if !q.HasTickScheduled() && !q.HasRejectionToWarn() {
		e.PerformMicrotaskCheckpoint()
	}
	if !q.HasTickScheduled() && !q.HasRejectionToWarn() {
		return nil
	}

	if q.callback == nil {
		panic("gojaruntime: tick callback invoked before bootstrap registered it")
	}
	if _, err := q.callback(e.process); err != nil {
		return &TickCallbackError{Cause: err}
	}
	return nil
}
