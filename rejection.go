// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package gojaruntime

import (
	"sync/atomic"

	"github.com/dop251/goja"
)

// PromiseRejectEvent identifies a tracked promise-state-transition category.
// The numeric values are part of the script-facing contract (they are
// exported to the bootstrap program as the promiseRejectEvents constants).
type PromiseRejectEvent int

const (
	// PromiseRejectWithNoHandler: a promise was rejected with no handler
	// attached. The rejection reason is forwarded to the handler.
	PromiseRejectWithNoHandler PromiseRejectEvent = 0
	// PromiseHandlerAddedAfterReject: a handler was attached to a promise
	// that had already been rejected. No value is forwarded.
	PromiseHandlerAddedAfterReject PromiseRejectEvent = 1
	// PromiseRejectAfterResolved: a promise was rejected after it had
	// already settled. The rejection value is forwarded.
	PromiseRejectAfterResolved PromiseRejectEvent = 2
	// PromiseResolveAfterResolved: a promise was resolved after it had
	// already settled. The resolution value is forwarded.
	PromiseResolveAfterResolved PromiseRejectEvent = 3
)

// String returns the script-facing constant name for the event kind.
func (e PromiseRejectEvent) String() string {
	switch e {
	case PromiseRejectWithNoHandler:
		return "kPromiseRejectWithNoHandler"
	case PromiseHandlerAddedAfterReject:
		return "kPromiseHandlerAddedAfterReject"
	case PromiseRejectAfterResolved:
		return "kPromiseRejectAfterResolved"
	case PromiseResolveAfterResolved:
		return "kPromiseResolveAfterResolved"
	default:
		return "Unknown"
	}
}

// Process-wide rejection telemetry. Monotonic, atomic, never reset; shared
// by every engine instance in the process.
var (
	unhandledRejections    atomic.Uint64
	rejectionsHandledAfter atomic.Uint64
)

// RejectionCounters returns the process-wide rejection telemetry: the number
// of promises rejected with no handler attached, and the number of handlers
// attached to already-rejected promises.
//
// Each counter is monotonically non-decreasing and consistent with event
// arrival order per counter; the two counters are not ordered relative to
// each other.
func RejectionCounters() (unhandled, handledAfter uint64) {
	return unhandledRejections.Load(), rejectionsHandledAfter.Load()
}

// setPromiseRejectCallback registers the script-level rejection handler.
// At most one callback is active at a time; registration replaces any prior
// callback.
func (e *Env) setPromiseRejectCallback(fn goja.Callable) {
	e.promiseRejectCallback = fn
}

// NotifyPromiseRejection delivers a promise-state-transition notification
// from the engine to the script layer.
//
// For every tracked event kind the registered rejection callback is invoked
// with three positional arguments: the event-kind tag, the affected promise,
// and the associated value (undefined where the table in the package
// documentation says none). Untracked event kinds are ignored. Counters are
// incremented before the callback runs, so concurrent telemetry readers
// observe monotonically non-decreasing values.
//
// The engine must not emit promise events before bootstrap registers the
// callback; doing so is a bootstrap-ordering bug and panics.
func (e *Env) NotifyPromiseRejection(event PromiseRejectEvent, promise goja.Value, value goja.Value) {
	if !e.canCallIntoJS.Load() {
		return
	}

	cb := e.promiseRejectCallback
	if cb == nil {
		panic("gojaruntime: promise rejected before bootstrap registered the rejection callback")
	}

	switch event {
	case PromiseRejectWithNoHandler:
		unhandledRejections.Add(1)
	case PromiseHandlerAddedAfterReject:
		value = goja.Undefined()
		rejectionsHandledAfter.Add(1)
	case PromiseRejectAfterResolved, PromiseResolveAfterResolved:
		// Value forwarded as-is.
	default:
		return
	}

	if value == nil {
		value = goja.Undefined()
	}
	if promise == nil {
		promise = goja.Undefined()
	}

	if _, err := cb(goja.Undefined(), e.vm.ToValue(int(event)), promise, value); err != nil {
		// The script layer owns warning/crash policy; a throwing handler is
		// reported but not propagated, matching the fire-and-forget delivery
		// of engine rejection notifications.
		e.logger.Err().
			Str("component", "rejection").
			Str("event", event.String()).
			Err(err).
			Log("promise reject callback raised an exception")
	}
}

// installRejectionTracker wires the engine's promise-state notifications to
// NotifyPromiseRejection. Installed during environment construction, before
// the bootstrap program runs.
func (e *Env) installRejectionTracker() {
	e.vm.SetPromiseRejectionTracker(func(p *goja.Promise, operation goja.PromiseRejectionOperation) {
		switch operation {
		case goja.PromiseRejectionReject:
			e.NotifyPromiseRejection(PromiseRejectWithNoHandler, e.vm.ToValue(p), p.Result())
		case goja.PromiseRejectionHandle:
			e.NotifyPromiseRejection(PromiseHandlerAddedAfterReject, e.vm.ToValue(p), goja.Undefined())
		}
	})
}
