// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package gojaruntime

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// initializeBindings creates the bootstrap-time globals in the engine's
// global scope:
//
//   - enqueueMicrotask(fn), setTickCallback(fn), runMicrotasks()
//   - setPromiseRejectCallback(fn) and the promiseRejectEvents constants
//   - tickInfo: a Uint8Array view over the shared tick-queue flag buffer
//   - setTimeout/clearTimeout, setImmediate: loop-backed timers so script
//     callbacks can schedule macrotask work that keeps the loop alive
//   - process: the lifecycle event receiver (on, exitCode)
func (e *Env) initializeBindings() error {
	vm := e.vm

	process := vm.NewObject()
	e.process = process
	if err := process.Set("on", e.processOn); err != nil {
		return fmt.Errorf("gojaruntime: failed to bind process.on: %w", err)
	}
	if err := vm.Set("process", process); err != nil {
		return fmt.Errorf("gojaruntime: failed to bind process: %w", err)
	}

	// Share the tick-queue flag buffer with script code: writes through the
	// Uint8Array view are visible natively without a call boundary.
	buffer := vm.NewArrayBuffer(e.tickQueue.fields)
	view, err := vm.New(vm.Get("Uint8Array"), vm.ToValue(buffer))
	if err != nil {
		return fmt.Errorf("gojaruntime: failed to create tickInfo view: %w", err)
	}
	if err := vm.Set("tickInfo", view); err != nil {
		return fmt.Errorf("gojaruntime: failed to bind tickInfo: %w", err)
	}

	events := vm.NewObject()
	for _, kind := range []PromiseRejectEvent{
		PromiseRejectWithNoHandler,
		PromiseHandlerAddedAfterReject,
		PromiseRejectAfterResolved,
		PromiseResolveAfterResolved,
	} {
		if err := events.Set(kind.String(), int(kind)); err != nil {
			return fmt.Errorf("gojaruntime: failed to bind %s: %w", kind, err)
		}
	}

	bindings := map[string]any{
		"enqueueMicrotask":         e.enqueueMicrotaskBinding,
		"setTickCallback":          e.setTickCallbackBinding,
		"runMicrotasks":            e.runMicrotasksBinding,
		"setPromiseRejectCallback": e.setPromiseRejectCallbackBinding,
		"promiseRejectEvents":      events,
		"setTimeout":               e.setTimeoutBinding,
		"clearTimeout":             e.clearTimeoutBinding,
		"setImmediate":             e.setImmediateBinding,
	}
	for name, value := range bindings {
		if err := vm.Set(name, value); err != nil {
			return fmt.Errorf("gojaruntime: failed to bind %s: %w", name, err)
		}
	}
	return nil
}

// enqueueMicrotask binding: schedules a callback at the next microtask
// checkpoint.
func (e *Env) enqueueMicrotaskBinding(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(e.vm.NewTypeError("enqueueMicrotask requires a function as first argument"))
	}
	e.EnqueueMicrotask(fn)
	return goja.Undefined()
}

// setTickCallback binding: registers the script-level tick-queue drain
// function. Later calls replace the registration.
func (e *Env) setTickCallbackBinding(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(e.vm.NewTypeError("setTickCallback requires a function as first argument"))
	}
	e.tickQueue.setCallback(fn)
	return goja.Undefined()
}

// runMicrotasks binding: forces an immediate microtask checkpoint.
func (e *Env) runMicrotasksBinding(goja.FunctionCall) goja.Value {
	e.PerformMicrotaskCheckpoint()
	return goja.Undefined()
}

// setPromiseRejectCallback binding: registers the script-level rejection
// handler.
func (e *Env) setPromiseRejectCallbackBinding(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(e.vm.NewTypeError("setPromiseRejectCallback requires a function as first argument"))
	}
	e.setPromiseRejectCallback(fn)
	return goja.Undefined()
}

// processOn binding: process.on(event, listener) for lifecycle events.
func (e *Env) processOn(call goja.FunctionCall) goja.Value {
	event := call.Argument(0).String()
	fn, ok := goja.AssertFunction(call.Argument(1))
	if !ok {
		panic(e.vm.NewTypeError("process.on requires a function as second argument"))
	}
	e.On(event, fn)
	return e.process
}

// setTimeout binding for script code.
func (e *Env) setTimeoutBinding(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(e.vm.NewTypeError("setTimeout requires a function as first argument"))
	}
	delayMs := call.Argument(1).ToInteger()
	if delayMs < 0 {
		panic(e.vm.NewTypeError("delay cannot be negative"))
	}

	id, err := e.loop.ScheduleTimer(time.Duration(delayMs)*time.Millisecond, e.scriptCallback(fn))
	if err != nil {
		panic(e.vm.NewGoError(err))
	}
	return e.vm.ToValue(uint64(id))
}

// clearTimeout binding. Unknown IDs are silently ignored, matching timer
// semantics script code expects.
func (e *Env) clearTimeoutBinding(call goja.FunctionCall) goja.Value {
	id := uint64(call.Argument(0).ToInteger())
	_ = e.loop.CancelTimer(TimerID(id))
	return goja.Undefined()
}

// setImmediate binding: schedules a callback on the next loop iteration,
// bypassing the timer heap.
func (e *Env) setImmediateBinding(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(e.vm.NewTypeError("setImmediate requires a function as first argument"))
	}
	if err := e.loop.Submit(Task{Runnable: e.scriptCallback(fn)}); err != nil {
		panic(e.vm.NewGoError(err))
	}
	return goja.Undefined()
}

// scriptCallback wraps a script callable as a loop task: it is skipped once
// script invocation is disabled, runs inside an async callback scope, and
// reports (rather than propagates) exceptions.
func (e *Env) scriptCallback(fn goja.Callable) func() {
	return func() {
		if !e.canCallIntoJS.Load() {
			return
		}
		e.pushAsyncCallbackScope()
		_, err := fn(goja.Undefined())
		e.popAsyncCallbackScope()
		if err != nil {
			e.logger.Err().
				Str("component", "env").
				Err(err).
				Log("scheduled script callback raised an exception")
		}
	}
}
