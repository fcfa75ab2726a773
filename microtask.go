// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package gojaruntime

import (
	"github.com/dop251/goja"
)

// microtask is a deferred callback executed at a checkpoint, ahead of
// macro-level event-loop work. An error is an engine-level exception raised
// by the callback.
type microtask func() error

// microtaskQueue bridges native code and script-level scheduling.
//
// The queue is owned by a single [Env] and mutated only under that
// environment's execution lock; it is not safe for concurrent use.
type microtaskQueue struct {
	tasks    []microtask
	draining bool
}

// push appends a microtask. It runs at the next checkpoint, in FIFO order.
func (q *microtaskQueue) push(fn microtask) {
	q.tasks = append(q.tasks, fn)
}

// empty reports whether no microtasks are queued.
func (q *microtaskQueue) empty() bool {
	return len(q.tasks) == 0
}

// EnqueueMicrotask schedules a script callable to run at the engine's next
// microtask checkpoint. Each queued callable runs exactly once, in the order
// enqueued.
func (e *Env) EnqueueMicrotask(fn goja.Callable) {
	if fn == nil {
		panic("gojaruntime: enqueueMicrotask requires a callable")
	}
	e.microtasks.push(func() error {
		_, err := fn(goja.Undefined())
		return err
	})
}

// EnqueueMicrotaskFunc schedules a native callback at the next microtask
// checkpoint. Used by embedder code that needs microtask-ordered execution
// without a script callable.
func (e *Env) EnqueueMicrotaskFunc(fn func()) {
	if fn == nil {
		return
	}
	e.microtasks.push(func() error {
		fn()
		return nil
	})
}

// PerformMicrotaskCheckpoint forces an immediate microtask checkpoint,
// regardless of tick-queue flag state.
//
// The checkpoint keeps draining until the queue is empty: a microtask may
// enqueue further microtasks, and those run within the same checkpoint. The
// drain is engine-synchronous and non-reentrant; a checkpoint triggered
// while one is already draining returns immediately (checkpoints are only
// triggered from well-defined points, never from within microtask
// execution).
//
// An exception raised by a microtask does not stop the drain; it is reported
// through the environment's logger, matching engine semantics where
// microtask exceptions are delivered to the message listener rather than
// propagated.
func (e *Env) PerformMicrotaskCheckpoint() {
	q := &e.microtasks
	if q.draining {
		return
	}
	q.draining = true
	defer func() { q.draining = false }()

	for len(q.tasks) > 0 {
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		if err := fn(); err != nil {
			e.logger.Err().
				Str("component", "microtask").
				Err(err).
				Log("microtask raised an exception")
		}
	}
	// Reset capacity once fully drained so a burst does not pin memory.
	q.tasks = nil
}
