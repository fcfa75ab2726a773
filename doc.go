// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package gojaruntime supervises the lifecycle of an embedded Goja JavaScript
// engine instance: it binds one engine instance to one cooperative event loop,
// drives the loop until all scheduled work completes, and implements the
// microtask / deferred-callback ("next tick") scheduling contract, including
// unhandled-promise-rejection tracking, that a scripted standard library
// depends on.
//
// # Architecture
//
// The package is built around a [MainInstance] that owns (or borrows) a
// *goja.Runtime, registers it with a [Platform], and constructs an [Env] for
// the duration of a single [MainInstance.Run] call. The [Env] aggregates:
//
//   - a [Loop]: iteration-driven cooperative event loop (timers, submitted
//     tasks, handle refs), adapted to be driven one pass at a time by the
//     lifecycle manager rather than free-running
//   - a [TickQueue]: two flags shared with script code through an ArrayBuffer,
//     plus the registered script-level tick callback that drains deferred work
//   - a microtask gateway: a native FIFO of engine callables drained by
//     checkpoints, bridging native code and script scheduling
//   - a promise rejection tracker: engine promise-state notifications are
//     counted (process-wide atomic counters) and forwarded to a script-level
//     callback as (kind, promise, value) triples
//
// # Run Sequence
//
// [MainInstance.Run] bootstraps the environment (loop bindings, diagnostics,
// optional inspector hook, then the scripted bootstrap program, which is
// expected to register the tick and rejection callbacks), then repeatedly
// drives the event loop, draining platform background tasks and the tick
// queue between iterations. When the loop runs out of work, before-exit hooks
// run and a "beforeExit" event is emitted, either of which may schedule new
// work and resurrect the loop. Once the loop is finally idle (or stopping),
// an "exit" event is emitted and its result becomes the exit code, after
// which shared teardown always executes.
//
// # Usage
//
//	platform := gojaruntime.NewPlatform()
//	inst, err := gojaruntime.New(platform,
//	    gojaruntime.WithMain(`
//	        process.nextTick(() => { process.exitCode = 0; });
//	    `),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close()
//
//	code, err := inst.Run(context.Background())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.Exit(code)
//
// # Thread Safety
//
// Script execution is single-threaded and cooperative. Entry into the engine
// is serialized by an exclusive lock held for the entire duration of Run; no
// two goroutines execute script code against the same engine instance
// concurrently. The only cross-instance shared state is the pair of
// process-wide rejection counters ([RejectionCounters]), which use lock-free
// atomic increments. [Loop.Submit], [Loop.ScheduleTimer] and [Env.Stop] are
// safe to call from any goroutine.
package gojaruntime
