// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package gojaruntime

import (
	"errors"
	"os"
	"reflect"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/joeycumines/logiface"
)

// EnvFlags describe the role and ownership of a [Env] within the process.
type EnvFlags uint32

const (
	// EnvIsMainThread marks the environment as the main execution unit.
	EnvIsMainThread EnvFlags = 1 << iota
	// EnvOwnsProcessState marks the environment as owning process-wide
	// script state (the process receiver and its exit code).
	EnvOwnsProcessState
	// EnvOwnsInspector marks the environment as owning the optional
	// debugging/inspection subsystem.
	EnvOwnsInspector
)

// envOptions holds configuration options for Env creation.
type envOptions struct {
	logger *logiface.Logger[logiface.Event]
}

// EnvOption configures an [Env].
type EnvOption interface {
	applyEnv(*envOptions) error
}

type envOptionImpl struct {
	applyEnvFunc func(*envOptions) error
}

func (o *envOptionImpl) applyEnv(opts *envOptions) error {
	return o.applyEnvFunc(opts)
}

// WithEnvLogger attaches a structured logger to the environment. A nil
// logger is valid and disables logging.
func WithEnvLogger(logger *logiface.Logger[logiface.Event]) EnvOption {
	return &envOptionImpl{func(opts *envOptions) error {
		opts.logger = logger
		return nil
	}}
}

// Env is the per-execution-unit runtime environment: it binds one engine
// instance, one event loop, the tick queue, the microtask gateway and the
// promise rejection tracker, and owns bootstrap and teardown sequencing.
//
// An Env is created once per top-level execution and destroyed after full
// teardown completes. All of its state except the process-wide rejection
// counters is owned exclusively by the environment and mutated only by code
// executing under the instance's execution lock.
type Env struct {
	vm       *goja.Runtime
	loop     *Loop
	platform *Platform
	logger   *logiface.Logger[logiface.Event]

	flags EnvFlags

	stopping      atomic.Bool
	canCallIntoJS atomic.Bool

	// Depth of nested native-to-script callback scopes.
	asyncCallbackDepth int64

	tickQueue  *TickQueue
	microtasks microtaskQueue

	promiseRejectCallback goja.Callable

	// Script-facing process receiver and its lifecycle event listeners.
	process   *goja.Object
	listeners map[string][]goja.Callable

	cleanupHooks    []func()
	atExitHooks     []func()
	beforeExitHooks []func()

	// Nested execution contexts owned by this environment.
	subEnvs []*Env

	traceSyncIO bool
}

// NewEnv constructs a runtime environment binding the given engine instance,
// event loop and platform. The rejection tracker is installed immediately;
// script bindings are registered by [Env.Bootstrap].
func NewEnv(vm *goja.Runtime, loop *Loop, platform *Platform, flags EnvFlags, opts ...EnvOption) (*Env, error) {
	if vm == nil {
		return nil, errors.New("gojaruntime: engine instance cannot be nil")
	}
	if loop == nil {
		return nil, errors.New("gojaruntime: event loop cannot be nil")
	}
	if platform == nil {
		return nil, errors.New("gojaruntime: platform cannot be nil")
	}

	cfg := &envOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyEnv(cfg); err != nil {
			return nil, err
		}
	}

	e := &Env{
		vm:        vm,
		loop:      loop,
		platform:  platform,
		logger:    cfg.logger,
		flags:     flags,
		tickQueue: newTickQueue(),
		listeners: make(map[string][]goja.Callable),
	}
	e.canCallIntoJS.Store(true)
	e.installRejectionTracker()

	// Drain the tick queue after every macrotask executed on the loop, so
	// deferred script work observes the same ordering as engine-internal
	// callback scopes.
	loop.OnAfterTask = e.RunNextTicksNative

	return e, nil
}

// Runtime returns the bound engine instance.
func (e *Env) Runtime() *goja.Runtime {
	return e.vm
}

// Loop returns the bound event loop.
func (e *Env) Loop() *Loop {
	return e.loop
}

// TickQueue returns the environment's tick queue.
func (e *Env) TickQueue() *TickQueue {
	return e.tickQueue
}

// IsMainThread reports whether this environment is the main execution unit.
func (e *Env) IsMainThread() bool {
	return e.flags&EnvIsMainThread != 0
}

// Process returns the script-facing process receiver. Nil before bootstrap.
func (e *Env) Process() *goja.Object {
	return e.process
}

// Exit codes forced by bootstrap-phase failures.
const (
	exitCodeBootstrapFailure = 1
	exitCodeInspectorFailure = 12
)

// Bootstrap runs the environment bootstrap sequence: loop bindings,
// diagnostics, then the bootstrap program, which is expected to call
// setTickCallback and setPromiseRejectCallback during its own execution.
//
// Returns 0 on success, or a non-zero exit code if bootstrap evaluation
// raised an uncaught exception (the run-loop phase must then be skipped,
// falling through directly to shared teardown).
func (e *Env) Bootstrap(src string) int {
	return e.bootstrapWith(src, nil)
}

func (e *Env) bootstrapWith(src string, inspector func(*Env) error) int {
	if err := e.initializeBindings(); err != nil {
		e.logger.Err().
			Str("component", "env").
			Err(err).
			Log("loop binding initialization failed")
		return exitCodeBootstrapFailure
	}
	e.initializeDiagnostics()

	if inspector != nil {
		if err := inspector(e); err != nil {
			e.logger.Err().
				Str("component", "env").
				Err(err).
				Log("inspector initialization failed")
			return exitCodeInspectorFailure
		}
	}

	if _, err := e.vm.RunScript("bootstrap", src); err != nil {
		e.logger.Err().
			Str("component", "env").
			Err(err).
			Log("bootstrap evaluation raised an uncaught exception")
		return exitCodeBootstrapFailure
	}
	return 0
}

// initializeDiagnostics sets up the diagnostics subsystem for environments
// that own one. Currently reporting only.
func (e *Env) initializeDiagnostics() {
	if e.flags&EnvOwnsInspector == 0 {
		return
	}
	e.logger.Debug().
		Str("component", "env").
		Bool("mainThread", e.IsMainThread()).
		Log("diagnostics initialized")
}

// pushAsyncCallbackScope records entry into a native-to-script callback.
func (e *Env) pushAsyncCallbackScope() {
	e.asyncCallbackDepth++
}

// popAsyncCallbackScope records exit from a native-to-script callback.
func (e *Env) popAsyncCallbackScope() {
	e.asyncCallbackDepth--
}

// AsyncCallbackDepth returns the current native-to-script callback nesting
// depth.
func (e *Env) AsyncCallbackDepth() int64 {
	return e.asyncCallbackDepth
}

// Stop requests prompt termination of the run loop. The loop exits at its
// next continuation decision point without draining further iterations;
// shared teardown still executes. Safe to call from any goroutine.
func (e *Env) Stop() {
	if !e.stopping.Swap(true) {
		e.loop.Wake()
	}
}

// IsStopping reports whether lifecycle termination has been requested.
func (e *Env) IsStopping() bool {
	return e.stopping.Load()
}

// CanCallIntoJS reports whether script invocation is still enabled.
// Disabled permanently once teardown begins.
func (e *Env) CanCallIntoJS() bool {
	return e.canCallIntoJS.Load()
}

// SetTraceSyncIO toggles synchronous-I/O tracing for callbacks that want to
// flag blocking calls while the loop is live.
func (e *Env) SetTraceSyncIO(v bool) {
	e.traceSyncIO = v
}

// AddCleanupHook registers a hook run during teardown, before at-exit hooks.
// Hooks run in reverse registration order.
func (e *Env) AddCleanupHook(fn func()) {
	if fn != nil {
		e.cleanupHooks = append(e.cleanupHooks, fn)
	}
}

// AddAtExitHook registers a hook run at the end of teardown, after cleanup
// hooks. Hooks run in reverse registration order.
func (e *Env) AddAtExitHook(fn func()) {
	if fn != nil {
		e.atExitHooks = append(e.atExitHooks, fn)
	}
}

// AddBeforeExitHook registers a native hook run when the event loop runs out
// of work, before the "beforeExit" event is emitted to script. Hooks may
// schedule new work to keep the loop alive.
func (e *Env) AddBeforeExitHook(fn func()) {
	if fn != nil {
		e.beforeExitHooks = append(e.beforeExitHooks, fn)
	}
}

// RunBeforeExitHooks runs the registered native before-exit hooks in
// registration order.
func (e *Env) RunBeforeExitHooks() {
	for _, fn := range e.beforeExitHooks {
		fn()
	}
}

// AddSubEnvironment attaches a nested execution context owned by this
// environment. Owned contexts are stopped during teardown.
func (e *Env) AddSubEnvironment(sub *Env) {
	if sub != nil {
		e.subEnvs = append(e.subEnvs, sub)
	}
}

// stopSubEnvironments requests termination of all owned nested contexts.
func (e *Env) stopSubEnvironments() {
	for _, sub := range e.subEnvs {
		sub.Stop()
	}
}

// On registers a script callable for a lifecycle event ("beforeExit",
// "exit"). Exposed to script as process.on.
func (e *Env) On(event string, fn goja.Callable) {
	if fn == nil {
		return
	}
	e.listeners[event] = append(e.listeners[event], fn)
}

// emitProcessEvent invokes the listeners registered for the event, on the
// process receiver, returning the last listener's return value (undefined
// when there are no listeners). Listener exceptions are reported, not
// propagated.
func (e *Env) emitProcessEvent(event string, args ...goja.Value) goja.Value {
	result := goja.Value(goja.Undefined())
	if !e.canCallIntoJS.Load() {
		return result
	}
	for _, fn := range e.listeners[event] {
		e.pushAsyncCallbackScope()
		ret, err := fn(e.process, args...)
		e.popAsyncCallbackScope()
		if err != nil {
			e.logger.Err().
				Str("component", "env").
				Str("event", event).
				Err(err).
				Log("lifecycle event listener raised an exception")
			continue
		}
		if ret != nil {
			result = ret
		}
	}
	return result
}

// EmitBeforeExit emits the "beforeExit" lifecycle event to the script layer,
// passing the current exit code. Listeners may register new timers or
// handles to resurrect the loop. Deferred work queued by the listeners is
// drained before returning, so that a follow-up liveness check observes any
// macrotasks it scheduled.
func (e *Env) EmitBeforeExit() error {
	e.emitProcessEvent("beforeExit", e.vm.ToValue(e.scriptExitCode(0)))
	return e.RunNextTicksNative()
}

// EmitExit emits the "exit" lifecycle event and returns the final exit code:
// the last exit listener's numeric return value, if any, otherwise the
// script-visible process.exitCode, otherwise 0.
func (e *Env) EmitExit() int {
	code := e.scriptExitCode(0)
	ret := e.emitProcessEvent("exit", e.vm.ToValue(code))
	if n, ok := exportInt(ret); ok {
		return n
	}
	return e.scriptExitCode(code)
}

// scriptExitCode reads the script-visible process.exitCode, or fallback if
// it is unset or not a number.
func (e *Env) scriptExitCode(fallback int) int {
	if e.process == nil {
		return fallback
	}
	v := e.process.Get("exitCode")
	if n, ok := exportInt(v); ok {
		return n
	}
	return fallback
}

// exportInt extracts an integer from a script value, rejecting
// null/undefined and non-numeric values.
func exportInt(v goja.Value) (int, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0, false
	}
	t := v.ExportType()
	if t == nil {
		return 0, false
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return int(v.ToInteger()), true
	}
	return 0, false
}

// Teardown runs the shared teardown sequence. It always executes, regardless
// of bootstrap outcome: script invocation is disabled, nested execution
// contexts are stopped, standard I/O state is reset, cleanup hooks run, then
// at-exit hooks, and finally any outstanding engine-scheduled background
// tasks are drained and cancelled.
func (e *Env) Teardown() {
	e.canCallIntoJS.Store(false)
	e.stopSubEnvironments()
	e.resetStdio()

	for i := len(e.cleanupHooks) - 1; i >= 0; i-- {
		e.cleanupHooks[i]()
	}
	e.cleanupHooks = nil

	for i := len(e.atExitHooks) - 1; i >= 0; i-- {
		e.atExitHooks[i]()
	}
	e.atExitHooks = nil

	e.platform.DrainTasks(e.vm)
	e.platform.CancelTasks(e.vm)

	e.logger.Debug().
		Str("component", "env").
		Log("teardown complete")
}

// resetStdio flushes process standard I/O state.
func (e *Env) resetStdio() {
	_ = os.Stdout.Sync()
	_ = os.Stderr.Sync()
}
