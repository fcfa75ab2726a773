// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package gojaruntime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/joeycumines/logiface"
)

// MainInstance manages the lifecycle of one engine instance: creation (or
// attachment), the top-level event-loop drive sequence, lifecycle event
// emission, and teardown.
//
// An instance is in one of two ownership modes:
//
//   - owning: [New] allocated the engine instance; [MainInstance.Close]
//     disposes it and unregisters it from the platform, exactly once.
//   - borrowing: the engine instance was supplied to [Attach] and is never
//     disposed by this package; [MainInstance.Dispose] only drains pending
//     platform tasks before releasing the manager.
//
// Calling the owning-mode disposal path while in borrowing mode (or vice
// versa) is a contract violation and panics.
type MainInstance struct {
	vm       *goja.Runtime
	loop     *Loop
	platform *Platform
	logger   *logiface.Logger[logiface.Event]

	cfg *instanceOptions

	ownsVM bool

	state *instanceStateMachine
	env   atomic.Pointer[Env]

	// Exclusive execution lock: entry into engine execution is held for the
	// entire duration of Run.
	execMu sync.Mutex

	closeOnce sync.Once
}

// New creates a MainInstance in owning mode: it allocates the engine
// instance and its event loop, and registers the instance with the platform.
// The caller must eventually call [MainInstance.Close].
func New(platform *Platform, opts ...Option) (*MainInstance, error) {
	if platform == nil {
		return nil, errors.New("gojaruntime: platform cannot be nil")
	}
	cfg, err := resolveInstanceOptions(opts)
	if err != nil {
		return nil, err
	}

	loop, err := NewLoop(WithLoopLogger(cfg.logger))
	if err != nil {
		return nil, err
	}

	vm := goja.New()
	platform.RegisterInstance(vm, loop)

	return &MainInstance{
		vm:       vm,
		loop:     loop,
		platform: platform,
		logger:   cfg.logger,
		cfg:      cfg,
		ownsVM:   true,
		state:    newInstanceStateMachine(),
	}, nil
}

// Attach creates a MainInstance in borrowing mode around an externally-owned
// engine instance and event loop. The engine instance is never disposed by
// this package; the caller must eventually call [MainInstance.Dispose].
func Attach(vm *goja.Runtime, loop *Loop, platform *Platform, opts ...Option) (*MainInstance, error) {
	if vm == nil {
		return nil, errors.New("gojaruntime: engine instance cannot be nil")
	}
	if loop == nil {
		return nil, errors.New("gojaruntime: event loop cannot be nil")
	}
	if platform == nil {
		return nil, errors.New("gojaruntime: platform cannot be nil")
	}
	cfg, err := resolveInstanceOptions(opts)
	if err != nil {
		return nil, err
	}

	if !platform.Registered(vm) {
		platform.RegisterInstance(vm, loop)
	}

	return &MainInstance{
		vm:       vm,
		loop:     loop,
		platform: platform,
		logger:   cfg.logger,
		cfg:      cfg,
		ownsVM:   false,
		state:    newInstanceStateMachine(),
	}, nil
}

// Runtime returns the managed engine instance.
func (m *MainInstance) Runtime() *goja.Runtime {
	return m.vm
}

// Loop returns the managed event loop.
func (m *MainInstance) Loop() *Loop {
	return m.loop
}

// State returns the current lifecycle state.
func (m *MainInstance) State() InstanceState {
	return m.state.Load()
}

// Env returns the runtime environment for the current (or most recent) Run
// call, or nil if Run has not been called.
func (m *MainInstance) Env() *Env {
	return m.env.Load()
}

// OwnsEngine reports whether the instance is in owning mode.
func (m *MainInstance) OwnsEngine() bool {
	return m.ownsVM
}

// Run executes the top-level lifecycle: it constructs the runtime
// environment, bootstraps it, drives the event loop until all scheduled work
// completes (or stopping is requested), emits the "beforeExit" and "exit"
// lifecycle events, runs shared teardown, and returns the final exit code.
//
// Run blocks the calling goroutine; a concurrent Run on the same instance
// fails with [ErrRunInProgress]. The returned error is non-nil only for
// engine-level failures while driving the loop (a failing tick callback, or
// ctx cancellation); the exit code is valid either way, and teardown has
// always completed by the time Run returns.
func (m *MainInstance) Run(ctx context.Context) (int, error) {
	if !m.execMu.TryLock() {
		return 0, ErrRunInProgress
	}
	defer m.execMu.Unlock()

	if !m.state.TryTransition(StateCreated, StateBootstrapping) {
		return 0, ErrInstanceTerminated
	}

	env, err := NewEnv(m.vm, m.loop, m.platform,
		EnvIsMainThread|EnvOwnsProcessState|EnvOwnsInspector,
		WithEnvLogger(m.logger))
	if err != nil {
		m.state.Store(StateTerminated)
		return exitCodeBootstrapFailure, err
	}
	m.env.Store(env)

	exitCode := env.bootstrapWith(m.cfg.bootstrap, m.cfg.inspector)

	var runErr error
	if exitCode == 0 {
		exitCode, runErr = m.runLoaded(ctx, env)
	} else {
		m.state.Store(StateBootstrapFailed)
	}

	m.state.Store(StateTeardown)
	env.Teardown()
	m.platform.DrainTasks(m.vm)
	m.platform.CancelTasks(m.vm)
	m.state.Store(StateTerminated)

	m.logger.Info().
		Str("component", "instance").
		Int("exitCode", exitCode).
		Log("run complete")

	return exitCode, runErr
}

// runLoaded executes the post-bootstrap phase: entry script, the loop drive
// sequence, and the exit event. Only reached when bootstrap succeeded.
func (m *MainInstance) runLoaded(ctx context.Context, env *Env) (int, error) {
	if m.cfg.main != "" {
		env.pushAsyncCallbackScope()
		_, err := m.vm.RunScript("main", m.cfg.main)
		env.popAsyncCallbackScope()
		if err != nil {
			env.logger.Err().
				Str("component", "instance").
				Err(err).
				Log("entry script raised an uncaught exception")
			m.state.Store(StateBootstrapFailed)
			return exitCodeBootstrapFailure, nil
		}
	}

	// Deferred work queued synchronously by bootstrap or the entry script
	// runs before the first loop iteration.
	if err := env.RunNextTicksNative(); err != nil {
		m.state.Store(StateBootstrapFailed)
		return exitCodeBootstrapFailure, err
	}

	m.state.Store(StateLoopRunning)
	runErr := m.driveLoop(ctx, env)

	env.SetTraceSyncIO(false)
	m.state.Store(StateExitEmitted)
	exitCode := env.EmitExit()

	if m.cfg.inspectorWait != nil {
		m.cfg.inspectorWait()
	}
	return exitCode, runErr
}

// driveLoop is the loop-running state machine: it drives event-loop
// iterations while work is pending, then gives before-exit hooks and the
// "beforeExit" event a chance to schedule more. Both the post-hook and
// post-event liveness checks are independent re-entry points into the
// running phase.
func (m *MainInstance) driveLoop(ctx context.Context, env *Env) error {
	for {
		for env.loop.Alive() && !env.IsStopping() {
			if err := env.loop.RunOnce(ctx); err != nil {
				return err
			}
			m.platform.DrainTasks(m.vm)
			if err := env.RunNextTicksNative(); err != nil {
				return err
			}
		}
		if env.IsStopping() {
			return nil
		}

		m.state.Store(StateBeforeExitCheck)
		env.RunBeforeExitHooks()

		if !env.loop.Alive() {
			if err := env.EmitBeforeExit(); err != nil {
				return err
			}
		}

		// The loop may have come alive either from the hooks or from the
		// emitted event.
		if env.loop.Alive() && !env.IsStopping() {
			m.state.Store(StateLoopRunning)
			continue
		}
		return nil
	}
}

// Stop requests prompt termination of an in-progress Run. Safe to call from
// any goroutine; a no-op if Run has not created an environment yet.
func (m *MainInstance) Stop() {
	if env := m.env.Load(); env != nil {
		env.Stop()
	}
}

// Dispose releases a borrowing-mode instance: pending platform tasks for the
// engine instance are drained, but the instance itself is never disposed.
//
// Calling Dispose on an owning-mode instance is a contract violation and
// panics; use [MainInstance.Close] instead.
func (m *MainInstance) Dispose() {
	if m.ownsVM {
		panic("gojaruntime: Dispose called on an owning-mode instance")
	}
	m.platform.DrainTasks(m.vm)
}

// Close releases an owning-mode instance: the engine instance is
// unregistered from the platform and its loop closed, exactly once.
//
// Calling Close on a borrowing-mode instance is a contract violation and
// panics; use [MainInstance.Dispose] instead.
func (m *MainInstance) Close() error {
	if !m.ownsVM {
		panic("gojaruntime: Close called on a borrowing-mode instance")
	}
	m.closeOnce.Do(func() {
		m.platform.UnregisterInstance(m.vm)
		_ = m.loop.Close()
	})
	return nil
}
