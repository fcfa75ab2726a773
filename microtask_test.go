package gojaruntime

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestEnv creates an environment over a fresh engine instance, loop and
// platform. Bootstrap is NOT run; tests that need script bindings call
// env.Bootstrap themselves.
func newTestEnv(t *testing.T) *Env {
	t.Helper()

	loop, err := NewLoop()
	require.NoError(t, err)
	t.Cleanup(func() { _ = loop.Close() })

	vm := goja.New()
	platform := NewPlatform()
	platform.RegisterInstance(vm, loop)

	env, err := NewEnv(vm, loop, platform, EnvIsMainThread|EnvOwnsProcessState)
	require.NoError(t, err)
	return env
}

// minimalBootstrap registers no-op tick and rejection callbacks, satisfying
// the bootstrap contract without the deferred-callback machinery.
const minimalBootstrap = `'use strict';
setTickCallback(function () {});
setPromiseRejectCallback(function () {});
`

func TestMicrotask_FIFOExactlyOnce(t *testing.T) {
	env := newTestEnv(t)

	var order []int
	for i := 0; i < 4; i++ {
		i := i
		env.EnqueueMicrotaskFunc(func() { order = append(order, i) })
	}

	env.PerformMicrotaskCheckpoint()
	assert.Equal(t, []int{0, 1, 2, 3}, order)

	// A second checkpoint must not re-run anything.
	env.PerformMicrotaskCheckpoint()
	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestMicrotask_DrainsNestedEnqueues(t *testing.T) {
	env := newTestEnv(t)

	var order []string
	env.EnqueueMicrotaskFunc(func() {
		order = append(order, "outer")
		env.EnqueueMicrotaskFunc(func() {
			order = append(order, "inner")
		})
	})

	// Microtasks enqueued by a microtask run within the same checkpoint.
	env.PerformMicrotaskCheckpoint()
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestMicrotask_CheckpointNonReentrant(t *testing.T) {
	env := newTestEnv(t)

	var order []string
	env.EnqueueMicrotaskFunc(func() {
		order = append(order, "first")
		// Reentrant checkpoint must return immediately without draining.
		env.PerformMicrotaskCheckpoint()
		env.EnqueueMicrotaskFunc(func() { order = append(order, "second") })
	})

	env.PerformMicrotaskCheckpoint()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestMicrotask_EnqueueNilCallablePanics(t *testing.T) {
	env := newTestEnv(t)
	require.Panics(t, func() { env.EnqueueMicrotask(nil) })
}

func TestMicrotask_EnqueueNilFuncIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.EnqueueMicrotaskFunc(nil)
	env.PerformMicrotaskCheckpoint()
}

func TestMicrotask_ScriptEnqueueAndForcedCheckpoint(t *testing.T) {
	env := newTestEnv(t)
	require.Zero(t, env.Bootstrap(minimalBootstrap))

	vm := env.Runtime()
	_, err := vm.RunString(`
		var order = [];
		enqueueMicrotask(function () { order.push('a'); });
		enqueueMicrotask(function () { order.push('b'); });
		var before = order.length;
		runMicrotasks();
		var after = order.join(',');
	`)
	require.NoError(t, err)

	assert.Equal(t, int64(0), vm.Get("before").ToInteger(),
		"microtasks must not run before the checkpoint")
	assert.Equal(t, "a,b", vm.Get("after").String())
}

func TestMicrotask_ScriptExceptionDoesNotStopDrain(t *testing.T) {
	env := newTestEnv(t)
	require.Zero(t, env.Bootstrap(minimalBootstrap))

	vm := env.Runtime()
	_, err := vm.RunString(`
		var ran = false;
		enqueueMicrotask(function () { throw new Error('boom'); });
		enqueueMicrotask(function () { ran = true; });
	`)
	require.NoError(t, err)

	env.PerformMicrotaskCheckpoint()
	assert.True(t, vm.Get("ran").ToBoolean(),
		"a throwing microtask must not prevent later ones")
}
