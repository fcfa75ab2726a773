package gojaruntime

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBootstrap captures every rejection notification as
// {type, value} entries in the events global.
const recordingBootstrap = `'use strict';
var events = [];
setTickCallback(function () {});
setPromiseRejectCallback(function (type, promise, value) {
	events.push({ type: type, value: value });
});
`

func TestRejection_EventKindNames(t *testing.T) {
	assert.Equal(t, "kPromiseRejectWithNoHandler", PromiseRejectWithNoHandler.String())
	assert.Equal(t, "kPromiseHandlerAddedAfterReject", PromiseHandlerAddedAfterReject.String())
	assert.Equal(t, "kPromiseRejectAfterResolved", PromiseRejectAfterResolved.String())
	assert.Equal(t, "kPromiseResolveAfterResolved", PromiseResolveAfterResolved.String())
	assert.Equal(t, "Unknown", PromiseRejectEvent(99).String())
}

func TestRejection_UnhandledRejectionTracked(t *testing.T) {
	env := newTestEnv(t)
	require.Zero(t, env.Bootstrap(DefaultBootstrap))
	vm := env.Runtime()

	beforeUnhandled, _ := RejectionCounters()

	_, err := vm.RunString(`
		process.onUnhandledRejection = function (reason, promise) {
			globalThis.warned = String(reason && reason.message || reason);
		};
		Promise.reject(new Error('boom'));
	`)
	require.NoError(t, err)

	afterUnhandled, _ := RejectionCounters()
	assert.Equal(t, beforeUnhandled+1, afterUnhandled)
	assert.True(t, env.TickQueue().HasRejectionToWarn())

	// The warning is delivered at the next tick drain.
	require.NoError(t, env.RunNextTicksNative())
	assert.Equal(t, "boom", vm.Get("warned").String())
	assert.False(t, env.TickQueue().HasRejectionToWarn())
}

func TestRejection_HandlerAddedWithdrawsWarning(t *testing.T) {
	env := newTestEnv(t)
	require.Zero(t, env.Bootstrap(DefaultBootstrap))
	vm := env.Runtime()

	beforeUnhandled, beforeHandled := RejectionCounters()

	_, err := vm.RunString(`
		globalThis.warned = '';
		process.onUnhandledRejection = function (reason) {
			globalThis.warned = String(reason);
		};
		var p = Promise.reject(1);
		p.catch(function () {});
	`)
	require.NoError(t, err)

	afterUnhandled, afterHandled := RejectionCounters()
	assert.Equal(t, beforeUnhandled+1, afterUnhandled,
		"the original rejection is still counted")
	assert.Equal(t, beforeHandled+1, afterHandled)
	assert.False(t, env.TickQueue().HasRejectionToWarn())

	require.NoError(t, env.RunNextTicksNative())
	assert.Equal(t, "", vm.Get("warned").String(),
		"a rejection handled before the drain is withdrawn")
}

func TestRejection_NotifyForwardsKindAndValue(t *testing.T) {
	env := newTestEnv(t)
	require.Zero(t, env.Bootstrap(recordingBootstrap))
	vm := env.Runtime()

	env.NotifyPromiseRejection(PromiseRejectAfterResolved, goja.Undefined(), vm.ToValue(42))
	env.NotifyPromiseRejection(PromiseResolveAfterResolved, goja.Undefined(), vm.ToValue("v"))

	v, err := vm.RunString(`
		events.length === 2 &&
		events[0].type === promiseRejectEvents.kPromiseRejectAfterResolved &&
		events[0].value === 42 &&
		events[1].type === promiseRejectEvents.kPromiseResolveAfterResolved &&
		events[1].value === 'v'
	`)
	require.NoError(t, err)
	assert.True(t, v.ToBoolean())
}

func TestRejection_HandlerAddedForcesUndefinedValue(t *testing.T) {
	env := newTestEnv(t)
	require.Zero(t, env.Bootstrap(recordingBootstrap))
	vm := env.Runtime()

	env.NotifyPromiseRejection(PromiseHandlerAddedAfterReject, goja.Undefined(), vm.ToValue(9))

	v, err := vm.RunString(`events.length === 1 && events[0].value === undefined`)
	require.NoError(t, err)
	assert.True(t, v.ToBoolean())
}

func TestRejection_UntrackedKindIgnored(t *testing.T) {
	env := newTestEnv(t)
	require.Zero(t, env.Bootstrap(recordingBootstrap))
	vm := env.Runtime()

	env.NotifyPromiseRejection(PromiseRejectEvent(42), goja.Undefined(), goja.Undefined())

	v, err := vm.RunString(`events.length`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.ToInteger())
}

func TestRejection_PanicsWhenCallbackUnregistered(t *testing.T) {
	env := newTestEnv(t)

	require.Panics(t, func() {
		env.NotifyPromiseRejection(PromiseRejectWithNoHandler, goja.Undefined(), goja.Undefined())
	})
}

func TestRejection_ThrowingCallbackNotPropagated(t *testing.T) {
	env := newTestEnv(t)
	require.Zero(t, env.Bootstrap(`'use strict';
		setTickCallback(function () {});
		setPromiseRejectCallback(function () { throw new Error('handler boom'); });
	`))

	before, _ := RejectionCounters()
	env.NotifyPromiseRejection(PromiseRejectWithNoHandler, goja.Undefined(), goja.Undefined())
	after, _ := RejectionCounters()
	assert.Equal(t, before+1, after, "the counter increments even when the callback throws")
}

func TestRejection_NoOpAfterTeardown(t *testing.T) {
	env := newTestEnv(t)
	require.Zero(t, env.Bootstrap(recordingBootstrap))
	vm := env.Runtime()

	env.Teardown()
	before, _ := RejectionCounters()
	env.NotifyPromiseRejection(PromiseRejectWithNoHandler, goja.Undefined(), goja.Undefined())
	after, _ := RejectionCounters()
	assert.Equal(t, before, after)

	// Not callable into script anymore, so nothing was recorded either.
	assert.Equal(t, int64(0), vm.Get("events").ToObject(vm).Get("length").ToInteger())
}

func TestRejection_CountersMonotonic(t *testing.T) {
	env := newTestEnv(t)
	require.Zero(t, env.Bootstrap(recordingBootstrap))

	u0, h0 := RejectionCounters()
	env.NotifyPromiseRejection(PromiseRejectWithNoHandler, goja.Undefined(), goja.Undefined())
	u1, h1 := RejectionCounters()
	env.NotifyPromiseRejection(PromiseHandlerAddedAfterReject, goja.Undefined(), goja.Undefined())
	u2, h2 := RejectionCounters()

	assert.Equal(t, u0+1, u1)
	assert.Equal(t, h0, h1)
	assert.Equal(t, u1, u2)
	assert.Equal(t, h1+1, h2)
}
