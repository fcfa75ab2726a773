package gojaruntime

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlatform_PostRequiresRegistration(t *testing.T) {
	p := NewPlatform()
	vm := goja.New()

	err := p.PostTask(vm, func() {})
	assert.ErrorIs(t, err, ErrInstanceNotRegistered)

	p.RegisterInstance(vm, nil)
	assert.True(t, p.Registered(vm))
	require.NoError(t, p.PostTask(vm, func() {}))
	assert.Equal(t, 1, p.PendingTasks(vm))

	p.UnregisterInstance(vm)
	assert.False(t, p.Registered(vm))
	assert.Zero(t, p.PendingTasks(vm))
	assert.ErrorIs(t, p.PostTask(vm, func() {}), ErrInstanceNotRegistered)
}

func TestPlatform_DrainRunsTasksInOrder(t *testing.T) {
	p := NewPlatform()
	vm := goja.New()
	p.RegisterInstance(vm, nil)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		require.NoError(t, p.PostTask(vm, func() { order = append(order, i) }))
	}

	p.DrainTasks(vm)
	assert.Equal(t, []int{0, 1, 2}, order)
	assert.Zero(t, p.PendingTasks(vm))
}

func TestPlatform_DrainIncludesRepostedTasks(t *testing.T) {
	p := NewPlatform()
	vm := goja.New()
	p.RegisterInstance(vm, nil)

	var order []string
	require.NoError(t, p.PostTask(vm, func() {
		order = append(order, "first")
		_ = p.PostTask(vm, func() { order = append(order, "second") })
	}))

	p.DrainTasks(vm)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestPlatform_CancelDiscardsWithoutRunning(t *testing.T) {
	p := NewPlatform()
	vm := goja.New()
	p.RegisterInstance(vm, nil)

	ran := false
	require.NoError(t, p.PostTask(vm, func() { ran = true }))

	p.CancelTasks(vm)
	p.DrainTasks(vm)
	assert.False(t, ran)
}

func TestPlatform_NilTaskIgnored(t *testing.T) {
	p := NewPlatform()
	vm := goja.New()
	p.RegisterInstance(vm, nil)

	require.NoError(t, p.PostTask(vm, nil))
	assert.Zero(t, p.PendingTasks(vm))
}

func TestPlatform_IndependentInstanceQueues(t *testing.T) {
	p := NewPlatform()
	vm1 := goja.New()
	vm2 := goja.New()
	p.RegisterInstance(vm1, nil)
	p.RegisterInstance(vm2, nil)

	ran1, ran2 := false, false
	require.NoError(t, p.PostTask(vm1, func() { ran1 = true }))
	require.NoError(t, p.PostTask(vm2, func() { ran2 = true }))

	p.DrainTasks(vm1)
	assert.True(t, ran1)
	assert.False(t, ran2)
	assert.Equal(t, 1, p.PendingTasks(vm2))
}

func TestPlatform_PostWakesLoop(t *testing.T) {
	p := NewPlatform()
	vm := goja.New()
	loop, err := NewLoop()
	require.NoError(t, err)
	defer loop.Close()
	p.RegisterInstance(vm, loop)

	require.NoError(t, p.PostTask(vm, func() {}))
	// The wake token is pending; a blocking iteration consumes it and
	// returns control so the driver can drain platform tasks.
	assert.Equal(t, uint32(1), loop.wakePending.Load())
}
