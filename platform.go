// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package gojaruntime

import (
	"sync"

	"github.com/dop251/goja"
)

// Platform is the process-level scheduling registry for engine instances.
//
// Each registered instance gets a background task queue for work scheduled
// by native code on behalf of the engine (analogous to engine-internal
// background jobs). The lifecycle manager drains these tasks between event
// loop iterations and cancels any leftovers during teardown.
//
// A single Platform may serve multiple engine instances; all methods are
// safe for concurrent use.
type Platform struct {
	mu        sync.Mutex
	instances map[*goja.Runtime]*platformEntry
}

type platformEntry struct {
	loop  *Loop
	tasks []func()
}

// NewPlatform creates an empty scheduling platform.
func NewPlatform() *Platform {
	return &Platform{
		instances: make(map[*goja.Runtime]*platformEntry),
	}
}

// RegisterInstance registers an engine instance and its event loop with the
// platform. Registration happens before the instance executes any script so
// background tasks can be posted during initialization.
func (p *Platform) RegisterInstance(vm *goja.Runtime, loop *Loop) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instances[vm] = &platformEntry{loop: loop}
}

// UnregisterInstance removes an engine instance from the platform,
// discarding any tasks still pending for it.
func (p *Platform) UnregisterInstance(vm *goja.Runtime) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.instances, vm)
}

// Registered reports whether the engine instance is registered.
func (p *Platform) Registered(vm *goja.Runtime) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.instances[vm]
	return ok
}

// PostTask schedules a background task tied to the given engine instance.
// The task runs on the next [Platform.DrainTasks] call for that instance.
func (p *Platform) PostTask(vm *goja.Runtime, fn func()) error {
	if fn == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.instances[vm]
	if !ok {
		return ErrInstanceNotRegistered
	}
	entry.tasks = append(entry.tasks, fn)
	if entry.loop != nil {
		entry.loop.Wake()
	}
	return nil
}

// DrainTasks runs all background tasks pending for the given engine
// instance, including tasks posted while draining. Unregistered instances
// are a no-op.
func (p *Platform) DrainTasks(vm *goja.Runtime) {
	for {
		p.mu.Lock()
		entry, ok := p.instances[vm]
		if !ok || len(entry.tasks) == 0 {
			p.mu.Unlock()
			return
		}
		tasks := entry.tasks
		entry.tasks = nil
		p.mu.Unlock()

		for _, fn := range tasks {
			fn()
		}
	}
}

// CancelTasks discards all background tasks pending for the given engine
// instance without running them.
func (p *Platform) CancelTasks(vm *goja.Runtime) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.instances[vm]; ok {
		entry.tasks = nil
	}
}

// PendingTasks returns the number of background tasks queued for the given
// engine instance.
func (p *Platform) PendingTasks(vm *goja.Runtime) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.instances[vm]; ok {
		return len(entry.tasks)
	}
	return 0
}
