// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package gojaruntime

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Task is a unit of macrotask work executed on the loop.
type Task struct {
	Runnable func()
}

// TimerID identifies a timer scheduled via [Loop.ScheduleTimer].
type TimerID uint64

// loopTimer is a scheduled task with lazy cancellation.
type loopTimer struct {
	when     time.Time
	task     Task
	id       TimerID
	canceled atomic.Bool
}

// timerHeap is a min-heap of timers, earliest deadline first.
type timerHeap []*loopTimer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*loopTimer))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// maxPollDelay caps how long a single blocking iteration waits when no timer
// is pending.
const maxPollDelay = 10 * time.Second

// Loop is a single-threaded, iteration-based cooperative scheduler.
//
// Unlike a free-running loop, a Loop is driven externally: the lifecycle
// manager calls [Loop.RunOnce] repeatedly while [Loop.Alive] reports pending
// work. Callbacks are never preempted; suspension happens only at iteration
// boundaries.
//
// Work sources, in iteration order:
//  1. Expired timers (earliest deadline first)
//  2. Submitted tasks ([Loop.Submit]), FIFO
//
// [Loop.Ref] / [Loop.Unref] adjust a handle reference count that keeps the
// loop alive independently of queued work, standing in for open handles
// (sockets, watchers) owned by callback code.
type Loop struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	// OnAfterTask, when set, is invoked after every executed macrotask
	// (timer or submitted task). A non-nil error aborts the current
	// iteration and propagates out of RunOnce. The runtime environment wires
	// the tick-queue drain here.
	OnAfterTask func() error

	logger *logiface.Logger[logiface.Event]

	// Guards timers, timersByID, queue, queueBuf.
	mu         sync.Mutex
	timers     timerHeap
	timersByID map[TimerID]*loopTimer
	queue      []Task
	queueBuf   []Task

	timerSeq atomic.Uint64

	// Handle reference count; positive keeps the loop alive.
	refs atomic.Int64

	// Wake-up mechanism
	wake        chan struct{}
	wakePending atomic.Uint32

	// Lifecycle
	terminated atomic.Bool
	iterating  atomic.Bool
	closeOnce  sync.Once
	done       chan struct{}

	tickCount atomic.Uint64
}

// NewLoop creates a new event loop.
func NewLoop(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	return &Loop{
		logger:     cfg.logger,
		timers:     make(timerHeap, 0),
		timersByID: make(map[TimerID]*loopTimer),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}, nil
}

// RunOnce drives a single iteration of the event loop.
//
// If runnable work exists (expired timers or queued tasks), it is executed
// and RunOnce returns. Otherwise, if the loop is alive, RunOnce blocks until
// the next timer expires, [Loop.Wake] is called, ctx is cancelled, or the
// loop is closed. A wake-up returns control to the caller even when no loop
// work became runnable, so the driver can re-evaluate external conditions
// (stop requests, platform task queues) between iterations. If the loop has
// no pending work at all, RunOnce returns immediately.
//
// Errors from [Loop.OnAfterTask] abort the iteration and are returned
// unchanged; they represent engine-level exceptions raised at the native
// call site driving the iteration.
func (l *Loop) RunOnce(ctx context.Context) error {
	if l.terminated.Load() {
		return ErrLoopTerminated
	}
	if !l.iterating.CompareAndSwap(false, true) {
		return ErrLoopBusy
	}
	defer l.iterating.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if l.terminated.Load() {
			return ErrLoopTerminated
		}

		l.tickCount.Add(1)

		ranTimers, err := l.runDueTimers(time.Now())
		if err != nil {
			return err
		}
		ranTasks, err := l.processQueue()
		if err != nil {
			return err
		}
		if ranTimers || ranTasks {
			return nil
		}

		if !l.Alive() {
			return nil
		}

		// Nothing runnable yet; block until something can make progress.
		timeout := l.nextTimerDelay()
		timer := time.NewTimer(timeout)
		select {
		case <-l.wake:
			l.wakePending.Store(0)
			timer.Stop()
			// The driver re-evaluates its continuation conditions before
			// calling back in; the next call picks up whatever work arrived.
			return nil
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-l.done:
			timer.Stop()
			return ErrLoopTerminated
		}
		timer.Stop()
	}
}

// runDueTimers executes all expired timers, earliest first.
func (l *Loop) runDueTimers(now time.Time) (bool, error) {
	ran := false
	for {
		l.mu.Lock()
		if len(l.timers) == 0 || l.timers[0].when.After(now) {
			l.mu.Unlock()
			return ran, nil
		}
		t := heap.Pop(&l.timers).(*loopTimer)
		delete(l.timersByID, t.id)
		l.mu.Unlock()

		if t.canceled.Load() {
			continue
		}
		l.safeExecute(t.task)
		ran = true
		if err := l.afterTask(); err != nil {
			return ran, err
		}
	}
}

// processQueue drains the currently queued submitted tasks.
//
// Tasks submitted while draining are picked up by the next iteration, which
// bounds a single iteration even under a submit-from-callback feedback loop.
func (l *Loop) processQueue() (bool, error) {
	l.mu.Lock()
	if len(l.queue) == 0 {
		l.mu.Unlock()
		return false, nil
	}
	tasks := l.queue
	l.queue = l.queueBuf[:0]
	l.queueBuf = tasks[:0]
	l.mu.Unlock()

	for i, t := range tasks {
		l.safeExecute(t)
		tasks[i] = Task{}
		if err := l.afterTask(); err != nil {
			return true, err
		}
	}
	return true, nil
}

// afterTask invokes the per-macrotask boundary callback, if any.
func (l *Loop) afterTask() error {
	if l.OnAfterTask == nil {
		return nil
	}
	return l.OnAfterTask()
}

// Alive reports whether the loop has pending work: queued tasks, pending
// timers, or a positive handle reference count.
func (l *Loop) Alive() bool {
	if l.refs.Load() > 0 {
		return true
	}
	l.mu.Lock()
	pending := len(l.timers) > 0 || len(l.queue) > 0
	l.mu.Unlock()
	return pending
}

// Submit queues a task for execution on the next loop iteration.
// Safe to call from any goroutine.
func (l *Loop) Submit(task Task) error {
	if l.terminated.Load() {
		return ErrLoopTerminated
	}

	l.mu.Lock()
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	l.Wake()
	return nil
}

// ScheduleTimer schedules a task to be executed after the specified delay.
// Safe to call from any goroutine.
func (l *Loop) ScheduleTimer(delay time.Duration, fn func()) (TimerID, error) {
	if l.terminated.Load() {
		return 0, ErrLoopTerminated
	}
	if delay < 0 {
		delay = 0
	}

	t := &loopTimer{
		when: time.Now().Add(delay),
		task: Task{Runnable: fn},
		id:   TimerID(l.timerSeq.Add(1)),
	}

	l.mu.Lock()
	heap.Push(&l.timers, t)
	l.timersByID[t.id] = t
	l.mu.Unlock()

	l.Wake()
	return t.id, nil
}

// CancelTimer cancels a scheduled timer by its ID.
//
// Returns [ErrTimerNotFound] if the timer ID is invalid or has already
// fired. Safe to call multiple times for the same ID.
func (l *Loop) CancelTimer(id TimerID) error {
	l.mu.Lock()
	t, ok := l.timersByID[id]
	if ok {
		delete(l.timersByID, id)
	}
	l.mu.Unlock()

	if !ok {
		return ErrTimerNotFound
	}
	// Lazy deletion: the heap entry is skipped when it expires.
	t.canceled.Store(true)
	return nil
}

// Ref increments the handle reference count, keeping the loop alive even
// with no queued work.
func (l *Loop) Ref() {
	l.refs.Add(1)
}

// Unref decrements the handle reference count.
func (l *Loop) Unref() {
	l.refs.Add(-1)
}

// Wake breaks a blocking RunOnce wait, if one is in progress.
// Wake-ups are deduplicated; redundant calls are cheap.
func (l *Loop) Wake() {
	if l.wakePending.CompareAndSwap(0, 1) {
		select {
		case l.wake <- struct{}{}:
		default:
			l.wakePending.Store(0)
		}
	}
}

// TickCount returns the number of iterations started so far.
func (l *Loop) TickCount() uint64 {
	return l.tickCount.Load()
}

// Close terminates the loop. Pending timers and tasks are discarded; any
// blocked RunOnce returns [ErrLoopTerminated].
func (l *Loop) Close() error {
	if l.terminated.Swap(true) {
		return ErrLoopTerminated
	}
	l.closeOnce.Do(func() {
		close(l.done)
	})

	l.mu.Lock()
	l.timers = l.timers[:0]
	for id := range l.timersByID {
		delete(l.timersByID, id)
	}
	l.queue = nil
	l.mu.Unlock()
	return nil
}

// safeExecute executes a task with panic recovery.
func (l *Loop) safeExecute(t Task) {
	if t.Runnable == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.Err().
				Str("component", "loop").
				Any("panic", r).
				Log("task panicked")
		}
	}()

	t.Runnable()
}

// nextTimerDelay computes how long a blocking iteration may wait.
func (l *Loop) nextTimerDelay() time.Duration {
	maxDelay := maxPollDelay

	l.mu.Lock()
	if len(l.timers) > 0 {
		delay := time.Until(l.timers[0].when)
		if delay < 0 {
			delay = 0
		}
		if delay < maxDelay {
			maxDelay = delay
		}
	}
	l.mu.Unlock()

	// Ceiling rounding keeps sub-millisecond timers from busy-spinning.
	if maxDelay > 0 && maxDelay < time.Millisecond {
		maxDelay = time.Millisecond
	}
	return maxDelay
}
