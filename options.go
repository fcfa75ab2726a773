// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package gojaruntime

import (
	"github.com/joeycumines/logiface"
)

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger *logiface.Logger[logiface.Event]
}

// LoopOption configures a [Loop] instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLoopLogger attaches a structured logger to the loop. A nil logger is
// valid and disables logging.
func WithLoopLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// instanceOptions holds configuration options for MainInstance creation.
type instanceOptions struct {
	logger        *logiface.Logger[logiface.Event]
	bootstrap     string
	main          string
	inspector     func(*Env) error
	inspectorWait func()
}

// Option configures a [MainInstance].
type Option interface {
	applyInstance(*instanceOptions) error
}

type optionImpl struct {
	applyInstanceFunc func(*instanceOptions) error
}

func (o *optionImpl) applyInstance(opts *instanceOptions) error {
	return o.applyInstanceFunc(opts)
}

// WithLogger attaches a structured logger to the instance and its
// environment. A nil logger is valid and disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *instanceOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithBootstrap replaces the bootstrap program evaluated during environment
// construction. The program is expected to call setTickCallback and
// setPromiseRejectCallback during its own execution; the default,
// [DefaultBootstrap], does so and additionally installs process.nextTick.
func WithBootstrap(src string) Option {
	return &optionImpl{func(opts *instanceOptions) error {
		opts.bootstrap = src
		return nil
	}}
}

// WithMain sets the entry script evaluated after a successful bootstrap,
// before the event loop starts. An uncaught exception from the entry script
// forces a non-zero exit code and skips the run-loop phase.
func WithMain(src string) Option {
	return &optionImpl{func(opts *instanceOptions) error {
		opts.main = src
		return nil
	}}
}

// WithInspector registers an optional debugging/inspection subsystem hook,
// invoked during bootstrap after diagnostics initialization. A non-nil error
// aborts bootstrap with a non-zero exit code, skipping script execution.
func WithInspector(hook func(*Env) error) Option {
	return &optionImpl{func(opts *instanceOptions) error {
		opts.inspector = hook
		return nil
	}}
}

// WithInspectorWait registers a hook invoked after the "exit" event has been
// emitted, giving an attached debugger a chance to disconnect before shared
// teardown proceeds.
func WithInspectorWait(wait func()) Option {
	return &optionImpl{func(opts *instanceOptions) error {
		opts.inspectorWait = wait
		return nil
	}}
}

// resolveInstanceOptions applies Option instances to instanceOptions.
func resolveInstanceOptions(opts []Option) (*instanceOptions, error) {
	cfg := &instanceOptions{
		bootstrap: DefaultBootstrap,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyInstance(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
