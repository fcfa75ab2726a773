// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package gojaruntime

// DefaultBootstrap is the bootstrap program evaluated by [MainInstance.Run]
// unless replaced via [WithBootstrap]. It registers the tick callback and
// the promise reject callback, wires the shared tickInfo flags, and installs
// process.nextTick.
//
// Unhandled rejections that survive until the next tick drain are reported
// to process.onUnhandledRejection(reason, promise), if script code assigned
// one; rejections handled before the drain are silently withdrawn.
const DefaultBootstrap = `'use strict';
(function bootstrap() {
  const kHasTickScheduled = 0;
  const kHasRejectionToWarn = 1;

  const queue = [];
  const pendingRejections = [];

  function runRejectionWarnings() {
    tickInfo[kHasRejectionToWarn] = 0;
    while (pendingRejections.length > 0) {
      const entry = pendingRejections.shift();
      if (typeof process.onUnhandledRejection === 'function') {
        process.onUnhandledRejection(entry.reason, entry.promise);
      }
    }
  }

  function processTicks() {
    while (queue.length > 0) {
      const callback = queue.shift();
      if (queue.length === 0) {
        tickInfo[kHasTickScheduled] = 0;
      }
      callback();
      runMicrotasks();
    }
    tickInfo[kHasTickScheduled] = 0;
    if (tickInfo[kHasRejectionToWarn] !== 0) {
      runRejectionWarnings();
    }
  }

  setTickCallback(processTicks);

  setPromiseRejectCallback(function (type, promise, reason) {
    if (type === promiseRejectEvents.kPromiseRejectWithNoHandler) {
      pendingRejections.push({ promise: promise, reason: reason });
      tickInfo[kHasRejectionToWarn] = 1;
    } else if (type === promiseRejectEvents.kPromiseHandlerAddedAfterReject) {
      for (let i = 0; i < pendingRejections.length; i++) {
        if (pendingRejections[i].promise === promise) {
          pendingRejections.splice(i, 1);
          break;
        }
      }
      if (pendingRejections.length === 0) {
        tickInfo[kHasRejectionToWarn] = 0;
      }
    }
  });

  process.nextTick = function nextTick(callback) {
    if (typeof callback !== 'function') {
      throw new TypeError('callback must be a function');
    }
    queue.push(callback);
    tickInfo[kHasTickScheduled] = 1;
  };
})();
`
