// Package sched is the recurring task scheduling engine.
//
// It combines four pieces around a single-goroutine tick loop:
//
//   - Queue: a heap of (due time, priority, task id) entries
//   - Resolver: gates tasks on COMPLETED dependencies, with capped backoff
//   - Dispatcher: admission control over a bounded worker pool
//   - NextOccurrence: drift-free recurrence math anchored on the original
//     scheduled instant
//
// The store (internal/storage) is the source of truth; the queue is a
// rebuildable projection. Execution is detached per task under a
// supervisor, so a slow action never stalls the loop, and shutdown can
// drain in-flight work.
package sched
