// Package watcher is the registry of clients blocked on keys.
//
// A blocking command that finds nothing to do registers a ticket on each
// key it waits for. A write to one of those keys calls Notify, which
// claims the oldest tickets and posts a Wakeup to the owning worker
// through a Deliverer. A ticket is claimed at most once, so a client
// blocked on several keys is woken exactly once. The registry never runs
// commands itself.
//
// Lost wake-ups between a worker's storage check and its registration are
// prevented with per-key version counters: the worker reads Version before
// checking storage and Block refuses to register if any version moved.
package watcher
