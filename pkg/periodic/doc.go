// Package periodic runs a task on a fixed interval with bounded retries.
//
// A Runner owns the schedule: each firing runs one cycle through the
// Executor, which makes up to MaxRetries attempts with constant, linear or
// exponential backoff between them and an optional per-attempt timeout.
//
// Shutdown is cooperative. Stop cancels a pending firing outright and
// cancels the context of an in-flight attempt; the cycle also observes the
// stop before its next attempt or during its backoff wait. AwaitShutdown
// blocks until that cycle has returned.
//
// Known limitation: a timed-out attempt is abandoned, not killed. The task
// receives a context with the deadline; a task that ignores it keeps running
// in the background after its result has been discarded.
package periodic
