// Package engine executes declarative flows: directed graphs of named steps
// with dependencies, per-step timeouts and retries, conditional branching on
// success/failure/timeout, and rollback. Hosts register opaque handlers by
// step kind, subscribe to lifecycle events, and start runs; the engine
// resolves readiness, dispatches steps concurrently, and reports every run
// as data rather than errors.
package engine
