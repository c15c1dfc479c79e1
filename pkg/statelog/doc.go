// Package statelog is the engine's global state surface: an event-sourced,
// append-only record of every key mutation made by step handlers. It exposes
// the current and previous snapshots, the full transition history, and a
// watcher for observing changes as they land.
package statelog
