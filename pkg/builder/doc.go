// Package builder provides fluent, copy-on-write builders for assembling
// flow definitions in host code. Every With* call returns a new builder, so
// partially configured builders can be shared and forked safely.
package builder
