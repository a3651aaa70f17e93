// Package binding resolves concrete implementations of optional feature
// modules. Each module identity is bound to one resolution strategy per tier;
// a Loader tries the strategy for the requested tier and, when the registry
// defines one, a single fallback tier. Failures are reported as typed
// outcomes rather than errors.
package binding
