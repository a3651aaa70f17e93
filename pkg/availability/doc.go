// Package availability reports which optional feature modules can be loaded
// on the detected tier. ProbeAll loads every registered module concurrently,
// each under its own timeout, and returns an immutable report in registry
// order. ProbeOne loads a single module and hands its handle to the caller.
package availability
