// Package platform classifies the current execution environment into a runtime
// tier. The accelerated tier loads compiled native extensions (Go plugins); the
// portable tier runs sandboxed WebAssembly modules. The tier is detected once
// per process and is read-only afterwards.
package platform
