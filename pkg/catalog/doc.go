// Package catalog decodes the embedded CUE catalog of optional feature
// modules. The catalog names each module, the artifact backing each tier, and
// the fallback between tiers. It carries no code; internal/bindings attaches
// typed loaders to each entry.
package catalog
