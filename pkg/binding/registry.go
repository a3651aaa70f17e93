package binding

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dominikbraun/graph"

	"github.com/chazu/qudag/pkg/platform"
)

// Registry is the fixed, ordered catalog of module loaders. It is validated
// once at construction and read-only afterwards.
type Registry struct {
	entries []Entry
	index   map[Identity]Entry
}

// NewRegistry validates entries and builds a registry. Any error here is a
// configuration defect and should stop the program before probing begins.
func NewRegistry(entries ...Entry) (*Registry, error) {
	var errs []string

	r := &Registry{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[Identity]Entry, len(entries)),
	}

	for i, e := range entries {
		if e == nil {
			errs = append(errs, fmt.Sprintf("entry %d is nil", i))
			continue
		}

		id := e.Identity()
		if id == "" {
			errs = append(errs, fmt.Sprintf("entry %d has an empty identity", i))
			continue
		}
		if _, exists := r.index[id]; exists {
			errs = append(errs, fmt.Sprintf("module '%s' is registered more than once", id))
			continue
		}

		errs = append(errs, validateEntry(e)...)

		r.index[id] = e
		r.entries = append(r.entries, e)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}

	return r, nil
}

// MustRegistry is NewRegistry that panics on a malformed registry.
func MustRegistry(entries ...Entry) *Registry {
	r, err := NewRegistry(entries...)
	if err != nil {
		panic(err)
	}
	return r
}

// validateEntry checks that the entry supports at least one tier and that its
// fallback chain is a total, acyclic function of Tier.
func validateEntry(e Entry) []string {
	var errs []string
	id := e.Identity()

	supported := 0
	for _, tier := range platform.Tiers {
		if e.Supports(tier) {
			supported++
		}
	}
	if supported == 0 {
		errs = append(errs, fmt.Sprintf("module '%s' has no strategy for any tier", id))
	}

	chain := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for _, tier := range platform.Tiers {
		_ = chain.AddVertex(string(tier))
	}

	for _, from := range platform.Tiers {
		to, ok := e.Fallback(from)
		if !ok {
			continue
		}

		switch {
		case !to.Valid():
			errs = append(errs, fmt.Sprintf("module '%s': fallback from %s targets unknown tier '%s'", id, from, to))
			continue
		case to == from:
			errs = append(errs, fmt.Sprintf("module '%s': %s tier falls back to itself", id, from))
			continue
		case !e.Supports(to):
			errs = append(errs, fmt.Sprintf("module '%s': fallback from %s targets unsupported tier %s", id, from, to))
			continue
		}

		if err := chain.AddEdge(string(from), string(to)); err != nil {
			if errors.Is(err, graph.ErrEdgeCreatesCycle) {
				errs = append(errs, fmt.Sprintf("module '%s': fallback %s -> %s creates a cycle", id, from, to))
				continue
			}
			errs = append(errs, fmt.Sprintf("module '%s': fallback %s -> %s: %v", id, from, to, err))
		}
	}

	return errs
}

// Entries returns the registry entries in catalog order.
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Identities returns the registered identities in catalog order.
func (r *Registry) Identities() []Identity {
	ids := make([]Identity, 0, len(r.entries))
	for _, e := range r.entries {
		ids = append(ids, e.Identity())
	}
	return ids
}

// Lookup returns the entry for id.
func (r *Registry) Lookup(id Identity) (Entry, bool) {
	e, ok := r.index[id]
	return e, ok
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.entries)
}
