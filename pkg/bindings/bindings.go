// Package bindings attaches the typed loaders of the crypto, orchestration
// and training modules to the catalog, producing the production registry.
package bindings

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/chazu/qudag/pkg/binding"
	"github.com/chazu/qudag/pkg/catalog"
	"github.com/chazu/qudag/pkg/modules/crypto"
	"github.com/chazu/qudag/pkg/modules/orchestration"
	"github.com/chazu/qudag/pkg/modules/training"
	"github.com/chazu/qudag/pkg/platform"
)

// Options locate artifacts and describe the target platform.
type Options struct {
	NativeDirs   []string
	PortableDirs []string
	WasmCacheDir string

	// OS and Arch are the platform native artifacts must match. Default:
	// the running platform
	OS   string
	Arch string

	// OpenPlugin overrides the Go plugin opener
	OpenPlugin func(path string) (binding.SymbolTable, error)
}

// binder builds the registry entry of one catalog module.
type binder func(m catalog.Module, o Options) (binding.Entry, error)

var binders = map[binding.Identity]binder{
	binding.Crypto: func(m catalog.Module, o Options) (binding.Entry, error) {
		return bind[crypto.Backend](m, o, crypto.NewWasmBackend)
	},
	binding.Orchestration: func(m catalog.Module, o Options) (binding.Entry, error) {
		return bind[orchestration.Runtime](m, o, nil)
	},
	binding.Training: func(m catalog.Module, o Options) (binding.Entry, error) {
		return bind[training.Runtime](m, o, nil)
	},
}

// NewRegistry binds every catalog module to its typed loader and validates
// the result. A catalog module without a typed loader is an error.
func NewRegistry(cat *catalog.Catalog, o Options) (*binding.Registry, error) {
	entries := make([]binding.Entry, 0, len(cat.Modules))
	for _, m := range cat.Modules {
		id := binding.Identity(m.Name)
		b, ok := binders[id]
		if !ok {
			return nil, fmt.Errorf("catalog module %q has no typed loader", m.Name)
		}
		entry, err := b(m, o)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return binding.NewRegistry(entries...)
}

// bind builds a loader for m. wasm adapts the portable build's exports and
// must be set when m declares a portable variant.
func bind[T any](m catalog.Module, o Options, wasm func(context.Context, api.Module) (T, error)) (binding.Entry, error) {
	b := binding.Binding[T]{
		Identity:   binding.Identity(m.Name),
		Strategies: map[platform.Tier]binding.Strategy[T]{},
		Fallbacks:  map[platform.Tier]platform.Tier{},
	}

	for name, v := range m.Variants {
		tier, err := platform.ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("module %q: %w", m.Name, err)
		}

		switch tier {
		case platform.Accelerated:
			b.Strategies[tier] = &binding.NativeStrategy[T]{
				Artifact: v.Artifact,
				Symbol:   v.Symbol,
				Dirs:     o.NativeDirs,
				OS:       o.OS,
				Arch:     o.Arch,
				Open:     o.OpenPlugin,
			}
		case platform.Portable:
			if wasm == nil {
				return nil, fmt.Errorf("module %q declares a portable variant but has no wasm adapter", m.Name)
			}
			b.Strategies[tier] = &binding.PortableStrategy[T]{
				Artifact: v.Artifact,
				Dirs:     o.PortableDirs,
				CacheDir: o.WasmCacheDir,
				Bind:     wasm,
			}
		}
	}

	for from, to := range m.Fallback {
		b.Fallbacks[platform.Tier(from)] = platform.Tier(to)
	}

	return binding.NewLoader(b), nil
}

// CryptoNativeCheck returns the presence check of the crypto module's
// accelerated variant, used by the probe to pick the tier.
func CryptoNativeCheck(cat *catalog.Catalog, o Options) platform.ResolutionCheck {
	m, ok := cat.Module(string(binding.Crypto))
	if !ok {
		return nil
	}
	v, ok := m.Variant(platform.Accelerated)
	if !ok {
		return nil
	}
	s := &binding.NativeStrategy[crypto.Backend]{
		Artifact: v.Artifact,
		Symbol:   v.Symbol,
		Dirs:     o.NativeDirs,
		OS:       o.OS,
		Arch:     o.Arch,
	}
	return s.Check
}
