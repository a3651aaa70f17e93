package binding

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/go-logr/logr"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// PortableStrategy loads a module compiled to WebAssembly and runs it in a
// wazero sandbox. Every Resolve creates its own runtime, so handles never
// share instance state.
type PortableStrategy[T any] struct {
	// Artifact is the wasm file name, e.g. "qudag_crypto.wasm"
	Artifact string

	// Dirs are searched in order for Artifact
	Dirs []string

	// CacheDir enables wazero's on-disk compilation cache when set
	CacheDir string

	// Bind adapts the instantiated module's exports into T
	Bind func(ctx context.Context, mod api.Module) (T, error)

	cacheOnce sync.Once
	cache     wazero.CompilationCache
}

// Kind returns the strategy type.
func (s *PortableStrategy[T]) Kind() string {
	return "portable"
}

// Check locates the artifact and validates its wasm header. Nothing is
// compiled or instantiated.
func (s *PortableStrategy[T]) Check(ctx context.Context) error {
	path, err := findArtifact(s.Dirs, s.Artifact)
	if err != nil {
		return err
	}
	return checkWasmBinary(path)
}

// Resolve compiles and instantiates the module, then binds its exports.
func (s *PortableStrategy[T]) Resolve(ctx context.Context) (Resolved[T], error) {
	var zero Resolved[T]

	if s.Bind == nil {
		return zero, fmt.Errorf("portable strategy for %s has no binder", s.Artifact)
	}

	path, err := findArtifact(s.Dirs, s.Artifact)
	if err != nil {
		return zero, err
	}

	bin, err := os.ReadFile(path)
	if err != nil {
		return zero, fmt.Errorf("failed to read %s: %w", path, err)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, s.runtimeConfig(ctx))
	closeRuntime := func(ctx context.Context) error {
		return rt.Close(ctx)
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = closeRuntime(ctx)
		return zero, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		_ = closeRuntime(ctx)
		return zero, fmt.Errorf("%w: failed to compile %s: %v", ErrArtifactIncompatible, path, err)
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName(compiled.Name()).
		WithStartFunctions("_initialize"))
	if err != nil {
		_ = closeRuntime(ctx)
		return zero, fmt.Errorf("%w: failed to instantiate %s: %v", ErrArtifactIncompatible, path, err)
	}

	value, err := s.Bind(ctx, mod)
	if err != nil {
		_ = closeRuntime(ctx)
		return zero, fmt.Errorf("failed to bind %s: %w", path, err)
	}

	return Resolved[T]{
		Value:  value,
		Source: "wasm://" + path,
		Digest: digestBytes("wasm", bin),
		Close:  closeRuntime,
	}, nil
}

func (s *PortableStrategy[T]) runtimeConfig(ctx context.Context) wazero.RuntimeConfig {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)

	s.cacheOnce.Do(func() {
		if s.CacheDir == "" {
			return
		}
		cache, err := wazero.NewCompilationCacheWithDir(s.CacheDir)
		if err != nil {
			logr.FromContextOrDiscard(ctx).Info("Wasm compilation cache disabled", "dir", s.CacheDir, "error", err.Error())
			return
		}
		s.cache = cache
	})

	if s.cache != nil {
		cfg = cfg.WithCompilationCache(s.cache)
	}
	return cfg
}
