package binding

import (
	"context"
	"fmt"
	"plugin"
	"runtime"
)

// DefaultSymbol is the exported variable a native module must provide.
const DefaultSymbol = "Module"

// SymbolTable is the lookup surface of an opened native module.
// *plugin.Plugin satisfies it.
type SymbolTable interface {
	Lookup(symName string) (plugin.Symbol, error)
}

// OpenPlugin opens a Go plugin. It is the default opener of NativeStrategy.
func OpenPlugin(path string) (SymbolTable, error) {
	return plugin.Open(path)
}

// NativeStrategy loads a module compiled as a Go plugin (-buildmode=plugin).
// The plugin exports a variable named Symbol whose value implements T.
type NativeStrategy[T any] struct {
	// Artifact is the shared object file name, e.g. "qudag_crypto.so"
	Artifact string

	// Symbol is the exported entry variable. Default: DefaultSymbol
	Symbol string

	// Dirs are searched in order for Artifact
	Dirs []string

	// OS and Arch are the target platform. Default: the running platform
	OS   string
	Arch string

	// Open opens the artifact. Default: OpenPlugin
	Open func(path string) (SymbolTable, error)
}

// Kind returns the strategy type.
func (s *NativeStrategy[T]) Kind() string {
	return "native"
}

// Check locates the artifact and validates its object headers. The plugin is
// not opened, so none of its init code runs.
func (s *NativeStrategy[T]) Check(ctx context.Context) error {
	path, err := findArtifact(s.Dirs, s.Artifact)
	if err != nil {
		return err
	}
	return checkNativeBinary(path, s.targetOS(), s.targetArch())
}

// Resolve opens the plugin and looks up its entry symbol.
func (s *NativeStrategy[T]) Resolve(ctx context.Context) (Resolved[T], error) {
	var zero Resolved[T]

	path, err := findArtifact(s.Dirs, s.Artifact)
	if err != nil {
		return zero, err
	}

	open := s.Open
	if open == nil {
		open = OpenPlugin
	}

	table, err := open(path)
	if err != nil {
		return zero, fmt.Errorf("%w: failed to open %s: %v", ErrArtifactIncompatible, path, err)
	}

	symbol := s.Symbol
	if symbol == "" {
		symbol = DefaultSymbol
	}

	sym, err := table.Lookup(symbol)
	if err != nil {
		return zero, fmt.Errorf("%w: %s in %s: %v", ErrSymbolNotFound, symbol, path, err)
	}

	value, err := entryValue[T](sym)
	if err != nil {
		return zero, fmt.Errorf("%s in %s: %w", symbol, path, err)
	}

	digest, err := digestFile("native", path)
	if err != nil {
		return zero, err
	}

	// Go plugins cannot be unloaded, so there is nothing to close.
	return Resolved[T]{
		Value:  value,
		Source: "native://" + path,
		Digest: digest,
	}, nil
}

// entryValue converts a plugin symbol to T. Plugins export variables as
// pointers, so both T and *T are accepted.
func entryValue[T any](sym any) (T, error) {
	var zero T
	switch v := sym.(type) {
	case T:
		return v, nil
	case *T:
		if v == nil {
			return zero, fmt.Errorf("%w: nil %T", ErrEntryType, sym)
		}
		return *v, nil
	default:
		return zero, fmt.Errorf("%w: got %T, want %T", ErrEntryType, sym, (*T)(nil))
	}
}

func (s *NativeStrategy[T]) targetOS() string {
	if s.OS != "" {
		return s.OS
	}
	return runtime.GOOS
}

func (s *NativeStrategy[T]) targetArch() string {
	if s.Arch != "" {
		return s.Arch
	}
	return runtime.GOARCH
}
