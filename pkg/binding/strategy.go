package binding

import (
	"context"
	"fmt"
)

// Resolved is what a strategy produces on success.
type Resolved[T any] struct {
	// Value is the module's typed entry surface
	Value T

	// Source describes where the module was loaded from (for logging/debugging)
	Source string

	// Digest is a content-addressable identifier of the artifact
	Digest string

	// Close releases runtime resources. May be nil.
	Close func(ctx context.Context) error
}

// Strategy is the tier-specific procedure that produces a module.
type Strategy[T any] interface {
	// Check verifies the module is present and loadable without executing
	// any of its code
	Check(ctx context.Context) error

	// Resolve loads the module and returns its entry surface
	Resolve(ctx context.Context) (Resolved[T], error)

	// Kind returns the strategy type (for logging and metrics)
	Kind() string
}

// StrategyFuncs adapts plain functions into a Strategy. A nil CheckFunc always
// passes.
type StrategyFuncs[T any] struct {
	Name        string
	CheckFunc   func(ctx context.Context) error
	ResolveFunc func(ctx context.Context) (Resolved[T], error)
}

// Check runs CheckFunc.
func (s StrategyFuncs[T]) Check(ctx context.Context) error {
	if s.CheckFunc == nil {
		return nil
	}
	return s.CheckFunc(ctx)
}

// Resolve runs ResolveFunc.
func (s StrategyFuncs[T]) Resolve(ctx context.Context) (Resolved[T], error) {
	if s.ResolveFunc == nil {
		return Resolved[T]{}, fmt.Errorf("strategy %q has no resolver", s.Name)
	}
	return s.ResolveFunc(ctx)
}

// Kind returns Name.
func (s StrategyFuncs[T]) Kind() string {
	if s.Name == "" {
		return "func"
	}
	return s.Name
}
