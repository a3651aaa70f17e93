package availability_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/chazu/qudag/pkg/binding"
	"github.com/chazu/qudag/pkg/platform"
)

// stub is a module implementation handed out by fakeStrategy.
type stub struct {
	id int32
}

// fakeStrategy resolves after delay, or fails with err.
type fakeStrategy struct {
	err      error
	delay    time.Duration
	panics   bool
	resolves atomic.Int32
	closes   atomic.Int32
}

func (s *fakeStrategy) Kind() string { return "fake" }

func (s *fakeStrategy) Check(ctx context.Context) error { return nil }

func (s *fakeStrategy) Resolve(ctx context.Context) (binding.Resolved[*stub], error) {
	n := s.resolves.Add(1)
	if s.panics {
		panic("strategy exploded")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return binding.Resolved[*stub]{}, ctx.Err()
		}
	}
	if s.err != nil {
		return binding.Resolved[*stub]{}, s.err
	}
	return binding.Resolved[*stub]{
		Value:  &stub{id: n},
		Source: "fake://stub",
		Close: func(context.Context) error {
			s.closes.Add(1)
			return nil
		},
	}, nil
}

// hangingStrategy blocks until released, ignoring its context.
type hangingStrategy struct {
	release chan struct{}
}

func (s *hangingStrategy) Kind() string { return "hanging" }

func (s *hangingStrategy) Check(ctx context.Context) error { return nil }

func (s *hangingStrategy) Resolve(ctx context.Context) (binding.Resolved[*stub], error) {
	<-s.release
	return binding.Resolved[*stub]{Value: &stub{}}, nil
}

// panickingEntry panics from Load itself, outside any strategy.
type panickingEntry struct {
	id binding.Identity
}

func (e panickingEntry) Identity() binding.Identity { return e.id }

func (e panickingEntry) Supports(tier platform.Tier) bool { return tier == platform.Accelerated }

func (e panickingEntry) Fallback(tier platform.Tier) (platform.Tier, bool) { return "", false }

func (e panickingEntry) Load(ctx context.Context, tier platform.Tier) binding.Outcome {
	panic("entry exploded")
}

var errMissing = errors.New("artifact missing")

func cryptoEntry(native, portable binding.Strategy[*stub]) binding.Entry {
	return binding.NewLoader(binding.Binding[*stub]{
		Identity: binding.Crypto,
		Strategies: map[platform.Tier]binding.Strategy[*stub]{
			platform.Accelerated: native,
			platform.Portable:    portable,
		},
		Fallbacks: map[platform.Tier]platform.Tier{
			platform.Accelerated: platform.Portable,
		},
	})
}

func nativeEntry(id binding.Identity, native binding.Strategy[*stub]) binding.Entry {
	return binding.NewLoader(binding.Binding[*stub]{
		Identity: id,
		Strategies: map[platform.Tier]binding.Strategy[*stub]{
			platform.Accelerated: native,
		},
	})
}

// catalogRegistry mirrors the shipped catalog: crypto on both tiers with a
// fallback, orchestration and training accelerated only.
func catalogRegistry(crypto, cryptoPortable, orchestration, training binding.Strategy[*stub]) *binding.Registry {
	return binding.MustRegistry(
		cryptoEntry(crypto, cryptoPortable),
		nativeEntry(binding.Orchestration, orchestration),
		nativeEntry(binding.Training, training),
	)
}

func nativeCapable() platform.Environment {
	return platform.Environment{OS: "linux", Arch: "amd64", CgoEnabled: true}
}

func sandboxed() platform.Environment {
	env := nativeCapable()
	env.Sandboxed = true
	return env
}
