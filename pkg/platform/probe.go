package platform

import (
	"context"
	"sync"

	"github.com/go-logr/logr"

	"github.com/chazu/qudag/pkg/metrics"
)

// ResolutionCheck verifies that a native module is present and loadable
// without executing any of its code.
type ResolutionCheck func(ctx context.Context) error

// Probe detects the runtime tier of the process. Detection runs once; later
// calls return the cached tier.
type Probe struct {
	env   Environment
	check ResolutionCheck

	once sync.Once
	tier Tier
}

// NewProbe creates a probe for env. check is the non-executing presence check
// of the crypto module's native variant; a nil check counts as a failure.
func NewProbe(env Environment, check ResolutionCheck) *Probe {
	return &Probe{
		env:   env,
		check: check,
	}
}

// FixedProbe returns a probe that always reports tier. Used by callers that
// already know the tier, such as tests and the --tier override.
func FixedProbe(tier Tier) *Probe {
	p := &Probe{tier: tier}
	p.once.Do(func() {
		metrics.SetPlatformTier(string(tier), string(Accelerated), string(Portable))
	})
	return p
}

// Detect classifies the environment. It never fails: Portable is always a
// valid answer.
func (p *Probe) Detect(ctx context.Context) Tier {
	p.once.Do(func() {
		p.tier = p.detect(ctx)
		metrics.SetPlatformTier(string(p.tier), string(Accelerated), string(Portable))
	})
	return p.tier
}

func (p *Probe) detect(ctx context.Context) Tier {
	logger := logr.FromContextOrDiscard(ctx).WithValues("environment", p.env.String())

	if !p.env.NativeCapable() {
		logger.V(1).Info("Environment cannot load native extensions, using portable tier")
		return Portable
	}

	if p.check == nil {
		logger.Info("No native resolution check configured, falling back to portable tier")
		return Portable
	}

	if err := p.check(ctx); err != nil {
		logger.Info("Native crypto module not resolvable, falling back to portable tier", "reason", err.Error())
		return Portable
	}

	logger.V(1).Info("Native crypto module resolvable, using accelerated tier")
	return Accelerated
}

// Profile returns the profile of the detected tier.
func (p *Probe) Profile(ctx context.Context) TierProfile {
	return ProfileFor(p.Detect(ctx))
}

// Environment returns the environment the probe inspects.
func (p *Probe) Environment() Environment {
	return p.env
}
