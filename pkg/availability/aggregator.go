package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chazu/qudag/pkg/binding"
	"github.com/chazu/qudag/pkg/platform"
)

const tracerName = "github.com/chazu/qudag/pkg/availability"

// DefaultProbeTimeout bounds a single module load.
const DefaultProbeTimeout = 3 * time.Second

// TierDetector reports the active tier.
type TierDetector interface {
	Detect(ctx context.Context) platform.Tier
}

// Aggregator probes the modules of a registry on the detected tier.
type Aggregator struct {
	registry       *binding.Registry
	detector       TierDetector
	timeout        time.Duration
	maxConcurrency int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithProbeTimeout bounds each module load. Non-positive values keep the
// default.
func WithProbeTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithMaxConcurrency bounds how many modules ProbeAll loads at once.
// Non-positive values mean one goroutine per module.
func WithMaxConcurrency(n int) Option {
	return func(a *Aggregator) {
		a.maxConcurrency = n
	}
}

// New creates an aggregator over reg.
func New(reg *binding.Registry, detector TierDetector, opts ...Option) *Aggregator {
	a := &Aggregator{
		registry: reg,
		detector: detector,
		timeout:  DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Tier returns the detected tier.
func (a *Aggregator) Tier(ctx context.Context) platform.Tier {
	return a.detector.Detect(ctx)
}

// ProbeAll loads every registered module and reports which are usable.
// Handles obtained while probing are closed before it returns. It never
// fails as a whole.
func (a *Aggregator) ProbeAll(ctx context.Context) *Report {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "availability.probe_all")
	defer span.End()

	logger := logr.FromContextOrDiscard(ctx)
	tier := a.detector.Detect(ctx)
	entries := a.registry.Entries()
	span.SetAttributes(
		attribute.String("qudag.tier", string(tier)),
		attribute.Int("qudag.modules", len(entries)),
	)

	maxGoroutines := a.maxConcurrency
	if maxGoroutines <= 0 || maxGoroutines > len(entries) {
		maxGoroutines = len(entries)
	}

	statuses := make([]ModuleStatus, len(entries))
	if len(entries) > 0 {
		p := pool.New().WithMaxGoroutines(maxGoroutines)
		for i, entry := range entries {
			p.Go(func() {
				statuses[i] = a.probe(ctx, entry, tier)
			})
		}
		p.Wait()
	}

	report := newReport(tier, statuses)
	logger.V(1).Info("Probed modules",
		"tier", tier,
		"available", report.Available(),
		"unavailable", report.Unavailable())
	return report
}

// probe loads one entry under the probe timeout and summarizes the outcome.
func (a *Aggregator) probe(ctx context.Context, entry binding.Entry, tier platform.Tier) ModuleStatus {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	outcome := a.load(ctx, entry, tier)
	status := statusFor(outcome, time.Since(start))

	if outcome.IsLoaded() {
		if err := outcome.Handle.Close(ctx); err != nil {
			logr.FromContextOrDiscard(ctx).Error(err, "Failed to release probed module", "module", entry.Identity())
		}
	}
	return status
}

// ProbeOne loads id on the detected tier. A loaded handle belongs to the
// caller.
func (a *Aggregator) ProbeOne(ctx context.Context, id binding.Identity) binding.Outcome {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "availability.probe_one", trace.WithAttributes(
		attribute.String("qudag.module", string(id)),
	))
	defer span.End()

	tier := a.detector.Detect(ctx)

	entry, ok := a.registry.Lookup(id)
	if !ok {
		return binding.Unavailable(id, tier, binding.ResolutionFailed,
			fmt.Errorf("%w: %q", binding.ErrUnknownModule, id))
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.load(ctx, entry, tier)
}

// load runs entry.Load, turning a panic into a ResolutionFailed outcome.
func (a *Aggregator) load(ctx context.Context, entry binding.Entry, tier platform.Tier) binding.Outcome {
	var outcome binding.Outcome
	var pc panics.Catcher
	pc.Try(func() {
		outcome = entry.Load(ctx, tier)
	})
	if r := pc.Recovered(); r != nil {
		return binding.Unavailable(entry.Identity(), tier, binding.ResolutionFailed,
			fmt.Errorf("%w: %v", binding.ErrResolverPanic, r.Value))
	}
	return outcome
}
