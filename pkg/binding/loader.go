package binding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chazu/qudag/pkg/metrics"
	"github.com/chazu/qudag/pkg/platform"
)

const tracerName = "github.com/chazu/qudag/pkg/binding"

// Entry is a registry entry with its type erased. Loader implements it.
type Entry interface {
	// Identity returns the module identity
	Identity() Identity

	// Supports reports whether a strategy is declared for the tier
	Supports(tier platform.Tier) bool

	// Fallback returns the alternate tier tried when tier fails
	Fallback(tier platform.Tier) (platform.Tier, bool)

	// Load resolves the module for the tier
	Load(ctx context.Context, tier platform.Tier) Outcome
}

// Binding declares how one module is resolved. A tier missing from
// Strategies is explicitly unsupported.
type Binding[T any] struct {
	Identity   Identity
	Strategies map[platform.Tier]Strategy[T]
	Fallbacks  map[platform.Tier]platform.Tier
}

// Loader resolves a single module identity. It holds no per-load state, so a
// Loader is safe for concurrent use and every Load is independent.
type Loader[T any] struct {
	id         Identity
	strategies map[platform.Tier]Strategy[T]
	fallbacks  map[platform.Tier]platform.Tier
}

// NewLoader creates a loader from a binding declaration.
func NewLoader[T any](b Binding[T]) *Loader[T] {
	l := &Loader[T]{
		id:         b.Identity,
		strategies: make(map[platform.Tier]Strategy[T], len(b.Strategies)),
		fallbacks:  make(map[platform.Tier]platform.Tier, len(b.Fallbacks)),
	}
	for tier, s := range b.Strategies {
		if s != nil {
			l.strategies[tier] = s
		}
	}
	for from, to := range b.Fallbacks {
		l.fallbacks[from] = to
	}
	return l
}

// Identity returns the module identity.
func (l *Loader[T]) Identity() Identity {
	return l.id
}

// Supports reports whether the tier has a strategy.
func (l *Loader[T]) Supports(tier platform.Tier) bool {
	_, ok := l.strategies[tier]
	return ok
}

// Fallback returns the fallback tier for tier, if any.
func (l *Loader[T]) Fallback(tier platform.Tier) (platform.Tier, bool) {
	to, ok := l.fallbacks[tier]
	return to, ok
}

// Load resolves the module for tier. It makes at most two attempts: the
// strategy for tier, then the strategy of the fallback tier. It never returns
// an error; failures are reported in the outcome.
func (l *Loader[T]) Load(ctx context.Context, tier platform.Tier) Outcome {
	logger := logr.FromContextOrDiscard(ctx).WithValues("module", l.id, "tier", tier)

	outcome := l.load(logr.NewContext(ctx, logger), tier)
	if outcome.IsLoaded() {
		metrics.RecordOutcome(string(l.id), "loaded")
	} else {
		metrics.RecordOutcome(string(l.id), string(outcome.Reason))
		logger.V(1).Info("Module unavailable", "reason", outcome.Reason, "error", outcome.Err)
	}
	return outcome
}

func (l *Loader[T]) load(ctx context.Context, tier platform.Tier) Outcome {
	logger := logr.FromContextOrDiscard(ctx)

	primary, hasPrimary := l.strategies[tier]
	fbTier, hasFallback := l.fallbacks[tier]
	fallback, fallbackSupported := l.strategies[fbTier]
	hasFallback = hasFallback && fallbackSupported

	if !hasPrimary && !hasFallback {
		return Unavailable(l.id, tier, TierUnsupported,
			fmt.Errorf("no strategy declared for %s tier", tier))
	}

	var primaryErr error
	if hasPrimary {
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if hasFallback {
			attemptCtx, cancel = primaryBudget(ctx)
		}
		h, err := l.attempt(attemptCtx, tier, primary)
		cancel()
		if err == nil {
			return Loaded(tier, h)
		}
		primaryErr = err
		if !hasFallback {
			return Unavailable(l.id, tier, ResolutionFailed, err)
		}
		logger.V(1).Info("Primary resolution failed, trying fallback", "fallback", fbTier, "error", err.Error())
	} else {
		primaryErr = fmt.Errorf("no strategy declared for %s tier", tier)
	}

	h, err := l.attempt(ctx, fbTier, fallback)
	if err != nil {
		return Unavailable(l.id, tier, FallbackExhausted, errors.Join(
			fmt.Errorf("%s: %w", tier, primaryErr),
			fmt.Errorf("%s: %w", fbTier, err),
		))
	}

	h.degraded = true
	metrics.RecordFallback(string(l.id), string(fbTier))
	logger.Info("Module loaded from degraded tier", "loadedTier", fbTier, "primaryError", primaryErr.Error())
	return Loaded(tier, h)
}

// primaryBudget bounds the primary attempt to half of the time left on ctx
// so a hung primary leaves the fallback the other half.
func primaryBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Until(deadline)/2)
}

type attemptResult[T any] struct {
	resolved Resolved[T]
	err      error
}

// attempt runs one strategy. A strategy still running when ctx is done is
// abandoned; if it later succeeds its resources are released.
func (l *Loader[T]) attempt(ctx context.Context, tier platform.Tier, s Strategy[T]) (*Handle, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "binding.resolve", trace.WithAttributes(
		attribute.String("qudag.module", string(l.id)),
		attribute.String("qudag.tier", string(tier)),
		attribute.String("qudag.strategy", s.Kind()),
	))
	defer span.End()

	logger := logr.FromContextOrDiscard(ctx).WithValues("attemptTier", tier, "strategy", s.Kind())
	start := time.Now()

	results := make(chan attemptResult[T], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				results <- attemptResult[T]{err: fmt.Errorf("%w: %v", ErrResolverPanic, p)}
			}
		}()
		if err := s.Check(ctx); err != nil {
			results <- attemptResult[T]{err: err}
			return
		}
		r, err := s.Resolve(ctx)
		results <- attemptResult[T]{resolved: r, err: err}
	}()

	var res attemptResult[T]
	select {
	case res = <-results:
	case <-ctx.Done():
		res.err = fmt.Errorf("resolution abandoned: %w", ctx.Err())
		go releaseLate(results)
	}

	duration := time.Since(start).Seconds()
	if res.err != nil {
		metrics.RecordResolve(string(l.id), string(tier), "failure", duration)
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
		logger.V(1).Info("Resolution attempt failed", "error", res.err.Error(), "duration_ms", duration*1000)
		return nil, res.err
	}

	metrics.RecordResolve(string(l.id), string(tier), "success", duration)
	logger.V(1).Info("Resolution attempt succeeded", "source", res.resolved.Source, "duration_ms", duration*1000)

	return &Handle{
		identity: l.id,
		tier:     tier,
		source:   res.resolved.Source,
		digest:   res.resolved.Digest,
		value:    res.resolved.Value,
		closer:   res.resolved.Close,
	}, nil
}

func releaseLate[T any](results <-chan attemptResult[T]) {
	late := <-results
	if late.err == nil && late.resolved.Close != nil {
		_ = late.resolved.Close(context.Background())
	}
}
