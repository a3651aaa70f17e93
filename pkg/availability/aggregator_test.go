package availability_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chazu/qudag/pkg/availability"
	"github.com/chazu/qudag/pkg/binding"
	"github.com/chazu/qudag/pkg/platform"
)

var _ = Describe("Aggregator", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Context("in a sandbox-only environment", func() {
		It("reports only crypto as available on the portable tier", func() {
			var checks atomic.Int32
			probe := platform.NewProbe(sandboxed(), func(context.Context) error {
				checks.Add(1)
				return nil
			})
			native := &fakeStrategy{}
			reg := catalogRegistry(native, &fakeStrategy{}, &fakeStrategy{}, &fakeStrategy{})

			report := availability.New(reg, probe).ProbeAll(ctx)

			Expect(report.Tier()).To(Equal(platform.Portable))
			Expect(report.Available()).To(Equal([]binding.Identity{binding.Crypto}))
			Expect(report.Unavailable()).To(Equal([]binding.Identity{binding.Orchestration, binding.Training}))
			Expect(checks.Load()).To(BeZero(), "detection must not attempt resolution")
			Expect(native.resolves.Load()).To(BeZero())

			for _, id := range report.Unavailable() {
				s, ok := report.Status(id)
				Expect(ok).To(BeTrue())
				Expect(s.Reason).To(Equal(binding.TierUnsupported))
			}
			crypto, _ := report.Status(binding.Crypto)
			Expect(crypto.LoadedTier).To(Equal(platform.Portable))
			Expect(crypto.Degraded).To(BeFalse())
		})
	})

	Context("in a native-capable environment", func() {
		It("reports every module available on the accelerated tier", func() {
			probe := platform.NewProbe(nativeCapable(), func(context.Context) error { return nil })
			portable := &fakeStrategy{}
			reg := catalogRegistry(&fakeStrategy{}, portable, &fakeStrategy{}, &fakeStrategy{})

			report := availability.New(reg, probe).ProbeAll(ctx)

			Expect(report.Tier()).To(Equal(platform.Accelerated))
			Expect(report.Available()).To(Equal([]binding.Identity{binding.Crypto, binding.Orchestration, binding.Training}))
			Expect(report.Unavailable()).To(BeEmpty())
			Expect(portable.resolves.Load()).To(BeZero(), "fallback must not run when the primary loads")
			Expect(report.Profile().RelativeSpeed).To(Equal(1.0))
		})

		It("falls back to portable when the native crypto check fails", func() {
			probe := platform.NewProbe(nativeCapable(), func(context.Context) error { return errMissing })
			reg := catalogRegistry(&fakeStrategy{}, &fakeStrategy{}, &fakeStrategy{}, &fakeStrategy{})

			report := availability.New(reg, probe).ProbeAll(ctx)
			Expect(report.Tier()).To(Equal(platform.Portable))
			Expect(report.Available()).To(Equal([]binding.Identity{binding.Crypto}))
		})
	})

	Describe("ProbeAll", func() {
		It("classifies every registered module exactly once", func() {
			reg := catalogRegistry(
				&fakeStrategy{err: errMissing},
				&fakeStrategy{},
				&fakeStrategy{err: errMissing},
				&fakeStrategy{},
			)

			report := availability.New(reg, platform.FixedProbe(platform.Accelerated)).ProbeAll(ctx)

			all := append(report.Available(), report.Unavailable()...)
			Expect(all).To(ConsistOf(reg.Identities()))
			for _, id := range report.Available() {
				Expect(report.Unavailable()).NotTo(ContainElement(id))
			}
			Expect(report.Modules()).To(HaveLen(reg.Len()))

			crypto, _ := report.Status(binding.Crypto)
			Expect(crypto.Available).To(BeTrue())
			Expect(crypto.Degraded).To(BeTrue())
			Expect(crypto.LoadedTier).To(Equal(platform.Portable))

			orch, _ := report.Status(binding.Orchestration)
			Expect(orch.Reason).To(Equal(binding.ResolutionFailed))
			Expect(orch.Error).To(ContainSubstring("artifact missing"))
		})

		It("lists modules in registry order regardless of completion order", func() {
			reg := catalogRegistry(
				&fakeStrategy{delay: 60 * time.Millisecond},
				&fakeStrategy{},
				&fakeStrategy{delay: 30 * time.Millisecond},
				&fakeStrategy{},
			)

			report := availability.New(reg, platform.FixedProbe(platform.Accelerated)).ProbeAll(ctx)

			ids := make([]binding.Identity, 0, 3)
			for _, s := range report.Modules() {
				ids = append(ids, s.Identity)
			}
			Expect(ids).To(Equal([]binding.Identity{binding.Crypto, binding.Orchestration, binding.Training}))
		})

		It("closes the handles it obtains", func() {
			crypto := &fakeStrategy{}
			orch := &fakeStrategy{}
			reg := catalogRegistry(crypto, &fakeStrategy{}, orch, &fakeStrategy{})

			availability.New(reg, platform.FixedProbe(platform.Accelerated)).ProbeAll(ctx)

			Expect(crypto.closes.Load()).To(Equal(int32(1)))
			Expect(orch.closes.Load()).To(Equal(int32(1)))
		})

		It("bounds a hung strategy by the probe timeout", func() {
			hung := &hangingStrategy{release: make(chan struct{})}
			DeferCleanup(func() { close(hung.release) })

			reg := catalogRegistry(&fakeStrategy{}, &fakeStrategy{}, hung, &fakeStrategy{})
			agg := availability.New(reg, platform.FixedProbe(platform.Accelerated), availability.WithProbeTimeout(50*time.Millisecond))

			start := time.Now()
			report := agg.ProbeAll(ctx)

			Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
			Expect(report.Available()).To(Equal([]binding.Identity{binding.Crypto, binding.Training}))

			orch, _ := report.Status(binding.Orchestration)
			Expect(orch.Reason).To(Equal(binding.ResolutionFailed))
			Expect(orch.Error).To(ContainSubstring("deadline exceeded"))
		})

		It("captures a panicking strategy as that module's failure", func() {
			reg := catalogRegistry(&fakeStrategy{}, &fakeStrategy{}, &fakeStrategy{panics: true}, &fakeStrategy{})

			report := availability.New(reg, platform.FixedProbe(platform.Accelerated)).ProbeAll(ctx)

			Expect(report.Unavailable()).To(Equal([]binding.Identity{binding.Orchestration}))
			orch, _ := report.Status(binding.Orchestration)
			Expect(orch.Error).To(ContainSubstring("panicked"))
		})

		It("captures a panicking entry as that module's failure", func() {
			reg := binding.MustRegistry(
				cryptoEntry(&fakeStrategy{}, &fakeStrategy{}),
				panickingEntry{id: binding.Training},
			)

			report := availability.New(reg, platform.FixedProbe(platform.Accelerated)).ProbeAll(ctx)

			Expect(report.Available()).To(Equal([]binding.Identity{binding.Crypto}))
			training, _ := report.Status(binding.Training)
			Expect(training.Reason).To(Equal(binding.ResolutionFailed))
			Expect(training.Error).To(ContainSubstring("entry exploded"))
		})

		It("honours a concurrency bound of one", func() {
			reg := catalogRegistry(&fakeStrategy{}, &fakeStrategy{}, &fakeStrategy{}, &fakeStrategy{})

			report := availability.New(reg, platform.FixedProbe(platform.Accelerated), availability.WithMaxConcurrency(1)).ProbeAll(ctx)
			Expect(report.Available()).To(HaveLen(3))
		})

		It("handles an empty registry", func() {
			report := availability.New(binding.MustRegistry(), platform.FixedProbe(platform.Portable)).ProbeAll(ctx)
			Expect(report.Available()).To(BeEmpty())
			Expect(report.Unavailable()).To(BeEmpty())
		})

		It("encodes the report as JSON", func() {
			reg := catalogRegistry(&fakeStrategy{}, &fakeStrategy{}, &fakeStrategy{}, &fakeStrategy{})
			report := availability.New(reg, platform.FixedProbe(platform.Portable)).ProbeAll(ctx)

			raw, err := json.Marshal(report)
			Expect(err).NotTo(HaveOccurred())

			var decoded map[string]any
			Expect(json.Unmarshal(raw, &decoded)).To(Succeed())
			Expect(decoded).To(HaveKeyWithValue("tier", "portable"))
			Expect(decoded["available"]).To(ConsistOf("crypto"))
			Expect(decoded["unavailable"]).To(ConsistOf("orchestration", "training"))
			Expect(report.String()).To(ContainSubstring("tier=portable"))
		})

		It("returns copies from its accessors", func() {
			reg := catalogRegistry(&fakeStrategy{}, &fakeStrategy{}, &fakeStrategy{}, &fakeStrategy{})
			report := availability.New(reg, platform.FixedProbe(platform.Accelerated)).ProbeAll(ctx)

			modules := report.Modules()
			modules[0].Available = false
			Expect(report.IsAvailable(binding.Crypto)).To(BeTrue())
		})
	})

	Describe("ProbeOne", func() {
		It("returns TierUnsupported for orchestration on the portable tier", func() {
			orch := &fakeStrategy{}
			reg := catalogRegistry(&fakeStrategy{}, &fakeStrategy{}, orch, &fakeStrategy{})
			agg := availability.New(reg, platform.FixedProbe(platform.Portable))

			for i := 0; i < 3; i++ {
				outcome := agg.ProbeOne(ctx, binding.Orchestration)
				Expect(outcome.IsLoaded()).To(BeFalse())
				Expect(outcome.Reason).To(Equal(binding.TierUnsupported))
			}
			Expect(orch.resolves.Load()).To(BeZero())
		})

		It("falls back to the portable crypto build when native fails", func() {
			reg := catalogRegistry(&fakeStrategy{err: binding.ErrArtifactIncompatible}, &fakeStrategy{}, &fakeStrategy{}, &fakeStrategy{})
			agg := availability.New(reg, platform.FixedProbe(platform.Accelerated))

			outcome := agg.ProbeOne(ctx, binding.Crypto)
			Expect(outcome.IsLoaded()).To(BeTrue())
			DeferCleanup(outcome.Handle.Close, ctx)
			Expect(outcome.Handle.Degraded()).To(BeTrue())
			Expect(outcome.Handle.Tier()).To(Equal(platform.Portable))
		})

		It("falls back to the portable crypto build when native hangs", func() {
			hung := &hangingStrategy{release: make(chan struct{})}
			DeferCleanup(func() { close(hung.release) })

			portable := &fakeStrategy{}
			reg := catalogRegistry(hung, portable, &fakeStrategy{}, &fakeStrategy{})
			agg := availability.New(reg, platform.FixedProbe(platform.Accelerated), availability.WithProbeTimeout(100*time.Millisecond))

			outcome := agg.ProbeOne(ctx, binding.Crypto)
			Expect(outcome.IsLoaded()).To(BeTrue(), "outcome: %v", outcome.Err)
			DeferCleanup(outcome.Handle.Close, ctx)
			Expect(outcome.Handle.Degraded()).To(BeTrue())
			Expect(outcome.Handle.Tier()).To(Equal(platform.Portable))
			Expect(portable.resolves.Load()).To(Equal(int32(1)))
		})

		It("reports FallbackExhausted when both crypto builds fail", func() {
			reg := catalogRegistry(
				&fakeStrategy{err: binding.ErrArtifactIncompatible},
				&fakeStrategy{err: binding.ErrArtifactNotFound},
				&fakeStrategy{}, &fakeStrategy{},
			)
			agg := availability.New(reg, platform.FixedProbe(platform.Accelerated))

			outcome := agg.ProbeOne(ctx, binding.Crypto)
			Expect(outcome.IsLoaded()).To(BeFalse())
			Expect(outcome.Reason).To(Equal(binding.FallbackExhausted))
			Expect(errors.Is(outcome.Err, binding.ErrArtifactIncompatible)).To(BeTrue())
			Expect(errors.Is(outcome.Err, binding.ErrArtifactNotFound)).To(BeTrue())
		})

		It("is idempotent but hands out independent handles", func() {
			crypto := &fakeStrategy{}
			reg := catalogRegistry(crypto, &fakeStrategy{}, &fakeStrategy{}, &fakeStrategy{})
			agg := availability.New(reg, platform.FixedProbe(platform.Accelerated))

			first := agg.ProbeOne(ctx, binding.Crypto)
			second := agg.ProbeOne(ctx, binding.Crypto)
			Expect(first.IsLoaded()).To(BeTrue())
			Expect(second.IsLoaded()).To(BeTrue())
			Expect(first.Handle).NotTo(BeIdenticalTo(second.Handle))

			a, _ := binding.As[*stub](first.Handle)
			b, _ := binding.As[*stub](second.Handle)
			Expect(a).NotTo(BeIdenticalTo(b))

			Expect(first.Handle.Close(ctx)).To(Succeed())
			Expect(crypto.closes.Load()).To(Equal(int32(1)), "closing one handle must not close the other")
			Expect(second.Handle.Close(ctx)).To(Succeed())
		})

		It("reports unknown modules as ResolutionFailed", func() {
			reg := catalogRegistry(&fakeStrategy{}, &fakeStrategy{}, &fakeStrategy{}, &fakeStrategy{})
			outcome := availability.New(reg, platform.FixedProbe(platform.Accelerated)).ProbeOne(ctx, "telemetry")

			Expect(outcome.Reason).To(Equal(binding.ResolutionFailed))
			Expect(errors.Is(outcome.Err, binding.ErrUnknownModule)).To(BeTrue())
		})

		It("detects the tier only once across calls", func() {
			var checks atomic.Int32
			probe := platform.NewProbe(nativeCapable(), func(context.Context) error {
				checks.Add(1)
				return nil
			})
			reg := catalogRegistry(&fakeStrategy{}, &fakeStrategy{}, &fakeStrategy{}, &fakeStrategy{})
			agg := availability.New(reg, probe)

			agg.ProbeAll(ctx)
			outcome := agg.ProbeOne(ctx, binding.Training)
			Expect(outcome.IsLoaded()).To(BeTrue())
			Expect(outcome.Handle.Close(ctx)).To(Succeed())
			Expect(agg.Tier(ctx)).To(Equal(platform.Accelerated))
			Expect(checks.Load()).To(Equal(int32(1)))
		})
	})
})
