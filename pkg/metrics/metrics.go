package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every qudag collector. It is separate from the default
// registerer.
var Registry = prometheus.NewRegistry()

var (
	// Resolution attempt metrics
	resolveTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qudag_module_resolve_total",
		Help: "Total number of module resolution attempts",
	}, []string{"module", "tier", "result"})

	resolveDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qudag_module_resolve_duration_seconds",
		Help:    "Duration of module resolution attempts",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"module", "tier"})

	// Load outcome metrics
	loadOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qudag_module_load_outcomes_total",
		Help: "Total number of module loads by final outcome",
	}, []string{"module", "outcome"})

	fallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qudag_module_fallbacks_total",
		Help: "Total number of loads that were served by a fallback tier",
	}, []string{"module", "tier"})

	// Platform metrics
	platformTier = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qudag_platform_tier",
		Help: "Detected runtime tier (1 for the active tier)",
	}, []string{"tier"})
)

func init() {
	Registry.MustRegister(
		resolveTotal,
		resolveDuration,
		loadOutcomesTotal,
		fallbacksTotal,
		platformTier,
		collectors.NewGoCollector(),
	)
}

// RecordResolve records a single resolution attempt
// result: "success" or "failure"
func RecordResolve(module, tier, result string, durationSeconds float64) {
	resolveTotal.WithLabelValues(module, tier, result).Inc()
	resolveDuration.WithLabelValues(module, tier).Observe(durationSeconds)
}

// RecordOutcome records the final outcome of a load
// outcome: "loaded" or one of the unavailability reasons
func RecordOutcome(module, outcome string) {
	loadOutcomesTotal.WithLabelValues(module, outcome).Inc()
}

// RecordFallback records a load served by the fallback tier
func RecordFallback(module, tier string) {
	fallbacksTotal.WithLabelValues(module, tier).Inc()
}

// SetPlatformTier marks the active tier. All other known tiers are reset to 0.
func SetPlatformTier(active string, known ...string) {
	for _, t := range known {
		platformTier.WithLabelValues(t).Set(0)
	}
	platformTier.WithLabelValues(active).Set(1)
}

// ResolveCount returns the number of resolution attempts recorded for the
// given labels. Intended for tests and diagnostics.
func ResolveCount(module, tier, result string) prometheus.Counter {
	return resolveTotal.WithLabelValues(module, tier, result)
}

// FallbackCount returns the fallback counter for the given labels.
func FallbackCount(module, tier string) prometheus.Counter {
	return fallbacksTotal.WithLabelValues(module, tier)
}

// TierGauge returns the tier gauge for the given tier label.
func TierGauge(tier string) prometheus.Gauge {
	return platformTier.WithLabelValues(tier)
}
