// Package dedup – Prometheus instrumentation for duplicate detection.
//
// Cardinality is bounded by construction: the decision outcome is one of
// three constant values and the eviction counter carries no labels.
package dedup

import "github.com/prometheus/client_golang/prometheus"

var (
	// decisions counts IsDuplicate outcomes by kind.
	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_decisions_total",
			Help: "Duplicate-detection decisions by outcome.",
		},
		[]string{"outcome"},
	)

	// evictions counts fingerprints dropped by batch eviction.
	evictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_fingerprint_evictions_total",
			Help: "Fingerprints evicted from the bounded sets.",
		},
	)
)

func init() {
	prometheus.MustRegister(decisions, evictions)
}
