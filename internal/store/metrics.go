// Package store – Prometheus instrumentation for tier attempts.
//
// Labels are bounded by construction: three tiers, three operations, and
// the closed TierStatus set.
package store

import "github.com/prometheus/client_golang/prometheus"

// tierOps counts per-tier attempts by operation and outcome.
var tierOps = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "conversation_store_tier_ops_total",
		Help: "Tier attempts by tier, operation, and outcome.",
	},
	[]string{"tier", "op", "outcome"},
)

func init() {
	prometheus.MustRegister(tierOps)
}
