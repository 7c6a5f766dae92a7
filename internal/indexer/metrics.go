// Package indexer – Prometheus instrumentation for the indexing pipeline.
package indexer

import "github.com/prometheus/client_golang/prometheus"

// tasks counts finished indexing tasks by outcome.
var tasks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "indexer_tasks_total",
		Help: "Completed indexing tasks by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(tasks)
}
