package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus metrics for the Stats Collector.
type Metrics struct {
	// OutcomesTotal counts recorded fetch outcomes by api_type and outcome
	// (success/error).
	OutcomesTotal *prometheus.CounterVec

	// FlushesTotal counts successful flushes to the metadata store.
	FlushesTotal prometheus.Counter

	// FlushFailuresTotal counts flush attempts that exhausted their retry
	// budget and were merged back into the live accumulator instead.
	FlushFailuresTotal prometheus.Counter
}

// NewMetrics builds Stats Collector metrics; registration happens via
// promauto at construction time.
func NewMetrics() *Metrics {
	return &Metrics{
		OutcomesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stats_fetch_outcomes_total",
			Help: "Total number of fetch outcomes recorded by api_type and outcome",
		}, []string{"api_type", "outcome"}),

		FlushesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stats_flushes_total",
			Help: "Total number of successful stats flushes to the metadata store",
		}),

		FlushFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stats_flush_failures_total",
			Help: "Total number of stats flush attempts that exhausted their retry budget",
		}),
	}
}

func (m *Metrics) RecordOutcome(apiType, outcome string) {
	m.OutcomesTotal.WithLabelValues(apiType, outcome).Inc()
}
