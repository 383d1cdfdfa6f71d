package scheduler

import (
	"newsfeed/internal/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus metrics for the Scheduler, generalizing the
// worker component's WorkerMetrics from a single fixed daily job to a
// per-source adaptive timeline.
type Metrics struct {
	*config.ConfigMetrics

	// FetchRunsTotal counts fetch_source invocations by outcome
	// (success/error/timeout).
	FetchRunsTotal *prometheus.CounterVec

	// FetchDurationSeconds observes adapter fetch latency.
	FetchDurationSeconds prometheus.Histogram

	// NewsItemsFetchedTotal counts items returned across all fetches.
	NewsItemsFetchedTotal prometheus.Counter

	// DueSourcesGauge reports how many sources were due at the last tick.
	DueSourcesGauge prometheus.Gauge

	// InFlightFetchesGauge reports current worker-pool occupancy.
	InFlightFetchesGauge prometheus.Gauge

	// SingleflightJoinsTotal counts callers that joined an in-flight fetch
	// rather than triggering a new one.
	SingleflightJoinsTotal prometheus.Counter
}

// NewMetrics builds Scheduler metrics; registration happens via promauto at
// construction time.
func NewMetrics() *Metrics {
	return &Metrics{
		ConfigMetrics: config.NewConfigMetrics("scheduler"),

		FetchRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_fetch_runs_total",
			Help: "Total number of fetch_source invocations by outcome",
		}, []string{"outcome"}),

		FetchDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduler_fetch_duration_seconds",
			Help:    "Duration of a single adapter fetch in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		NewsItemsFetchedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_news_items_fetched_total",
			Help: "Total number of news items returned across all fetches",
		}),

		DueSourcesGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_due_sources",
			Help: "Number of sources whose next-due time had elapsed at the last tick",
		}),

		InFlightFetchesGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_in_flight_fetches",
			Help: "Number of adapter fetches currently running",
		}),

		SingleflightJoinsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_singleflight_joins_total",
			Help: "Total number of callers that joined an already in-flight fetch",
		}),
	}
}

// MustRegister exists for API parity with the worker component; metrics are
// auto-registered via promauto when constructed.
func (m *Metrics) MustRegister() {}

func (m *Metrics) RecordFetchRun(outcome string) {
	m.FetchRunsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordFetchDuration(seconds float64) {
	m.FetchDurationSeconds.Observe(seconds)
}

func (m *Metrics) RecordItemsFetched(count int) {
	m.NewsItemsFetchedTotal.Add(float64(count))
}

func (m *Metrics) SetDueSources(count int) {
	m.DueSourcesGauge.Set(float64(count))
}

func (m *Metrics) IncInFlight() {
	m.InFlightFetchesGauge.Inc()
}

func (m *Metrics) DecInFlight() {
	m.InFlightFetchesGauge.Dec()
}

func (m *Metrics) RecordSingleflightJoin() {
	m.SingleflightJoinsTotal.Inc()
}
