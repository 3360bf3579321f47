// Package metrics collects Prometheus metrics for the acquisition
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector bundles the pipeline's metrics. Construct one per process and
// share it; constructing two collectors against the same registerer
// panics on duplicate registration.
type Collector struct {
	// Retrieval
	FetchAttemptsTotal  *prometheus.CounterVec // outcome: ok, transport, rejected, rate_limited, circuit_open
	FetchExhaustedTotal prometheus.Counter

	// Decoding
	ChunksTotal             *prometheus.CounterVec // source, status
	ObservationsParsedTotal prometheus.Counter
	ParseDiagnosticsTotal   prometheus.Counter

	// Aggregation
	StationsDroppedTotal *prometheus.CounterVec // reason: sampled, missing, bad, empty, geo, misaligned
	RunDuration          prometheus.Histogram

	// Augmentation
	QuotaAbortsTotal prometheus.Counter
}

// NewCollector registers the pipeline metrics with reg under the given
// namespace.
func NewCollector(reg prometheus.Registerer, namespace string) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		FetchAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_attempts_total",
				Help:      "Upstream fetch attempts by outcome",
			},
			[]string{"outcome"},
		),
		FetchExhaustedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_exhausted_total",
				Help:      "Logical fetches that exhausted the attempt budget",
			},
		),
		ChunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_total",
				Help:      "Raw data chunks processed, by source and status",
			},
			[]string{"source", "status"},
		),
		ObservationsParsedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "observations_parsed_total",
				Help:      "Decoded weather observations",
			},
		),
		ParseDiagnosticsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parse_diagnostics_total",
				Help:      "Unparsed groups recorded while decoding reports",
			},
		),
		StationsDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stations_dropped_total",
				Help:      "Stations excluded from a run, by reason",
			},
			[]string{"reason"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "End-to-end pipeline run duration",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
			},
		),
		QuotaAbortsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "irradiance_quota_aborts_total",
				Help:      "Augmentation passes aborted by upstream quota errors",
			},
		),
	}
}
