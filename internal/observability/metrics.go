package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marine_grid"

// Metrics holds the Prometheus counters, histograms, and gauges for sweeps,
// searches, and merges.
type Metrics struct {
	// Upstream API metrics.
	UpstreamRequests *prometheus.CounterVec   // labels: endpoint={points,gridpoints}, outcome={success,network,status,decode,circuit_open}
	UpstreamDuration *prometheus.HistogramVec // labels: endpoint
	PointCache       *prometheus.CounterVec   // labels: result={hit,miss}

	// Sweep metrics.
	CornerRetries prometheus.Counter
	Cells         *prometheus.CounterVec // labels: outcome={success,failed}
	SweepRunning  prometheus.Gauge
	SweepDuration prometheus.Histogram

	// Search and merge metrics.
	SearchCellsVisited prometheus.Counter
	MergeRecords       *prometheus.CounterVec // labels: class={unique,exact,geohash_only,mismatch}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.PointCache,
		m.CornerRetries,
		m.Cells,
		m.SweepRunning,
		m.SweepDuration,
		m.SearchCellsVisited,
		m.MergeRecords,
	)
	return m
}

// NewMetricsForTesting creates unregistered metrics to avoid "already
// registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "NWS API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "NWS API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		PointCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "point_cache_total",
			Help:      "Point lookup cache results.",
		}, []string{"result"}),
		CornerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corner_retries_total",
			Help:      "Corner lookups retried after shifting the corner.",
		}),
		Cells: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_total",
			Help:      "Grid cells processed during sweeps by outcome.",
		}, []string{"outcome"}),
		SweepRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sweep_running",
			Help:      "1 while a sweep is in progress, 0 otherwise.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of a complete resolve-aggregate-load run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		SearchCellsVisited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_cells_visited_total",
			Help:      "Cells evaluated by nearest-value searches.",
		}),
		MergeRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_records_total",
			Help:      "Records classified by the merge engine.",
		}, []string{"class"}),
	}
}
