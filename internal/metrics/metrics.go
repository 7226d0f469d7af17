// Package metrics provides Prometheus metrics for fastq-gather.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a gather run. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Row metrics
	RowsProcessed *prometheus.CounterVec
	RowsFailed    *prometheus.CounterVec
	RowsEmpty     *prometheus.CounterVec

	// Source metrics
	SourceFilesRead *prometheus.CounterVec
	SourceBytesRead *prometheus.CounterVec
	SourceErrors    *prometheus.CounterVec

	// Artifact metrics
	ArtifactsWritten  prometheus.Counter
	ArtifactBytes     prometheus.Counter
	ArtifactSize      prometheus.Histogram
	ArtifactDuration  prometheus.Histogram
	StorageErrors     *prometheus.CounterVec
	InFlightArtifacts prometheus.Gauge
	CatalogErrors     prometheus.Counter
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

// New registers all metrics with reg. Pass prometheus.DefaultRegisterer
// in the binary and a fresh registry in tests.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "fastq_gather"
	}
	factory := promauto.With(reg)

	return &Metrics{
		RowsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_processed_total",
				Help:      "Total number of manifest rows whose files were written",
			},
			[]string{"group"},
		),
		RowsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_failed_total",
				Help:      "Total number of manifest rows that failed",
			},
			[]string{"group"},
		),
		RowsEmpty: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_empty_total",
				Help:      "Total number of manifest rows that matched no read files",
			},
			[]string{"group"},
		),
		SourceFilesRead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_files_read_total",
				Help:      "Total number of raw read files consumed",
			},
			[]string{"group"},
		),
		SourceBytesRead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_bytes_read_total",
				Help:      "Total uncompressed bytes read from raw read files",
			},
			[]string{"group"},
		),
		SourceErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_errors_total",
				Help:      "Total number of source listing and read errors",
			},
			[]string{"group"},
		),
		ArtifactsWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_written_total",
				Help:      "Total number of sample artifacts committed",
			},
		),
		ArtifactBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_bytes_written_total",
				Help:      "Total compressed bytes committed to artifacts",
			},
		),
		ArtifactSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "artifact_bytes",
				Help:      "Compressed size of committed artifacts",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 12), // 1KB to ~4GB
			},
		),
		ArtifactDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "artifact_duration_seconds",
				Help:      "Time to gather, compress and commit one artifact",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5min
			},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of artifact write errors",
			},
			[]string{"group"},
		),
		InFlightArtifacts: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_artifacts",
				Help:      "Number of artifacts currently being written",
			},
		),
		CatalogErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_errors_total",
				Help:      "Total number of sample catalog errors",
			},
		),
	}
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// IncRowsProcessed increments the rows processed counter.
func (m *Metrics) IncRowsProcessed(group string) {
	if m == nil {
		return
	}
	m.RowsProcessed.WithLabelValues(group).Inc()
}

// IncRowsFailed increments the rows failed counter.
func (m *Metrics) IncRowsFailed(group string) {
	if m == nil {
		return
	}
	m.RowsFailed.WithLabelValues(group).Inc()
}

// IncRowsEmpty increments the rows with no source files counter.
func (m *Metrics) IncRowsEmpty(group string) {
	if m == nil {
		return
	}
	m.RowsEmpty.WithLabelValues(group).Inc()
}

// AddSourceFile records one consumed source file of n bytes.
func (m *Metrics) AddSourceFile(group string, n int64) {
	if m == nil {
		return
	}
	m.SourceFilesRead.WithLabelValues(group).Inc()
	m.SourceBytesRead.WithLabelValues(group).Add(float64(n))
}

// IncSourceErrors increments the source errors counter.
func (m *Metrics) IncSourceErrors(group string) {
	if m == nil {
		return
	}
	m.SourceErrors.WithLabelValues(group).Inc()
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(group string) {
	if m == nil {
		return
	}
	m.StorageErrors.WithLabelValues(group).Inc()
}

// ObserveArtifact records a committed artifact.
func (m *Metrics) ObserveArtifact(bytes int64, seconds float64) {
	if m == nil {
		return
	}
	m.ArtifactsWritten.Inc()
	m.ArtifactBytes.Add(float64(bytes))
	m.ArtifactSize.Observe(float64(bytes))
	m.ArtifactDuration.Observe(seconds)
}

// AddInFlight adjusts the in-flight artifacts gauge.
func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlightArtifacts.Add(delta)
}

// IncCatalogErrors increments the catalog errors counter.
func (m *Metrics) IncCatalogErrors() {
	if m == nil {
		return
	}
	m.CatalogErrors.Inc()
}
