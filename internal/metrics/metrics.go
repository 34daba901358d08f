// Package metrics exposes Prometheus collectors for ingestion and job
// execution. Every method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "colabsfm"

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	ingestedFiles  *prometheus.CounterVec
	ingestFailures *prometheus.CounterVec
	jobsEnqueued   *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobsRunning    prometheus.Gauge
	regionsCreated prometheus.Counter
}

// New registers every collector on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		ingestedFiles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingested_files_total",
				Help:      "Images stored and recorded in the upload ledger, by ingestion variant.",
			},
			[]string{"variant"},
		),
		ingestFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_failures_total",
				Help:      "Failed ingestion calls by variant and error kind.",
			},
			[]string{"variant", "kind"},
		),
		jobsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_enqueued_total",
				Help:      "Pipeline jobs accepted for asynchronous execution.",
			},
			[]string{"kind"},
		),
		jobsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_finished_total",
				Help:      "Pipeline jobs finished by kind and status.",
			},
			[]string{"kind", "status"},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Wall time spent running pipeline jobs.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"kind"},
		),
		jobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Pipeline jobs currently executing.",
		}),
		regionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regions_created_total",
			Help:      "Region create calls that succeeded.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegionCreated counts a successful region create.
func (m *Metrics) RegionCreated() {
	if m == nil {
		return
	}
	m.regionsCreated.Inc()
}

// IngestSucceeded adds files to the ingested total for variant.
func (m *Metrics) IngestSucceeded(variant string, files int) {
	if m == nil || files <= 0 {
		return
	}
	m.ingestedFiles.WithLabelValues(variant).Add(float64(files))
}

// IngestFailed counts a failed ingestion call.
func (m *Metrics) IngestFailed(variant, kind string) {
	if m == nil {
		return
	}
	m.ingestFailures.WithLabelValues(variant, kind).Inc()
}

// JobEnqueued counts an accepted job.
func (m *Metrics) JobEnqueued(kind string) {
	if m == nil {
		return
	}
	m.jobsEnqueued.WithLabelValues(kind).Inc()
}

// JobStarted marks a job as running.
func (m *Metrics) JobStarted(string) {
	if m == nil {
		return
	}
	m.jobsRunning.Inc()
}

// JobFinished records the outcome and duration of a job.
func (m *Metrics) JobFinished(kind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobsRunning.Dec()
	m.jobsFinished.WithLabelValues(kind, status).Inc()
	m.jobDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}
