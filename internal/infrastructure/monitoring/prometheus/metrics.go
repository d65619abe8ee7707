// Package prometheus exposes pipeline metrics.  One Metrics value is shared
// by the orchestrator, the parameter cache, and the HTTP layer; it owns its
// registry so tests can instantiate it repeatedly without panicking on
// duplicate registration.
package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stageDurationBuckets = []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 900}
	httpDurationBuckets  = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}
)

// Metrics holds every metric the pipeline emits.
type Metrics struct {
	registry *prometheus.Registry

	JobsTotal      *prometheus.CounterVec
	JobFailures    *prometheus.CounterVec
	JobRetries     prometheus.Counter
	StageDuration  *prometheus.HistogramVec
	ActiveWorkers  prometheus.Gauge
	QueueDepth     prometheus.Gauge
	BatchesTotal   prometheus.Counter
	BundlesEmitted prometheus.Counter

	ParamCacheHits   prometheus.Counter
	ParamCacheMisses prometheus.Counter
	ParamToolRuns    *prometheus.CounterVec
	ParamToolTime    prometheus.Histogram

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics builds and registers all pipeline metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := func(name, help string, labels ...string) *prometheus.CounterVec {
		v := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fepforge", Name: name, Help: help,
		}, labels)
		reg.MustRegister(v)
		return v
	}

	m := &Metrics{
		registry: reg,

		JobsTotal:   factory("jobs_total", "Jobs finished, by terminal status.", "status"),
		JobFailures: factory("job_failures_total", "Permanent job failures, by error code.", "code"),
		ParamToolRuns: factory("param_tool_runs_total",
			"Parameterization tool invocations, by outcome.", "outcome"),
		HTTPRequestsTotal: factory("http_requests_total",
			"HTTP requests, by method, path and status.", "method", "path", "status"),
	}

	m.JobRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fepforge", Name: "job_retries_total",
		Help: "Transient-failure retries across all jobs.",
	})
	m.StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fepforge", Name: "stage_duration_seconds",
		Help:    "Wall time of each pipeline stage.",
		Buckets: stageDurationBuckets,
	}, []string{"stage"})
	m.ActiveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fepforge", Name: "active_workers",
		Help: "Workers currently executing a job.",
	})
	m.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fepforge", Name: "queue_depth",
		Help: "Jobs waiting for a worker.",
	})
	m.BatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fepforge", Name: "batches_total",
		Help: "Batches accepted for processing.",
	})
	m.BundlesEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fepforge", Name: "bundles_emitted_total",
		Help: "Simulation-input bundles uploaded.",
	})
	m.ParamCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fepforge", Name: "param_cache_hits_total",
		Help: "Parameter-set cache hits.",
	})
	m.ParamCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fepforge", Name: "param_cache_misses_total",
		Help: "Parameter-set cache misses.",
	})
	m.ParamToolTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fepforge", Name: "param_tool_duration_seconds",
		Help:    "Wall time of parameterization tool runs.",
		Buckets: stageDurationBuckets,
	})
	m.HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fepforge", Name: "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: httpDurationBuckets,
	}, []string{"method", "path"})

	reg.MustRegister(
		m.JobRetries, m.StageDuration, m.ActiveWorkers, m.QueueDepth,
		m.BatchesTotal, m.BundlesEmitted,
		m.ParamCacheHits, m.ParamCacheMisses, m.ParamToolTime,
		m.HTTPRequestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ParamCacheHit implements the parameter-cache observer contract.
func (m *Metrics) ParamCacheHit() { m.ParamCacheHits.Inc() }

// ParamCacheMiss implements the parameter-cache observer contract.
func (m *Metrics) ParamCacheMiss() { m.ParamCacheMisses.Inc() }

// ParamToolRun records one tool invocation.
func (m *Metrics) ParamToolRun(d time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.ParamToolRuns.WithLabelValues(outcome).Inc()
	m.ParamToolTime.Observe(d.Seconds())
}

// BatchAccepted counts one accepted batch and tops up the queue gauge.
func (m *Metrics) BatchAccepted(jobs int) {
	m.BatchesTotal.Inc()
	m.QueueDepth.Add(float64(jobs))
}

// SetQueueDepth reports the number of jobs waiting for a worker.
func (m *Metrics) SetQueueDepth(n int) { m.QueueDepth.Set(float64(n)) }

// AddActiveWorkers moves the busy-worker gauge.
func (m *Metrics) AddActiveWorkers(delta int) { m.ActiveWorkers.Add(float64(delta)) }

// ObserveStage records the wall time of one pipeline stage run.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// JobRetried counts one transient-failure retry.
func (m *Metrics) JobRetried() { m.JobRetries.Inc() }

// JobFinished counts a terminal job status; failed jobs also count by code.
func (m *Metrics) JobFinished(status, code string) {
	m.JobsTotal.WithLabelValues(status).Inc()
	if code != "" {
		m.JobFailures.WithLabelValues(code).Inc()
	}
}

// BundleEmitted counts one uploaded simulation-input bundle.
func (m *Metrics) BundleEmitted() { m.BundlesEmitted.Inc() }

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
