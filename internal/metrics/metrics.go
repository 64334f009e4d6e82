// Package metrics holds the Prometheus collectors exposed at /metrics.
//
// Collectors live on a private registry so several feeds (and tests) can
// coexist in one process. Every recording method is safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all feed collectors.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Feed
	Published          prometheus.Counter
	Downloads          prometheus.Counter
	Deleted            prometheus.Counter
	ExtractionFailures prometheus.Counter
	ScanDuration       prometheus.Histogram
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feed_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_packages_published_total",
			Help: "Packages accepted by publish",
		}),
		Downloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_package_downloads_total",
			Help: "Package archives served",
		}),
		Deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_packages_deleted_total",
			Help: "Package versions removed by delete or purge",
		}),
		ExtractionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_metadata_extraction_failures_total",
			Help: "Archives whose nuspec could not be read",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feed_scan_duration_seconds",
			Help:    "Time spent enumerating and describing the store",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.Published,
		m.Downloads,
		m.Deleted,
		m.ExtractionFailures,
		m.ScanDuration,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) PackagePublished() {
	if m == nil {
		return
	}
	m.Published.Inc()
}

func (m *Metrics) PackageDownloaded() {
	if m == nil {
		return
	}
	m.Downloads.Inc()
}

// PackagesDeleted adds n removed versions.
func (m *Metrics) PackagesDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Deleted.Add(float64(n))
}

func (m *Metrics) ExtractionFailed() {
	if m == nil {
		return
	}
	m.ExtractionFailures.Inc()
}

// ObserveScan records the duration of a store scan started at start.
func (m *Metrics) ObserveScan(start time.Time) {
	if m == nil {
		return
	}
	m.ScanDuration.Observe(time.Since(start).Seconds())
}
