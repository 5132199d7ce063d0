// Package metrics owns the Prometheus registry for the delivery pipeline.
// All recording methods are safe on a nil *Metrics so components can run
// without instrumentation in tests and one-shot CLI commands.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bookdrop"

// Metrics groups the counters and gauges exported by bookdrop.
type Metrics struct {
	registry *prometheus.Registry

	Deliveries       *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	HandleCache      *prometheus.CounterVec
	MirrorAttempts   *prometheus.CounterVec
	Sweeps           *prometheus.CounterVec
	Evicted          *prometheus.CounterVec
	StagedFiles      prometheus.Gauge
	StagedBytes      prometheus.Gauge
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery requests by outcome and format.",
		}, []string{"outcome", "format"}),
		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time to serve a delivery request.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"outcome"}),
		HandleCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handle_cache_events_total",
			Help:      "Handle cache lookups and invalidations.",
		}, []string{"event"}),
		MirrorAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_attempts_total",
			Help:      "Mirror fetch attempts by mirror and result.",
		}, []string{"mirror", "result"}),
		Sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eviction_sweeps_total",
			Help:      "Completed eviction sweeps by status.",
		}, []string{"status"}),
		Evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_files_total",
			Help:      "Staged files removed by the reclaimer.",
		}, []string{"reason"}),
		StagedFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "staged_files",
			Help:      "Staged files present after the last sweep.",
		}),
		StagedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "staged_bytes",
			Help:      "Bytes held in the staging directory after the last sweep.",
		}),
	}
	reg.MustRegister(
		m.Deliveries,
		m.DeliveryDuration,
		m.HandleCache,
		m.MirrorAttempts,
		m.Sweeps,
		m.Evicted,
		m.StagedFiles,
		m.StagedBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
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
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDelivery records one finished delivery.
func (m *Metrics) ObserveDelivery(outcome, format string, seconds float64) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(outcome, format).Inc()
	m.DeliveryDuration.WithLabelValues(outcome).Observe(seconds)
}

// HandleCacheEvent counts a cache hit, miss, store, or invalidation.
func (m *Metrics) HandleCacheEvent(event string) {
	if m == nil {
		return
	}
	m.HandleCache.WithLabelValues(event).Inc()
}

// MirrorAttempt counts one request against a mirror.
func (m *Metrics) MirrorAttempt(mirror, result string) {
	if m == nil {
		return
	}
	m.MirrorAttempts.WithLabelValues(mirror, result).Inc()
}

// SweepCompleted records a sweep and the files it removed.
func (m *Metrics) SweepCompleted(expired, orphaned, partial, failures int, remainingFiles int, remainingBytes int64) {
	if m == nil {
		return
	}
	status := "ok"
	if failures > 0 {
		status = "partial"
	}
	m.Sweeps.WithLabelValues(status).Inc()
	m.Evicted.WithLabelValues("expired").Add(float64(expired))
	m.Evicted.WithLabelValues("orphan").Add(float64(orphaned))
	m.Evicted.WithLabelValues("partial").Add(float64(partial))
	m.StagedFiles.Set(float64(remainingFiles))
	m.StagedBytes.Set(float64(remainingBytes))
}
