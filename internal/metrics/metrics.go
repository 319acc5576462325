// Package metrics exposes run counters and timings as Prometheus collectors on
// a private registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "climatology"

// Fetch results.
const (
	FetchOK      = "ok"
	FetchMissing = "missing"
	FetchFailed  = "failed"
)

// Metrics holds the collectors.
type Metrics struct {
	registry *prometheus.Registry

	daysFetched  *prometheus.CounterVec
	cellsFolded  *prometheus.CounterVec
	anomalies    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runsInFlight prometheus.Gauge
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		daysFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "days_fetched_total",
			Help:      "Daily grids requested from a data source, by result.",
		}, []string{"sensor", "result"}),
		cellsFolded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_folded_total",
			Help:      "Valid cell observations folded into accumulators, by pass.",
		}, []string{"pass"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_detected_total",
			Help:      "Anomalous cells found by detection.",
		}, []string{"sensor"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of baseline runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"increment"}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Baseline runs currently executing.",
		}),
	}
	m.registry.MustRegister(
		m.daysFetched,
		m.cellsFolded,
		m.anomalies,
		m.runDuration,
		m.runsInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
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
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// DayFetched counts one FetchDay result.
func (m *Metrics) DayFetched(sensor, result string) {
	if m == nil {
		return
	}
	m.daysFetched.WithLabelValues(sensor, result).Inc()
}

// CellsFolded adds n folded observations for a pass ("sum" or "squared-deviation").
func (m *Metrics) CellsFolded(pass string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cellsFolded.WithLabelValues(pass).Add(float64(n))
}

// AnomaliesDetected adds n anomalies.
func (m *Metrics) AnomaliesDetected(sensor string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.anomalies.WithLabelValues(sensor).Add(float64(n))
}

// RunStarted marks a run in flight and returns a func that records its
// duration when called.
func (m *Metrics) RunStarted(increment string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.runsInFlight.Inc()
	return func() {
		m.runsInFlight.Dec()
		m.runDuration.WithLabelValues(increment).Observe(time.Since(start).Seconds())
	}
}
