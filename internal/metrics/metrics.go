// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus collectors for chat exchanges.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// COLLECTORS
// =============================================================================

// Metrics holds the collectors for one registry. All methods are safe on a
// nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	exchangesStarted  prometheus.Counter
	exchangesFinished *prometheus.CounterVec
	exchangeDuration  *prometheus.HistogramVec
	fragments         prometheus.Counter
	malformedLines    prometheus.Counter
	snapshots         *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
}

// New registers the chat collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		exchangesStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatai_exchanges_started_total",
			Help: "Chat exchanges sent upstream",
		}),

		exchangesFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatai_exchanges_finished_total",
			Help: "Chat exchanges by terminal status and error kind",
		}, []string{"status", "kind"}),

		exchangeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatai_exchange_duration_seconds",
			Help:    "Time from request to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"status"}),

		fragments: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatai_fragments_total",
			Help: "Reply fragments applied to accumulators",
		}),

		malformedLines: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatai_malformed_lines_total",
			Help: "Reply lines skipped because they did not parse",
		}),

		snapshots: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatai_snapshots_total",
			Help: "Partial-reply snapshots by outcome (delivered or coalesced)",
		}, []string{"outcome"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatai_http_requests_total",
			Help: "HTTP API requests by route and status code",
		}, []string{"route", "code"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// =============================================================================
// RECORDING
// =============================================================================

// ExchangeStarted counts a new upstream request.
func (m *Metrics) ExchangeStarted() {
	if m == nil {
		return
	}
	m.exchangesStarted.Inc()
}

// ExchangeFinished records the terminal status, error kind ("" on success)
// and elapsed time of an exchange.
func (m *Metrics) ExchangeFinished(status, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "none"
	}
	m.exchangesFinished.WithLabelValues(status, kind).Inc()
	m.exchangeDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// FragmentsApplied adds n applied fragments.
func (m *Metrics) FragmentsApplied(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.fragments.Add(float64(n))
}

// MalformedLine counts one skipped line.
func (m *Metrics) MalformedLine() {
	if m == nil {
		return
	}
	m.malformedLines.Inc()
}

// SnapshotDelivered counts a snapshot handed to the consumer.
func (m *Metrics) SnapshotDelivered() {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues("delivered").Inc()
}

// SnapshotCoalesced counts a snapshot replaced by a newer one before delivery.
func (m *Metrics) SnapshotCoalesced() {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues("coalesced").Inc()
}

// HTTPRequest counts one API request.
func (m *Metrics) HTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, code).Inc()
}
