// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability holds the Prometheus metrics for the gateway.
//
// # Description
//
// Metrics cover the streaming chat path (request counts, fragment latency,
// stream duration, active streams) plus scraping and handle-cache activity.
// They are exposed on /metrics and are meant for a standard Prometheus +
// Grafana setup.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "sitechat"
	gatewaySubsystem = "gateway"
)

// GatewayMetrics holds every Prometheus metric the gateway records.
// Initialize once at startup via InitMetrics().
type GatewayMetrics struct {
	// RequestsTotal counts chat requests by endpoint and status.
	// Labels: endpoint (chat, ask), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// TimeToFirstFragmentSeconds measures latency to the first streamed
	// answer fragment. Labels: endpoint
	TimeToFirstFragmentSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open streaming responses.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by endpoint and error code.
	// Labels: endpoint, error_code
	ErrorsTotal *prometheus.CounterVec

	// ScrapeFailuresTotal counts per-URL scrape failures.
	ScrapeFailuresTotal prometheus.Counter

	// HandleEvictionsTotal counts live session handles dropped from the
	// cache. Labels: reason (provider_error, chat_deleted)
	HandleEvictionsTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts clients that went away mid-stream.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics(). Code paths
// that record metrics nil-check it so tests can run without registration.
var DefaultMetrics *GatewayMetrics

// InitMetrics creates and registers all gateway metrics. Call once at
// startup; a second call panics on duplicate registration.
func InitMetrics() *GatewayMetrics {
	DefaultMetrics = &GatewayMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "requests_total",
				Help:      "Total chat requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		TimeToFirstFragmentSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "time_to_first_fragment_seconds",
				Help:      "Time from request to first streamed answer fragment",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total answer stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open streaming responses",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "errors_total",
				Help:      "Total errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),

		ScrapeFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "scrape_failures_total",
				Help:      "Total per-URL scrape failures",
			},
		),

		HandleEvictionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "handle_evictions_total",
				Help:      "Live session handles evicted from the cache",
			},
			[]string{"reason"},
		),

		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "client_disconnects_total",
				Help:      "Clients that disconnected mid-stream",
			},
			[]string{"endpoint"},
		),
	}
	return DefaultMetrics
}

// ErrorCode categorizes an error for the errors_total metric.
type ErrorCode string

const (
	ErrorCodeValidation       ErrorCode = "validation"
	ErrorCodeUnauthorized     ErrorCode = "unauthorized"
	ErrorCodeNotFound         ErrorCode = "not_found"
	ErrorCodeScrapeFailed     ErrorCode = "scrape_failed"
	ErrorCodeLLMError         ErrorCode = "llm_error"
	ErrorCodeEmptyResponse    ErrorCode = "empty_response"
	ErrorCodeCommitFailed     ErrorCode = "commit_failed"
	ErrorCodeInternal         ErrorCode = "internal"
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// Endpoint labels a metrics series with its HTTP surface.
type Endpoint string

const (
	EndpointChat Endpoint = "chat"
	EndpointAsk  Endpoint = "ask"
)

// Eviction reasons for handle_evictions_total.
const (
	EvictionProviderError = "provider_error"
	EvictionChatDeleted   = "chat_deleted"
)

// RecordRequest records a completed request.
func (m *GatewayMetrics) RecordRequest(endpoint Endpoint, success bool) {
	m.RequestsTotal.WithLabelValues(string(endpoint), statusLabel(success)).Inc()
}

// RecordError records one categorized error.
func (m *GatewayMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *GatewayMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *GatewayMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstFragment records first-fragment latency.
func (m *GatewayMetrics) RecordTimeToFirstFragment(endpoint Endpoint, seconds float64) {
	m.TimeToFirstFragmentSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records total stream duration.
func (m *GatewayMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), statusLabel(success)).Observe(seconds)
}

// RecordScrapeFailure counts one failed URL fetch.
func (m *GatewayMetrics) RecordScrapeFailure() {
	m.ScrapeFailuresTotal.Inc()
}

// RecordHandleEviction counts one handle eviction.
func (m *GatewayMetrics) RecordHandleEviction(reason string) {
	m.HandleEvictionsTotal.WithLabelValues(reason).Inc()
}

// RecordClientDisconnect counts one mid-stream disconnect.
func (m *GatewayMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
