// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the retrieval
// core: orchestration latency, per-lane and per-provider outcomes,
// cache effectiveness, breaker transitions, and preflight decisions.
//
// Metrics are exposed via /metrics. Use with Prometheus + Grafana for
// dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for retrieval metrics
const retrievalSubsystem = "retrieval"

// RetrievalMetrics holds all Prometheus metrics for retrieval
// orchestration. Initialize once at startup via InitMetrics().
type RetrievalMetrics struct {
	// RequestsTotal counts orchestration calls.
	// Labels: complexity, status (ok, degraded, invalid)
	RequestsTotal *prometheus.CounterVec

	// RetrieveDurationSeconds measures end-to-end orchestration latency.
	// Labels: complexity
	RetrieveDurationSeconds *prometheus.HistogramVec

	// LaneDurationSeconds measures per-lane latency.
	// Labels: lane, outcome (ok, partial, cached)
	LaneDurationSeconds *prometheus.HistogramVec

	// LaneItemsTotal counts items contributed per lane.
	// Labels: lane
	LaneItemsTotal *prometheus.CounterVec

	// ProviderCallsTotal counts provider calls by outcome.
	// Labels: provider, outcome (success, timeout, auth, rate_limit,
	// network, malformed, canceled, circuit_open)
	ProviderCallsTotal *prometheus.CounterVec

	// BreakerTransitionsTotal counts circuit-breaker state changes.
	// Labels: provider, to_state (closed, open, half_open)
	BreakerTransitionsTotal *prometheus.CounterVec

	// CacheRequestsTotal counts cache lookups by result.
	// Labels: lane, result (hit, miss)
	CacheRequestsTotal *prometheus.CounterVec

	// PreflightTotal counts preflight outcomes.
	// Labels: outcome (refined, unchanged, bypassed), reason
	PreflightTotal *prometheus.CounterVec

	// ActiveLanes tracks lane executions currently in flight across all
	// concurrent queries.
	ActiveLanes prometheus.Gauge
}

// DefaultMetrics is the singleton instance of RetrievalMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *RetrievalMetrics

// InitMetrics creates and registers all retrieval metrics. Call once at
// startup; a second call panics on duplicate registration.
func InitMetrics() *RetrievalMetrics {
	DefaultMetrics = &RetrievalMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "requests_total",
				Help:      "Total orchestration calls by complexity and status",
			},
			[]string{"complexity", "status"},
		),

		RetrieveDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "retrieve_duration_seconds",
				Help:      "End-to-end orchestration latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 7.5, 10.0, 15.0},
			},
			[]string{"complexity"},
		),

		LaneDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "lane_duration_seconds",
				Help:      "Per-lane execution latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 4.0},
			},
			[]string{"lane", "outcome"},
		),

		LaneItemsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "lane_items_total",
				Help:      "Items contributed per lane",
			},
			[]string{"lane"},
		),

		ProviderCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "provider_calls_total",
				Help:      "Provider calls by outcome",
			},
			[]string{"provider", "outcome"},
		),

		BreakerTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker state transitions",
			},
			[]string{"provider", "to_state"},
		),

		CacheRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "cache_requests_total",
				Help:      "Lane cache lookups by result",
			},
			[]string{"lane", "result"},
		),

		PreflightTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "preflight_total",
				Help:      "Preflight outcomes by kind and reason",
			},
			[]string{"outcome", "reason"},
		),

		ActiveLanes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "active_lanes",
				Help:      "Lane executions currently in flight",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records one completed orchestration call.
func (m *RetrievalMetrics) RecordRequest(complexity string, degraded, invalid bool, seconds float64) {
	status := "ok"
	switch {
	case invalid:
		status = "invalid"
	case degraded:
		status = "degraded"
	}
	m.RequestsTotal.WithLabelValues(complexity, status).Inc()
	if !invalid {
		m.RetrieveDurationSeconds.WithLabelValues(complexity).Observe(seconds)
	}
}

// RecordLane records one lane execution.
func (m *RetrievalMetrics) RecordLane(lane string, partial, cached bool, items int, seconds float64) {
	outcome := "ok"
	switch {
	case cached:
		outcome = "cached"
	case partial:
		outcome = "partial"
	}
	m.LaneDurationSeconds.WithLabelValues(lane, outcome).Observe(seconds)
	m.LaneItemsTotal.WithLabelValues(lane).Add(float64(items))
}

// RecordProviderCall records one provider call outcome. An empty kind
// means success.
func (m *RetrievalMetrics) RecordProviderCall(provider, kind string) {
	if kind == "" {
		kind = "success"
	}
	m.ProviderCallsTotal.WithLabelValues(provider, kind).Inc()
}

// RecordBreakerTransition records one circuit-breaker state change.
func (m *RetrievalMetrics) RecordBreakerTransition(provider, toState string) {
	m.BreakerTransitionsTotal.WithLabelValues(provider, toState).Inc()
}

// RecordCacheLookup records one lane-cache lookup outcome.
func (m *RetrievalMetrics) RecordCacheLookup(lane string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequestsTotal.WithLabelValues(lane, result).Inc()
}

// RecordPreflight records one preflight decision.
func (m *RetrievalMetrics) RecordPreflight(refined, bypassed bool, reason string) {
	outcome := "unchanged"
	switch {
	case refined:
		outcome = "refined"
	case bypassed:
		outcome = "bypassed"
	}
	if reason == "" {
		reason = "none"
	}
	m.PreflightTotal.WithLabelValues(outcome, reason).Inc()
}
