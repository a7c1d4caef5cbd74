// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

// Package metrics provides Prometheus instrumentation for Nutward:
// connection health state, poll cycle outcomes, daemon lifecycle actions,
// device query latency, and circuit breaker state.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionState is 1 when the health monitor considers the device
	// chain connected, 0 while recovering.
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nutward_connection_state",
			Help: "Device connection state (1 = connected, 0 = recovering)",
		},
	)

	// ConnectionAttempts is the current consecutive failed health ticks.
	ConnectionAttempts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nutward_connection_recovery_attempts",
			Help: "Consecutive failed connection attempts since last success",
		},
	)

	// HealthTicks counts health monitor ticks by result.
	HealthTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nutward_health_ticks_total",
			Help: "Total health monitor ticks",
		},
		[]string{"result"}, // "success", "failure"
	)

	// PollCycles counts polling loop cycles by result.
	PollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nutward_poll_cycles_total",
			Help: "Total polling loop cycles",
		},
		[]string{"result"}, // "success", "fetch_error", "save_error", "skipped"
	)

	// SnapshotsSaved counts snapshots handed to the persistence sink.
	SnapshotsSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nutward_snapshots_saved_total",
			Help: "Total snapshots persisted by the polling loop",
		},
	)

	// ServiceActions counts daemon lifecycle commands by role, action and result.
	ServiceActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nutward_service_actions_total",
			Help: "Total daemon start/stop commands issued",
		},
		[]string{"role", "action", "result"}, // action: "start", "stop"; result: "success", "failure"
	)

	// ServiceRunning reports per-role probe results (1 running, 0 not).
	ServiceRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nutward_service_running",
			Help: "Whether a daemon role was running at the last probe",
		},
		[]string{"role"},
	)

	// DeviceQueryDuration observes NUT protocol query latency.
	DeviceQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nutward_device_query_duration_seconds",
			Help:    "Duration of NUT device queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // "ping", "fetch"
	)

	// CircuitBreakerState tracks the API-facing breaker (0 closed, 1 half-open, 2 open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nutward_circuit_breaker_state",
			Help: "Circuit breaker state (0 = closed, 1 = half-open, 2 = open)",
		},
		[]string{"name"},
	)

	// CircuitBreakerRequests counts breaker-mediated requests by outcome.
	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nutward_circuit_breaker_requests_total",
			Help: "Total requests through the circuit breaker",
		},
		[]string{"name", "outcome"}, // "success", "failure", "rejected"
	)
)

// ObserveDeviceQuery records the duration of one device query.
func ObserveDeviceQuery(operation string, start time.Time) {
	DeviceQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordProbe updates the per-role running gauge after a probe.
func RecordProbe(role string, running bool) {
	v := 0.0
	if running {
		v = 1.0
	}
	ServiceRunning.WithLabelValues(role).Set(v)
}
