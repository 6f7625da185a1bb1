// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Package metrics exposes Prometheus instrumentation for the fleettrace
// engines. Registration uses promauto against the default registry; embedders
// expose it on whatever surface they already serve.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Location pipeline metrics
	SamplesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleettrace_samples_accepted_total",
			Help: "Total number of accepted location samples",
		},
	)

	SamplesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleettrace_samples_rejected_total",
			Help: "Total number of rejected location samples",
		},
		[]string{"reason"},
	)

	AbnormalJumps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleettrace_abnormal_jumps_total",
			Help: "Total number of samples flagged by the jump detector",
		},
	)

	// Status engine metrics
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleettrace_status_transitions_total",
			Help: "Total number of persisted status transitions",
		},
		[]string{"from", "to"},
	)

	// Geofence engine metrics
	GeofenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleettrace_geofence_transitions_total",
			Help: "Total number of geofence enter/exit transitions",
		},
		[]string{"direction"},
	)

	RegisteredGeofences = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleettrace_registered_geofences",
			Help: "Current number of registered geofences",
		},
	)

	// Event fabric metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleettrace_events_published_total",
			Help: "Total number of events published to the storage driver",
		},
		[]string{"type"},
	)

	SubscriberPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleettrace_subscriber_panics_total",
			Help: "Total number of recovered subscriber handler panics",
		},
	)

	// Watchdog metrics
	WatchdogSweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleettrace_watchdog_sweeps_total",
			Help: "Total number of completed watchdog sweeps",
		},
	)

	WatchdogSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleettrace_watchdog_sweep_duration_seconds",
			Help:    "Duration of watchdog sweeps in seconds",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10},
		},
	)

	WatchdogAgentFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleettrace_watchdog_agent_failures_total",
			Help: "Total number of per-agent failures during watchdog sweeps",
		},
	)

	// WebSocket fan-out metrics
	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleettrace_websocket_clients",
			Help: "Current number of connected websocket clients",
		},
	)
)
