// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the job manager.
//
// Thread Safety: Safe for concurrent use (Prometheus metrics are
// thread-safe).
type Metrics struct {
	// JobsStartedTotal counts tool invocations started, by tool name.
	JobsStartedTotal *prometheus.CounterVec

	// JobsCompletedTotal counts tool invocations that finished, by tool
	// name and outcome: "ok" or "error" when the handler reached Done,
	// "cancelled" when the job was cancelled.
	JobsCompletedTotal *prometheus.CounterVec

	// ActiveJobs is a gauge of currently running tool invocations.
	ActiveJobs prometheus.Gauge

	// EventsEmittedTotal counts streamed Data fragments, by load type.
	EventsEmittedTotal *prometheus.CounterVec
}

// NewMetrics registers and returns the job manager's Prometheus metrics
// against the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer is like NewMetrics but registers against a
// caller-supplied registerer, so tests (and any second Manager in the
// same process) can use a fresh prometheus.NewRegistry() instead of
// colliding on the global default one.
func NewMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsStartedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcp",
				Subsystem: "jobs",
				Name:      "started_total",
				Help:      "Total tool invocations started, by tool name.",
			},
			[]string{"tool"},
		),
		JobsCompletedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcp",
				Subsystem: "jobs",
				Name:      "completed_total",
				Help:      "Total tool invocations completed, by tool name and outcome.",
			},
			[]string{"tool", "outcome"},
		),
		ActiveJobs: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcp",
				Subsystem: "jobs",
				Name:      "active",
				Help:      "Number of tool invocations currently running.",
			},
		),
		EventsEmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcp",
				Subsystem: "jobs",
				Name:      "events_emitted_total",
				Help:      "Total streamed result fragments emitted, by load type.",
			},
			[]string{"load_type"},
		),
	}
}
