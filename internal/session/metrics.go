// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts session activity. A nil *Metrics records nothing.
type Metrics struct {
	started  prometheus.Counter
	finished *prometheus.CounterVec
	chunks   prometheus.Counter
	active   prometheus.Gauge
}

// NewMetrics creates the session collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codepilot",
			Subsystem: "stream",
			Name:      "sessions_started_total",
			Help:      "Streaming sessions started.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codepilot",
			Subsystem: "stream",
			Name:      "sessions_finished_total",
			Help:      "Streaming sessions finished, by terminal event.",
		}, []string{"kind"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codepilot",
			Subsystem: "stream",
			Name:      "chunks_total",
			Help:      "Text chunks delivered to consumers.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "codepilot",
			Subsystem: "stream",
			Name:      "sessions_active",
			Help:      "Sessions currently registered.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.started, m.finished, m.chunks, m.active)
	}
	return m
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.started.Inc()
	m.active.Inc()
}

func (m *Metrics) sessionFinished(kind EventKind) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(kind.String()).Inc()
	m.active.Dec()
}

func (m *Metrics) chunk() {
	if m == nil {
		return
	}
	m.chunks.Inc()
}
