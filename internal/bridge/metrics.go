// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bridge

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	connections prometheus.Gauge
	requests    *prometheus.CounterVec
}

// newMetrics returns nil when reg is nil; every method is nil-safe.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "codepilot",
			Subsystem: "bridge",
			Name:      "connections",
			Help:      "Open bridge connections.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codepilot",
			Subsystem: "bridge",
			Name:      "requests_total",
			Help:      "JSON-RPC requests by method and result.",
		}, []string{"method", "result"}),
	}
	reg.MustRegister(m.connections, m.requests)
	return m
}

func (m *metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *metrics) request(method string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.requests.WithLabelValues(method, result).Inc()
}
