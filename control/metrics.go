// File: control/metrics.go
// Package control carries the runtime observability surface: the
// Prometheus metric set and the optional debug HTTP endpoint.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the engine-wide Prometheus metric set. A nil *Metrics is
// valid everywhere and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	AcceptedTotal    prometheus.Counter
	DisconnectsTotal prometheus.Counter
	EchoesTotal      prometheus.Counter
	BroadcastsTotal  prometheus.Counter
	FramesTotal      *prometheus.CounterVec
	Connections      prometheus.Gauge
	PoolFree         *prometheus.GaugeVec
}

// NewMetrics builds and registers the metric set on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		AcceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hiochat", Name: "accepted_total",
			Help: "Connections accepted.",
		}),
		DisconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hiochat", Name: "disconnects_total",
			Help: "Connections closed by the server.",
		}),
		EchoesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hiochat", Name: "echoes_total",
			Help: "SERVER_ECHO frames enqueued.",
		}),
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hiochat", Name: "broadcasts_total",
			Help: "SERVER_CHAT frames fanned out.",
		}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hiochat", Name: "frames_total",
			Help: "Client frames dispatched, by message type.",
		}, []string{"type"}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hiochat", Name: "connections",
			Help: "Currently connected clients.",
		}),
		PoolFree: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hiochat", Name: "pool_free",
			Help: "Free buffer slots, by session.",
		}, []string{"session"}),
	}
	reg.MustRegister(
		m.AcceptedTotal, m.DisconnectsTotal, m.EchoesTotal,
		m.BroadcastsTotal, m.FramesTotal, m.Connections, m.PoolFree,
	)
	return m
}

// Registry exposes the backing registry for the debug endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// OnAccepted records one accepted connection.
func (m *Metrics) OnAccepted() {
	if m == nil {
		return
	}
	m.AcceptedTotal.Inc()
	m.Connections.Inc()
}

// OnDisconnect records one closed connection.
func (m *Metrics) OnDisconnect() {
	if m == nil {
		return
	}
	m.DisconnectsTotal.Inc()
	m.Connections.Dec()
}

// OnFrame records one dispatched client frame.
func (m *Metrics) OnFrame(msgType string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(msgType).Inc()
}

// OnEcho records one echo reply.
func (m *Metrics) OnEcho() {
	if m == nil {
		return
	}
	m.EchoesTotal.Inc()
}

// OnBroadcast records fanned-out chat frames.
func (m *Metrics) OnBroadcast(n int) {
	if m == nil {
		return
	}
	m.BroadcastsTotal.Add(float64(n))
}

// SetPoolFree records a session pool's free slot count.
func (m *Metrics) SetPoolFree(session string, free int) {
	if m == nil {
		return
	}
	m.PoolFree.WithLabelValues(session).Set(float64(free))
}
