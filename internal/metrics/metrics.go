package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors of one process. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	activeConnections prometheus.Gauge
	handshakes        *prometheus.CounterVec
	presenceChanges   *prometheus.CounterVec
	framesRouted      *prometheus.CounterVec
	slowConsumers     prometheus.Counter
	workerRestarts    *prometheus.CounterVec
	workerUp          *prometheus.GaugeVec
}

func New(workerId string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	labels := prometheus.Labels{"worker_id": workerId}
	m := &Metrics{
		registry: reg,
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "chat_active_connections",
			Help:        "Websocket connections held by this process.",
			ConstLabels: labels,
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "chat_handshakes_total",
			Help:        "Websocket handshakes by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		presenceChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "chat_presence_transitions_total",
			Help:        "Pool-wide online/offline transitions observed by this process.",
			ConstLabels: labels,
		}, []string{"state"}),
		framesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "chat_frames_routed_total",
			Help:        "Frames handled by the router, by event.",
			ConstLabels: labels,
		}, []string{"event"}),
		slowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "chat_slow_consumers_total",
			Help:        "Clients dropped because their send queue was full.",
			ConstLabels: labels,
		}),
		workerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_worker_restarts_total",
			Help: "Worker respawns performed by the supervisor.",
		}, []string{"worker"}),
		workerUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chat_worker_up",
			Help: "1 while the worker process is running.",
		}, []string{"worker"}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.handshakes,
		m.presenceChanges,
		m.framesRouted,
		m.slowConsumers,
		m.workerRestarts,
		m.workerUp,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.activeConnections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.activeConnections.Dec()
	}
}

func (m *Metrics) RecordHandshake(outcome string) {
	if m != nil {
		m.handshakes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) RecordPresence(online bool) {
	if m == nil {
		return
	}
	state := "offline"
	if online {
		state = "online"
	}
	m.presenceChanges.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordFrame(event string) {
	if m != nil {
		m.framesRouted.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) RecordSlowConsumer() {
	if m != nil {
		m.slowConsumers.Inc()
	}
}

func (m *Metrics) RecordWorkerRestart(worker string) {
	if m != nil {
		m.workerRestarts.WithLabelValues(worker).Inc()
	}
}

func (m *Metrics) SetWorkerUp(worker string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.workerUp.WithLabelValues(worker).Set(v)
}
