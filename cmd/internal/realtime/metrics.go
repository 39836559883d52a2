package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"parley/cmd/internal/chat"
	v1 "parley/shared/contracts/signal/v1"
)

// Metrics holds the hub's Prometheus collectors. All recording methods are
// nil-safe so components can run uninstrumented in tests.
type Metrics struct {
	connections prometheus.Gauge
	activeCalls prometheus.Gauge
	events      *prometheus.CounterVec
	broadcasts  *prometheus.CounterVec
	drops       prometheus.Counter
	calls       *prometheus.CounterVec
	relays      *prometheus.CounterVec
}

// NewMetrics builds and registers the hub collectors. A nil registerer
// creates unregistered collectors, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "parley_ws_connections",
			Help: "Currently connected websocket sessions.",
		}),
		activeCalls: f.NewGauge(prometheus.GaugeOpts{
			Name: "parley_calls_active",
			Help: "Calls not yet in a terminal state.",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_ws_events_total",
			Help: "Inbound websocket events by type.",
		}, []string{"type"}),
		broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_broadcasts_total",
			Help: "Envelopes fanned out by event type.",
		}, []string{"event"}),
		drops: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_broadcast_drops_total",
			Help: "Envelopes dropped because a client queue was full or closing.",
		}),
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_calls_total",
			Help: "Finished calls by outcome.",
		}, []string{"outcome"}),
		relays: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_relay_messages_total",
			Help: "Relayed peer-negotiation messages by type.",
		}, []string{"type"}),
	}
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) Event(t v1.EventType) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) Broadcast(t v1.EventType, delivered, dropped int) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(string(t)).Add(float64(delivered))
	if dropped > 0 {
		m.drops.Add(float64(dropped))
	}
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.activeCalls.Inc()
}

func (m *Metrics) CallFinished(outcome chat.CallStatus) {
	if m == nil {
		return
	}
	m.activeCalls.Dec()
	m.calls.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) Relayed(t v1.EventType) {
	if m == nil {
		return
	}
	m.relays.WithLabelValues(string(t)).Inc()
}
