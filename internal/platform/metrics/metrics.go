package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the client side collectors. A nil *Metrics is valid and
// records nothing, so services can be built without it in tests.
type Metrics struct {
	registry        *prometheus.Registry
	connectAttempts *prometheus.CounterVec
	connectionState *prometheus.GaugeVec
	eventsReceived  *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	messagesSent    prometheus.Counter
	callOutcomes    *prometheus.CounterVec
	unreadTotal     prometheus.Gauge
}

func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_connect_attempts_total",
			Help:      "Socket dial attempts by result.",
		}, []string{"result"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "socket_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_events_received_total",
			Help:      "Inbound socket events by type.",
		}, []string{"event"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_events_dropped_total",
			Help:      "Inbound socket events rejected at the boundary.",
		}, []string{"event"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_sent_total",
			Help:      "Chat messages emitted by this client.",
		}),
		callOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_outcomes_total",
			Help:      "Finished calls by outcome.",
		}, []string{"outcome"}),
		unreadTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications_unread",
			Help:      "Unread notifications after the last fetch.",
		}),
	}
	reg.MustRegister(
		m.connectAttempts,
		m.connectionState,
		m.eventsReceived,
		m.eventsDropped,
		m.messagesSent,
		m.callOutcomes,
		m.unreadTotal,
		prometheus.NewGoCollector(),
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

func (m *Metrics) ConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

// ConnectionState flips the gauge so only state reads 1.
func (m *Metrics) ConnectionState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) EventReceived(event string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(event).Inc()
}

func (m *Metrics) EventDropped(event string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(event).Inc()
}

func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

func (m *Metrics) CallFinished(outcome string) {
	if m == nil {
		return
	}
	m.callOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) UnreadNotifications(n int) {
	if m == nil {
		return
	}
	m.unreadTotal.Set(float64(n))
}
