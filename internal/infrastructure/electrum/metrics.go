package electrum

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "electrum"

// Metrics collects the client's prometheus metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	remoteErrors  *prometheus.CounterVec
	notifications *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	pending       prometheus.Gauge
	connected     prometheus.Gauge
}

// NewMetrics creates the client metrics and registers them with the given
// registerer, if any.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Number of requests sent to the server, by method.",
		}, []string{"method"}),
		remoteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "remote_errors_total",
			Help:      "Number of error responses returned by the server, by method.",
		}, []string{"method"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notifications_total",
			Help:      "Number of notifications pushed by the server, by method.",
		}, []string{"method"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_messages_total",
			Help:      "Number of inbound messages dropped, by reason.",
		}, []string{"reason"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pending_requests",
			Help:      "Number of requests waiting for a response.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected",
			Help:      "Whether the client is connected to the server.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.requests, m.remoteErrors, m.notifications, m.dropped,
			m.pending, m.connected,
		)
	}
	return m
}

func (m *Metrics) requestSent(method string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method).Inc()
}

func (m *Metrics) remoteError(method string) {
	if m == nil {
		return
	}
	m.remoteErrors.WithLabelValues(method).Inc()
}

func (m *Metrics) notificationReceived(method string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(method).Inc()
}

func (m *Metrics) messageDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) setConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}
