// Package promexport provides a Prometheus implementation of the
// meshberry.Metrics interface.
//
// # Metric names
//
// All metrics use the configured namespace prefix (default: "meshberry").
//
//	meshberry_discovery_published_total
//	meshberry_discovery_resolved_total
//	meshberry_handshake_attempts_total{result="success|failure|retry-exhausted"}
//	meshberry_handshake_duration_seconds
//	meshberry_neighbors_connected_total{direction="inbound|outbound"}
//	meshberry_neighbors_disconnected_total
//	meshberry_reconnect_attempts_total{scope="peer|full",result="success|failure"}
//	meshberry_messages_sent_total{kind="direct|broadcast"}
//	meshberry_bytes_sent_total{kind="direct|broadcast"}
//	meshberry_messages_received_total
//	meshberry_bytes_received_total
//	meshberry_encryption_errors_total
//	meshberry_decryption_errors_total
//	meshberry_events_emitted_total{kind="<kind>"}
//	meshberry_events_dropped_total
//
// # Example usage
//
//	import (
//		"github.com/blockberries/meshberry"
//		"github.com/blockberries/meshberry/promexport"
//		"github.com/prometheus/client_golang/prometheus/promhttp"
//	)
//
//	metrics := promexport.NewMetrics("myapp")
//	cfg := meshberry.NewSessionConfig("alice", "movie-night", "s3cr3t",
//		meshberry.WithMetrics(metrics),
//	)
//	http.Handle("/metrics", promhttp.Handler())
package promexport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blockberries/meshberry"
)

// DefaultNamespace is the default namespace for all metrics.
const DefaultNamespace = "meshberry"

// Metrics implements meshberry.Metrics using Prometheus collectors. Safe
// for concurrent use.
type Metrics struct {
	discoveryPublished *prometheus.Counter
	discoveryResolved  *prometheus.Counter

	handshakeAttempts *prometheus.CounterVec
	handshakeDuration prometheus.Histogram

	neighborsConnected    *prometheus.CounterVec
	neighborsDisconnected *prometheus.Counter
	reconnectAttempts     *prometheus.CounterVec

	messagesSent     *prometheus.CounterVec
	bytesSent        *prometheus.CounterVec
	messagesReceived *prometheus.Counter
	bytesReceived    *prometheus.Counter

	encryptionErrors *prometheus.Counter
	decryptionErrors *prometheus.Counter

	eventsEmitted *prometheus.CounterVec
	eventsDropped *prometheus.Counter
}

var _ meshberry.Metrics = (*Metrics)(nil)

// NewMetrics creates a Prometheus metrics collector registered with the
// default registry. If namespace is empty, DefaultNamespace is used.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer is NewMetrics with an explicit registerer, for
// tests or to avoid colliding with other metrics in the same process. A
// nil registerer skips registration.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	discoveryPublished := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "discovery_published_total",
		Help: "Total number of times this node advertised itself.",
	})
	discoveryResolved := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "discovery_resolved_total",
		Help: "Total number of peers resolved via mDNS/DNS-SD.",
	})
	neighborsDisconnected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "neighbors_disconnected_total",
		Help: "Total number of times a neighbor went fully unhealthy.",
	})
	messagesReceived := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "messages_received_total",
		Help: "Total number of messages received.",
	})
	bytesReceived := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "bytes_received_total",
		Help: "Total bytes received.",
	})
	encryptionErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "encryption_errors_total",
		Help: "Total number of encryption errors.",
	})
	decryptionErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "decryption_errors_total",
		Help: "Total number of decryption errors.",
	})
	eventsDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "events_dropped_total",
		Help: "Total number of events dropped due to buffer full.",
	})

	m := &Metrics{
		discoveryPublished: &discoveryPublished,
		discoveryResolved:  &discoveryResolved,
		handshakeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshake_attempts_total",
			Help: "Total number of coordinator handshake attempts by result.",
		}, []string{"result"}),
		handshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "handshake_duration_seconds",
			Help:    "Histogram of completed coordinator handshake durations.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		neighborsConnected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "neighbors_connected_total",
			Help: "Total number of neighbor TLS channels that came up.",
		}, []string{"direction"}),
		neighborsDisconnected: &neighborsDisconnected,
		reconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnect_attempts_total",
			Help: "Total number of reconnect attempts by scope and result.",
		}, []string{"scope", "result"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_sent_total",
			Help: "Total number of messages sent by kind.",
		}, []string{"kind"}),
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_sent_total",
			Help: "Total bytes sent by kind.",
		}, []string{"kind"}),
		messagesReceived: &messagesReceived,
		bytesReceived:    &bytesReceived,
		encryptionErrors: &encryptionErrors,
		decryptionErrors: &decryptionErrors,
		eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_emitted_total",
			Help: "Total number of events emitted by kind.",
		}, []string{"kind"}),
		eventsDropped: &eventsDropped,
	}

	if registerer != nil {
		registerer.MustRegister(
			discoveryPublished, discoveryResolved,
			m.handshakeAttempts, m.handshakeDuration,
			m.neighborsConnected, neighborsDisconnected, m.reconnectAttempts,
			m.messagesSent, m.bytesSent, messagesReceived, bytesReceived,
			encryptionErrors, decryptionErrors,
			m.eventsEmitted, eventsDropped,
		)
	}

	return m
}

func (m *Metrics) DiscoveryPublished() { (*m.discoveryPublished).Inc() }
func (m *Metrics) DiscoveryResolved()  { (*m.discoveryResolved).Inc() }

func (m *Metrics) HandshakeAttempt(result string)    { m.handshakeAttempts.WithLabelValues(result).Inc() }
func (m *Metrics) HandshakeDuration(seconds float64) { m.handshakeDuration.Observe(seconds) }

func (m *Metrics) NeighborConnected(direction string) {
	m.neighborsConnected.WithLabelValues(direction).Inc()
}
func (m *Metrics) NeighborDisconnected() { (*m.neighborsDisconnected).Inc() }
func (m *Metrics) ReconnectAttempt(scope, result string) {
	m.reconnectAttempts.WithLabelValues(scope, result).Inc()
}

func (m *Metrics) MessageSent(kind string, bytes int) {
	m.messagesSent.WithLabelValues(kind).Inc()
	m.bytesSent.WithLabelValues(kind).Add(float64(bytes))
}

func (m *Metrics) MessageReceived(bytes int) {
	(*m.messagesReceived).Inc()
	(*m.bytesReceived).Add(float64(bytes))
}

func (m *Metrics) EncryptionError() { (*m.encryptionErrors).Inc() }
func (m *Metrics) DecryptionError() { (*m.decryptionErrors).Inc() }

func (m *Metrics) EventEmitted(kind string) { m.eventsEmitted.WithLabelValues(kind).Inc() }
func (m *Metrics) EventDropped()            { (*m.eventsDropped).Inc() }
