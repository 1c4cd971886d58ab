package meshberry

// Metrics defines the metrics collection interface for meshberry. It is
// designed to be compatible with Prometheus and other metrics systems.
//
// Implementations must be safe for concurrent use.
//
// Metric naming convention:
//   - Counters: <name>_total (e.g., handshakes_total)
//   - Histograms: <name>_seconds (e.g., handshake_duration_seconds)
//   - Gauges: current_<name> (e.g., current_neighbors)
type Metrics interface {
	// Discovery metrics

	// DiscoveryPublished increments when this node advertises itself.
	DiscoveryPublished()

	// DiscoveryResolved records a peer resolved via mDNS/DNS-SD.
	DiscoveryResolved()

	// Coordinator handshake metrics

	// HandshakeAttempt records an SRP handshake attempt result.
	// Labels: result (success, failure, retry-exhausted)
	HandshakeAttempt(result string)

	// HandshakeDuration records the duration of a completed handshake.
	HandshakeDuration(seconds float64)

	// Mesh connection metrics

	// NeighborConnected increments when a neighbor's TLS channel comes up.
	// Labels: direction (inbound, outbound)
	NeighborConnected(direction string)

	// NeighborDisconnected increments when a neighbor goes fully unhealthy.
	NeighborDisconnected()

	// ReconnectAttempt records a reconnect attempt result.
	// Labels: scope (peer, full), result (success, failure)
	ReconnectAttempt(scope, result string)

	// Message metrics

	// MessageSent records a message being sent. Labels: kind (direct, broadcast)
	MessageSent(kind string, bytes int)

	// MessageReceived records a message being received.
	MessageReceived(bytes int)

	// Crypto metrics

	// EncryptionError records an encryption failure.
	EncryptionError()

	// DecryptionError records a decryption failure.
	DecryptionError()

	// Event metrics

	// EventEmitted records an event being emitted. Labels: kind (the event kind)
	EventEmitted(kind string)

	// EventDropped records an event being dropped due to buffer full.
	EventDropped()
}

// NopMetrics discards all metrics. It is the default when none is configured.
type NopMetrics struct{}

var _ Metrics = NopMetrics{}

func (NopMetrics) DiscoveryPublished()                   {}
func (NopMetrics) DiscoveryResolved()                    {}
func (NopMetrics) HandshakeAttempt(result string)        {}
func (NopMetrics) HandshakeDuration(seconds float64)     {}
func (NopMetrics) NeighborConnected(direction string)    {}
func (NopMetrics) NeighborDisconnected()                 {}
func (NopMetrics) ReconnectAttempt(scope, result string) {}
func (NopMetrics) MessageSent(kind string, bytes int)    {}
func (NopMetrics) MessageReceived(bytes int)             {}
func (NopMetrics) EncryptionError()                      {}
func (NopMetrics) DecryptionError()                      {}
func (NopMetrics) EventEmitted(kind string)              {}
func (NopMetrics) EventDropped()                         {}
