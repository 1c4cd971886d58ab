package meshberry

import "sync/atomic"

// Stats holds running counters for a session, independent of whichever
// Metrics backend is wired in. It is safe for concurrent use.
type Stats struct {
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	reconnects       atomic.Int64
	errors           atomic.Int64
}

// MessagesSent returns the number of direct and broadcast messages sent.
func (s *Stats) MessagesSent() int64 { return s.messagesSent.Load() }

// MessagesReceived returns the number of messages received from neighbors.
func (s *Stats) MessagesReceived() int64 { return s.messagesReceived.Load() }

// Reconnects returns the number of neighbor reconnected events observed
// (a neighbor's heartbeat recovering); reconnect attempts are not counted.
func (s *Stats) Reconnects() int64 { return s.reconnects.Load() }

// Errors returns the number of error events observed.
func (s *Stats) Errors() int64 { return s.errors.Load() }

func (s *Stats) recordEvent(evt ConnectionEvent) {
	switch evt.Kind {
	case "message":
		s.messagesReceived.Add(1)
	case "connection":
		if evt.State == StateReconnected {
			s.reconnects.Add(1)
		}
	case "error", "coordinator-auth-failed":
		s.errors.Add(1)
	}
}
