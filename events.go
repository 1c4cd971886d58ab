package meshberry

import (
	"time"

	"github.com/blockberries/meshberry/internal/eventbus"
	"github.com/blockberries/meshberry/pkg/coordinator"
	"github.com/blockberries/meshberry/pkg/discovery"
	"github.com/blockberries/meshberry/pkg/mesh"
)

// ConnectionState mirrors a mesh neighbor's liveness kind as a small,
// stable public enum, rather than exposing pkg/mesh's event types directly.
type ConnectionState int

const (
	StateUnknown ConnectionState = iota
	StateConnected
	StateDisconnected
	StateReconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnected:
		return "reconnected"
	default:
		return "unknown"
	}
}

// ConnectionEvent is the public, flattened view of a neighbor liveness
// change, a received message, a discovery update, or a coordinator
// handshake milestone. Exactly one of the non-empty fields is meaningful
// for a given Kind.
type ConnectionEvent struct {
	Kind      string
	Username  string
	State     ConnectionState
	Text      string
	Err       error
	Timestamp time.Time
}

// translateMeshEvent converts one of pkg/mesh's internal events into the
// public ConnectionEvent shape. ok is false for event kinds this session
// layer does not surface: every kind not matched below, which includes
// pkg/coordinator's ConnectionAttempt, ConnectionAttemptFail and Connected.
func translateMeshEvent(raw eventbus.Event, now func() time.Time) (ConnectionEvent, bool) {
	switch evt := raw.(type) {
	case mesh.NeighborConnected:
		return ConnectionEvent{Kind: "connection", Username: evt.Username, State: StateConnected, Timestamp: now()}, true
	case mesh.NeighborDisconnected:
		return ConnectionEvent{Kind: "connection", Username: evt.Username, State: StateDisconnected, Timestamp: now()}, true
	case mesh.NeighborReconnected:
		return ConnectionEvent{Kind: "connection", Username: evt.Username, State: StateReconnected, Timestamp: now()}, true
	case mesh.MessageReceived:
		return ConnectionEvent{Kind: "message", Username: evt.From, Text: evt.Text, Timestamp: now()}, true
	case mesh.EncryptError:
		return ConnectionEvent{Kind: "error", Username: evt.Username, Err: evt.Err, Timestamp: now()}, true
	case mesh.SessionStarted:
		return ConnectionEvent{Kind: "session-started", Timestamp: now()}, true
	case coordinator.Authenticated:
		return ConnectionEvent{Kind: "coordinator-authenticated", Timestamp: now()}, true
	case coordinator.AuthFailed:
		return ConnectionEvent{Kind: "coordinator-auth-failed", Err: NewError(ErrCodeCoordinatorAuthError, evt.Message), Timestamp: now()}, true
	case discovery.Event:
		if evt.Kind == discovery.EventResolved {
			return ConnectionEvent{Kind: "discovery-resolved", Username: evt.Resolved.Name, Timestamp: now()}, true
		}
		return ConnectionEvent{Kind: "discovery-removed", Username: evt.Resolved.Name, Timestamp: now()}, true
	default:
		return ConnectionEvent{}, false
	}
}
