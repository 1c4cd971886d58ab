package mesh

import (
	"sync"

	"github.com/blockberries/meshberry/pkg/tlschannel"
)

// Neighbor is the per-peer record of spec.md §3: "{ userName, ip,
// serverPort, sendKey, receiveKey, tlsDialer, connectionReady: future,
// disconnected, softDisconnected, serverSoftDisconnected,
// rebuildingSocket }".
//
// spec.md §4.1 gives every node exactly one TLS listener on nodePort,
// while §4.3 has every member dial every other member. Reconciling those
// requires two physical TlsChannels per neighbor pair: Outbound is this
// node's own dial to the neighbor's listener; Inbound is the neighbor's
// dial into this node's listener, matched to the neighbor by pinned
// remote IP (see DESIGN.md).
type Neighbor struct {
	Username   string
	IP         string
	ServerPort int

	mu         sync.RWMutex
	sendKey    []byte
	receiveKey []byte

	Outbound *tlschannel.Channel
	Inbound  *tlschannel.Channel

	ready     chan struct{}
	readyOnce sync.Once

	Disconnected           bool
	SoftDisconnected       bool
	ServerSoftDisconnected bool
	RebuildingSocket       bool
}

// NewNeighbor constructs a Neighbor with an unresolved connectionReady
// future.
func NewNeighbor(username, ip string, serverPort int, sendKey, receiveKey []byte) *Neighbor {
	return &Neighbor{
		Username:   username,
		IP:         ip,
		ServerPort: serverPort,
		sendKey:    sendKey,
		receiveKey: receiveKey,
		ready:      make(chan struct{}),
	}
}

// SendKey returns this neighbor's current send key (hot-swappable across
// rebuilds, so reads are mutex-guarded).
func (n *Neighbor) SendKey() []byte {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sendKey
}

// ReceiveKey returns this neighbor's current receive key.
func (n *Neighbor) ReceiveKey() []byte {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.receiveKey
}

// MarkReady resolves the connectionReady future exactly once, spec.md
// §4.3: "sendMessage awaits the neighbor's connectionReady future".
func (n *Neighbor) MarkReady() {
	n.readyOnce.Do(func() { close(n.ready) })
}

// Ready returns the connectionReady future.
func (n *Neighbor) Ready() <-chan struct{} {
	return n.ready
}

// ResetReady installs a fresh connectionReady future, used when the
// outbound channel is rebuilt and must be re-awaited.
func (n *Neighbor) ResetReady() {
	n.ready = make(chan struct{})
	n.readyOnce = sync.Once{}
}

// FullyHealthy reports whether none of the four unhealthy booleans is set,
// spec.md §4.4's "if any neighbor is not fully healthy" full-reconnect
// trigger condition.
func (n *Neighbor) FullyHealthy() bool {
	return !n.Disconnected && !n.SoftDisconnected && !n.ServerSoftDisconnected && !n.RebuildingSocket
}
