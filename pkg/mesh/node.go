package mesh

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/blockberries/meshberry/internal/eventbus"
	"github.com/blockberries/meshberry/pkg/tlschannel"
)

// Logger matches the shape used across meshberry so every component can
// share one application-supplied backend (slog, zap, zerolog) without any
// package depending on it directly.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}

// Config configures a Node.
type Config struct {
	// Username is this node's own member name (e.g. "frulf"), used as the
	// envelope "from" field.
	Username string
	// SessionName is the overall session identifier shared by every
	// member, embedded in every TLS certificate's CN.
	SessionName string
	// Key signs this node's self-signed node certificate.
	Key *rsa.PrivateKey
	// Clock drives heartbeat timers on every channel this node owns.
	// Defaults to clock.New() when nil.
	Clock  clock.Clock
	Logger Logger
}

func (c Config) logger() Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return NopLogger{}
}

func (c Config) clock() clock.Clock {
	if c.Clock != nil {
		return c.Clock
	}
	return clock.New()
}

// Node is MeshNode: the shared base for HostNode and ClientNode. It owns
// one TLS listener on nodePort and a map of Neighbor by user name.
type Node struct {
	cfg Config
	bus *eventbus.Bus

	mu           sync.Mutex
	neighbors    map[string]*Neighbor
	listener     net.Listener
	listenerPort int
	reconnecting bool
	generation   int
	destroyed    bool

	sessionStartedOnce sync.Once

	// onHello/onAckHello let HostNode and ClientNode install their own
	// bootstrap handling without Node needing to know which one it is.
	onHello    func(neighbor *Neighbor, env Envelope)
	onAckHello func(neighbor *Neighbor, env Envelope)
}

// NewNode constructs an idle Node.
func NewNode(cfg Config) *Node {
	return &Node{
		cfg:       cfg,
		bus:       eventbus.New(128, nil),
		neighbors: make(map[string]*Neighbor),
	}
}

// Events returns the node's event stream.
func (n *Node) Events() <-chan eventbus.Event {
	return n.bus.Events()
}

// Listen binds nodePort and begins accepting inbound neighbor connections.
func (n *Node) Listen(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("mesh: listen: %w", err)
	}
	n.mu.Lock()
	n.listener = ln
	n.listenerPort = ln.Addr().(*net.TCPAddr).Port
	generation := n.generation
	n.mu.Unlock()

	go n.acceptLoop(ln, generation)
	return nil
}

// ListenerPort returns the bound listener port.
func (n *Node) ListenerPort() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.listenerPort
}

func (n *Node) acceptLoop(ln net.Listener, generation int) {
	for {
		rawConn, err := ln.Accept()
		if err != nil {
			return
		}

		n.mu.Lock()
		stale := generation != n.generation
		n.mu.Unlock()
		if stale {
			_ = rawConn.Close()
			return
		}

		go n.handleInbound(rawConn)
	}
}

func (n *Node) handleInbound(rawConn net.Conn) {
	remoteIP, remotePort, err := splitHostPortInt(rawConn.RemoteAddr().String())
	if err != nil {
		_ = rawConn.Close()
		return
	}

	neighbor := n.neighborByIP(remoteIP)
	if neighbor == nil {
		// Not yet a known neighbor (e.g. the host's hello hasn't arrived
		// at this peer describing them) — drop silently, spec.md §3's
		// invariant that unpinned traffic is dropped.
		_ = rawConn.Close()
		return
	}

	n.mu.Lock()
	if neighbor.ServerPort != remotePort {
		// spec.md §4.4: listener observes a known IP on a different
		// remote port than recorded — update and trigger per-peer
		// reconnect.
		neighbor.ServerPort = remotePort
		neighbor.Disconnected = true
		n.mu.Unlock()
		go n.reconnectPeer(neighbor)
	} else {
		n.mu.Unlock()
	}

	ch := tlschannel.New(tlschannel.Config{SessionName: n.cfg.SessionName, Key: n.cfg.Key, Clock: n.cfg.clock()})
	if err := ch.Listen(context.Background(), rawConn); err != nil {
		n.cfg.logger().Warn("mesh: inbound tls handshake failed", "peer", neighbor.Username, "err", err)
		return
	}
	neighbor.Inbound = ch
	n.runEventLoop(neighbor, ch, false)
}

func (n *Node) neighborByIP(ip string) *Neighbor {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, nb := range n.neighbors {
		if nb.IP == ip {
			return nb
		}
	}
	return nil
}

// AddNeighbor registers a peer and begins an eager outbound dial to it,
// spec.md §4.3: "addNeighbor(record) creates a TLS dialer to that
// neighbor's (ip, serverPort) and stores a future that resolves upon
// tls-connected".
func (n *Node) AddNeighbor(username, ip string, serverPort int, sendKey, receiveKey []byte) *Neighbor {
	neighbor := NewNeighbor(username, ip, serverPort, sendKey, receiveKey)

	n.mu.Lock()
	n.neighbors[username] = neighbor
	n.mu.Unlock()

	n.dialNeighbor(neighbor)
	return neighbor
}

func (n *Node) dialNeighbor(neighbor *Neighbor) {
	ch := tlschannel.New(tlschannel.Config{SessionName: n.cfg.SessionName, Key: n.cfg.Key, Clock: n.cfg.clock()})
	neighbor.Outbound = ch

	go func() {
		if err := ch.Connect(context.Background(), neighbor.IP, neighbor.ServerPort, n.cfg.SessionName); err != nil {
			n.cfg.logger().Warn("mesh: outbound dial failed", "peer", neighbor.Username, "err", err)
			return
		}
		n.runEventLoop(neighbor, ch, true)
	}()
}

// runEventLoop consumes one Channel's event stream for the lifetime of
// that channel (outbound or inbound) and dispatches liveness transitions
// and application data.
func (n *Node) runEventLoop(neighbor *Neighbor, ch *tlschannel.Channel, outbound bool) {
	for evt := range ch.Events() {
		switch e := evt.(type) {
		case tlschannel.TLSConnected:
			if outbound {
				n.onOutboundConnected(neighbor)
			}
		case tlschannel.Data:
			n.handleEnvelopeBytes(neighbor, e.Bytes)
		case tlschannel.SocketClosed:
			if outbound {
				n.onOutboundClosed(neighbor)
			}
		case tlschannel.Disconnected:
			if outbound {
				n.onOutboundSoftDisconnect(neighbor)
			} else {
				n.onInboundSoftDisconnect(neighbor)
			}
		case tlschannel.Reconnected:
			if outbound {
				n.onOutboundReconnected(neighbor)
			}
		}
	}
}

func (n *Node) handleEnvelopeBytes(neighbor *Neighbor, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return // malformed messages dropped silently, spec.md §7
	}
	n.dispatchEnvelope(neighbor, env)
}

// SendMessage awaits the neighbor's connectionReady future, then encrypts
// and sends, spec.md §4.3.
func (n *Node) SendMessage(username, text string) error {
	n.mu.Lock()
	neighbor, ok := n.neighbors[username]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("mesh: unknown neighbor %q", username)
	}

	<-neighbor.Ready()

	env, err := encryptText(TypeMessage, neighbor.SendKey(), n.cfg.Username, []byte(text))
	if err != nil {
		n.bus.Emit(EncryptError{Fn: "SendMessage", Username: username, MessageType: TypeMessage, Err: err})
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return neighbor.Outbound.Send(payload)
}

// BroadcastMessage iterates SendMessage over all neighbors, spec.md §4.3.
func (n *Node) BroadcastMessage(text string) error {
	n.mu.Lock()
	usernames := make([]string, 0, len(n.neighbors))
	for u := range n.neighbors {
		usernames = append(usernames, u)
	}
	n.mu.Unlock()

	var firstErr error
	for _, u := range usernames {
		if err := n.SendMessage(u, text); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Neighbors returns a snapshot of the current neighbor map.
func (n *Node) Neighbors() map[string]*Neighbor {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]*Neighbor, len(n.neighbors))
	for k, v := range n.neighbors {
		out[k] = v
	}
	return out
}

// Destroy tears down the listener and every neighbor's channels.
func (n *Node) Destroy() error {
	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return nil
	}
	n.destroyed = true
	ln := n.listener
	neighbors := make([]*Neighbor, 0, len(n.neighbors))
	for _, nb := range n.neighbors {
		neighbors = append(neighbors, nb)
	}
	n.mu.Unlock()

	var errs []error
	if ln != nil {
		if err := ln.Close(); err != nil {
			errs = append(errs, fmt.Errorf("listener: %w", err))
		}
	}
	for _, nb := range neighbors {
		if nb.Outbound != nil {
			if err := nb.Outbound.Destroy(); err != nil {
				errs = append(errs, fmt.Errorf("neighbor %s outbound: %w", nb.Username, err))
			}
		}
		if nb.Inbound != nil {
			if err := nb.Inbound.Destroy(); err != nil {
				errs = append(errs, fmt.Errorf("neighbor %s inbound: %w", nb.Username, err))
			}
		}
	}
	n.bus.Close()
	return multierr.Combine(errs...)
}

// emitSessionStarted fires SessionStarted exactly once per Node lifetime,
// spec.md §8 invariant 6.
func (n *Node) emitSessionStarted() {
	n.sessionStartedOnce.Do(func() {
		n.bus.Emit(SessionStarted{})
	})
}

func splitHostPortInt(hostport string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, err
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, err
	}
	return host, port, nil
}
