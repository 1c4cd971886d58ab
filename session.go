package meshberry

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/blockberries/meshberry/internal/eventbus"
	"github.com/blockberries/meshberry/pkg/coordinator"
	"github.com/blockberries/meshberry/pkg/cryptoprim"
	"github.com/blockberries/meshberry/pkg/discovery"
	"github.com/blockberries/meshberry/pkg/mesh"
	"github.com/blockberries/meshberry/pkg/portprobe"
)

// serviceType is the DNS-SD service advertised for coordinator discovery,
// spec.md §6.1.
const serviceType discovery.ServiceType = "_meshberry._tcp"

// meshNodeHandle is the subset of *mesh.HostNode / *mesh.ClientNode that
// Session needs once bootstrap has produced one or the other; both satisfy
// it through their embedded *mesh.Node.
type meshNodeHandle interface {
	Events() <-chan eventbus.Event
	SendMessage(username, text string) error
	BroadcastMessage(text string) error
	Neighbors() map[string]*mesh.Neighbor
	Destroy() error
	ListenerPort() int
}

// Session is a joined meshberry session, either the host that founded it
// or a client that joined it. It aggregates discovery, the coordinator
// handshake, and the mesh into one lifecycle and one merged event stream.
type Session struct {
	cfg *SessionConfig

	isHost bool
	host   *mesh.HostNode
	client *mesh.ClientNode

	coordServer *coordinator.Server
	coordClient *coordinator.Client

	publisher discovery.Publisher
	browser   discovery.Browser

	coordinatorPort int
	nodePort        int

	events chan ConnectionEvent
	stats  Stats

	closeMu sync.Mutex
	closed  bool
}

// Stats returns the session's running counters.
func (s *Session) Stats() *Stats {
	return &s.stats
}

// node returns whichever mesh node this session wraps.
func (s *Session) node() meshNodeHandle {
	if s.isHost {
		return s.host
	}
	return s.client
}

// NewHost founds a new session: it opens a coordinator listener seeded
// with cfg.Passcode, opens a mesh listener, and advertises the coordinator
// port over mDNS/DNS-SD so clients can find it. Call StartMesh once enough
// clients have authenticated through the coordinator to bootstrap the
// mesh itself.
func NewHost(ctx context.Context, cfg *SessionConfig) (*Session, error) {
	return newHost(ctx, cfg, &discovery.ZeroconfPublisher{})
}

// newHost is NewHost with the discovery publisher injected, so tests can
// supply an in-memory registry instead of dialing real mDNS.
func newHost(ctx context.Context, cfg *SessionConfig, publisher discovery.Publisher) (*Session, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	key, err := cryptoprim.GenerateKeypair()
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeTLSError, "generate node keypair", err)
	}

	coordPort, err := choosePort(cfg.CoordinatorPort)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodePortExhaustion, "secure coordinator port", err)
	}

	coordServer, err := coordinator.NewServer(coordinator.ServerConfig{
		SessionName: cfg.SessionName,
		Passcode:    cfg.Passcode,
		Key:         key,
		Logger:      coordinatorLoggerAdapter{cfg.Logger},
	})
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeCoordinatorAuthError, "construct coordinator server", err)
	}
	if err := coordServer.Listen(coordPort); err != nil {
		return nil, NewErrorWithCause(ErrCodeCoordinatorAuthError, "listen on coordinator port", err)
	}

	nodePort, err := choosePort(cfg.NodePort)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodePortExhaustion, "secure node port", err)
	}

	hostNode := mesh.NewHostNode(mesh.Config{
		Username:    cfg.Username,
		SessionName: cfg.SessionName,
		Key:         key,
		Logger:      meshLoggerAdapter{cfg.Logger},
	})
	if err := hostNode.Listen(nodePort); err != nil {
		_ = coordServer.Close()
		return nil, NewErrorWithCause(ErrCodeTLSError, "listen on node port", err)
	}
	coordServer.SetHostNodePort(nodePort)

	if err := publisher.Publish(ctx, cfg.SessionName, serviceType, coordPort, discovery.TXTPayload{CoordinatorPort: coordPort}); err != nil {
		_ = coordServer.Close()
		_ = hostNode.Destroy()
		return nil, NewErrorWithCause(ErrCodeDiscoveryError, "publish coordinator advertisement", err)
	}

	s := &Session{
		cfg:             cfg,
		isHost:          true,
		host:            hostNode,
		coordServer:     coordServer,
		publisher:       publisher,
		coordinatorPort: coordPort,
		nodePort:        nodePort,
		events:          make(chan ConnectionEvent, cfg.EventBufferSize),
	}
	s.fanIn(coordServer.Events(), hostNode.Events())
	return s, nil
}

// StartMesh closes the coordinator to new joiners conceptually (the
// coordinator itself keeps running; spec.md does not require closing it)
// and bootstraps the mesh from everyone who has authenticated so far. It
// is only valid on a host session.
func (s *Session) StartMesh() error {
	if !s.isHost {
		return ErrNotHost
	}
	members := s.coordServer.ExportUsers()
	roster := make([]mesh.HostRosterEntry, 0, len(members))
	for _, m := range members {
		roster = append(roster, mesh.HostRosterEntry{
			Username:   m.Username,
			IP:         m.IP,
			ServerPort: m.Port,
			SessionKey: m.SessionKey,
		})
	}
	if err := s.host.Start(roster); err != nil {
		return NewErrorWithCause(ErrCodeTLSError, "start mesh", err)
	}
	return nil
}

// NewClient browses for a session named cfg.SessionName, authenticates to
// its coordinator with cfg.Passcode, and joins its mesh. It blocks until
// the session is found and the coordinator handshake resolves, or ctx is
// done.
func NewClient(ctx context.Context, cfg *SessionConfig) (*Session, error) {
	browser, err := discovery.NewZeroconfBrowser()
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDiscoveryError, "construct discovery browser", err)
	}
	return newClientWithBrowser(ctx, cfg, browser)
}

// newClientWithBrowser is NewClient with the discovery browser injected,
// so tests can supply an in-memory registry instead of dialing real mDNS.
func newClientWithBrowser(ctx context.Context, cfg *SessionConfig, browser discovery.Browser) (*Session, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		_ = browser.Close()
		return nil, err
	}

	resolved, err := findSession(ctx, browser, cfg.SessionName)
	if err != nil {
		_ = browser.Close()
		return nil, err
	}

	key, err := cryptoprim.GenerateKeypair()
	if err != nil {
		_ = browser.Close()
		return nil, NewErrorWithCause(ErrCodeTLSError, "generate node keypair", err)
	}

	nodePort, err := choosePort(cfg.NodePort)
	if err != nil {
		_ = browser.Close()
		return nil, NewErrorWithCause(ErrCodePortExhaustion, "secure node port", err)
	}

	coordClient := coordinator.NewClient(coordinator.ClientConfig{
		Username:    cfg.Username,
		Passcode:    cfg.Passcode,
		SessionName: cfg.SessionName,
		Key:         key,
		NodePort:    nodePort,
		Logger:      coordinatorLoggerAdapter{cfg.Logger},
	})

	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	result, err := coordClient.Start(handshakeCtx, resolved.Addresses[0], resolved.TXT.CoordinatorPort)
	if err != nil {
		_ = browser.Close()
		return nil, NewErrorWithCause(ErrCodeCoordinatorAuthError, "coordinator handshake", err)
	}

	localIP, err := localOutboundIP(resolved.Addresses[0])
	if err != nil {
		_ = browser.Close()
		return nil, NewErrorWithCause(ErrCodeTLSError, "determine local address", err)
	}

	self := mesh.HelloNodeEntry{
		Username:   cfg.Username,
		IP:         localIP,
		Port:       nodePort,
		SendKey:    hex.EncodeToString(result.Key),
		ReceiveKey: hex.EncodeToString(result.Key),
	}

	clientNode := mesh.NewClientNode(mesh.Config{
		Username:    cfg.Username,
		SessionName: cfg.SessionName,
		Key:         key,
		Logger:      meshLoggerAdapter{cfg.Logger},
	}, result.Key, self)

	if err := clientNode.Listen(nodePort); err != nil {
		_ = browser.Close()
		return nil, NewErrorWithCause(ErrCodeTLSError, "listen on node port", err)
	}
	clientNode.AddHostAsNeighbor(result.Info.UserName, result.Info.IP, result.Info.Port)

	s := &Session{
		cfg:             cfg,
		isHost:          false,
		client:          clientNode,
		coordClient:     coordClient,
		browser:         browser,
		coordinatorPort: resolved.TXT.CoordinatorPort,
		nodePort:        nodePort,
		events:          make(chan ConnectionEvent, cfg.EventBufferSize),
	}
	s.fanIn(coordClient.Events(), clientNode.Events())
	return s, nil
}

// findSession blocks until a browse event names sessionName or ctx is done.
func findSession(ctx context.Context, browser discovery.Browser, sessionName string) (discovery.Resolved, error) {
	ch, err := browser.Browse(ctx, serviceType)
	if err != nil {
		return discovery.Resolved{}, NewErrorWithCause(ErrCodeDiscoveryError, "browse for session", err)
	}
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return discovery.Resolved{}, NewError(ErrCodeDiscoveryError, "discovery browser closed before session was found")
			}
			if evt.Kind == discovery.EventResolved && evt.Resolved.Name == sessionName && len(evt.Resolved.Addresses) > 0 {
				return evt.Resolved, nil
			}
		case <-ctx.Done():
			return discovery.Resolved{}, NewErrorWithCause(ErrCodeDiscoveryError, "timed out looking for session", ctx.Err())
		}
	}
}

// choosePort probes an available ephemeral port when preferred is zero,
// otherwise trusts the caller's choice.
func choosePort(preferred int) (int, error) {
	if preferred != 0 {
		return preferred, nil
	}
	start, err := portprobe.RandomStart()
	if err != nil {
		return 0, err
	}
	ln, err := portprobe.Secure(start)
	if err != nil {
		return 0, err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port, nil
}

// localOutboundIP returns the local address used to reach remoteIP,
// without sending any traffic.
func localOutboundIP(remoteIP string) (string, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(remoteIP, "9"))
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// fanIn merges one or more internal event-bus streams into the public
// Events() channel, translating each recognized event.
func (s *Session) fanIn(streams ...<-chan eventbus.Event) {
	var wg sync.WaitGroup
	for _, stream := range streams {
		wg.Add(1)
		go func(stream <-chan eventbus.Event) {
			defer wg.Done()
			for raw := range stream {
				if evt, ok := translateMeshEvent(raw, time.Now); ok {
					s.stats.recordEvent(evt)
					select {
					case s.events <- evt:
					default:
						s.cfg.Metrics.EventDropped()
					}
				}
			}
		}(stream)
	}
	go func() {
		wg.Wait()
		close(s.events)
	}()
}

// Events returns the merged event stream for this session: connection
// state changes, received messages, session start, coordinator handshake
// outcomes, and errors. Discovery results are not forwarded to it.
func (s *Session) Events() <-chan ConnectionEvent {
	return s.events
}

// SendMessage sends a direct message to one neighbor by username.
func (s *Session) SendMessage(username, text string) error {
	if err := s.node().SendMessage(username, text); err != nil {
		return NewErrorWithCause(ErrCodeNodeEncryptError, "send message", err)
	}
	s.stats.messagesSent.Add(1)
	return nil
}

// Broadcast sends a message to every neighbor.
func (s *Session) Broadcast(text string) error {
	if err := s.node().BroadcastMessage(text); err != nil {
		return NewErrorWithCause(ErrCodeNodeEncryptError, "broadcast message", err)
	}
	s.stats.messagesSent.Add(1)
	return nil
}

// IsHost reports whether this session founded the mesh.
func (s *Session) IsHost() bool {
	return s.isHost
}

// CoordinatorPort returns the bound coordinator port.
func (s *Session) CoordinatorPort() int {
	return s.coordinatorPort
}

// NodePort returns the bound mesh listener port.
func (s *Session) NodePort() int {
	return s.nodePort
}

// Close tears down the session: discovery advertisement/browse, the
// coordinator, and the mesh, aggregating every teardown error rather than
// stopping at the first one.
func (s *Session) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.isHost {
		if err := s.publisher.Unpublish(); err != nil {
			errs = append(errs, fmt.Errorf("unpublish: %w", err))
		}
		if err := s.coordServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("coordinator server: %w", err))
		}
	} else {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("discovery browser: %w", err))
		}
	}
	if err := s.node().Destroy(); err != nil {
		errs = append(errs, fmt.Errorf("mesh teardown: %w", err))
	}

	return joinErrors(errs)
}

// coordinatorLoggerAdapter lets a meshberry.Logger satisfy
// pkg/coordinator's structurally-identical Logger interface.
type coordinatorLoggerAdapter struct{ l Logger }

func (a coordinatorLoggerAdapter) Debug(msg string, kv ...any) { a.l.Debug(msg, kv...) }
func (a coordinatorLoggerAdapter) Info(msg string, kv ...any)  { a.l.Info(msg, kv...) }
func (a coordinatorLoggerAdapter) Warn(msg string, kv ...any)  { a.l.Warn(msg, kv...) }
func (a coordinatorLoggerAdapter) Error(msg string, kv ...any) { a.l.Error(msg, kv...) }

// meshLoggerAdapter lets a meshberry.Logger satisfy pkg/mesh's
// structurally-identical Logger interface.
type meshLoggerAdapter struct{ l Logger }

func (a meshLoggerAdapter) Debug(msg string, kv ...any) { a.l.Debug(msg, kv...) }
func (a meshLoggerAdapter) Info(msg string, kv ...any)  { a.l.Info(msg, kv...) }
func (a meshLoggerAdapter) Warn(msg string, kv ...any)  { a.l.Warn(msg, kv...) }
func (a meshLoggerAdapter) Error(msg string, kv ...any) { a.l.Error(msg, kv...) }
