package coordinator

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/blockberries/meshberry/internal/eventbus"
	"github.com/blockberries/meshberry/pkg/cryptoprim"
	"github.com/blockberries/meshberry/pkg/tlschannel"
)

// maxRetriesPerIP is the retry budget of spec.md §4.2's AWAIT_PROOF row.
const maxRetriesPerIP = 3

// ipRetryCacheSize bounds the per-IP retry-count table so a flood of
// distinct source IPs cannot grow it unboundedly.
const ipRetryCacheSize = 4096

// Logger matches the teacher's logging interface so callers can plug in
// slog, zap, or zerolog without this package depending on any of them.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// NopLogger discards everything. The default when ServerConfig.Logger is nil.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}

// ServerConfig configures a Server.
type ServerConfig struct {
	// SessionName identifies the session in the TLS certificate CN.
	SessionName string
	// Passcode is the shared SRP password, spec.md §4.2: "an SRPServer
	// seeded with the session passcode as the well-known password".
	Passcode string
	// Key signs the coordinator's self-signed certificate.
	Key    *rsa.PrivateKey
	Logger Logger
}

func (c ServerConfig) logger() Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return NopLogger{}
}

// Server is CoordinatorServer: it listens on one TCP port, accepts one
// pinned TLS connection per candidate client, and drives each through the
// NEW → AWAIT_PROOF → DONE state machine of spec.md §4.2.
type Server struct {
	cfg ServerConfig
	bus *eventbus.Bus

	mu            sync.Mutex
	users         map[string]*userRecord
	clients       map[string]*clientRecord
	authenticated []AuthenticatedMember
	ipRetries     *lru.Cache[string, int]
	hostNodePort  int

	listener net.Listener
	port     int

	wg sync.WaitGroup
}

// NewServer constructs a Server. Call Listen to start accepting clients.
func NewServer(cfg ServerConfig) (*Server, error) {
	cache, err := lru.New[string, int](ipRetryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("coordinator: retry cache: %w", err)
	}
	return &Server{
		cfg:       cfg,
		bus:       eventbus.New(64, nil),
		users:     make(map[string]*userRecord),
		clients:   make(map[string]*clientRecord),
		ipRetries: cache,
	}, nil
}

// Events returns the server's event stream.
func (s *Server) Events() <-chan eventbus.Event {
	return s.bus.Events()
}

// Listen binds coordinatorPort and begins accepting candidate clients in
// the background.
func (s *Server) Listen(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("coordinator: listen: %w", err)
	}
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Port returns the bound port (useful when 0 was requested).
func (s *Server) Port() int { return s.port }

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(rawConn net.Conn) {
	remoteIP, _, err := net.SplitHostPort(rawConn.RemoteAddr().String())
	if err != nil {
		remoteIP = rawConn.RemoteAddr().String()
	}
	localIP, _, err := net.SplitHostPort(rawConn.LocalAddr().String())
	if err != nil {
		localIP = rawConn.LocalAddr().String()
	}

	ch := tlschannel.New(tlschannel.Config{SessionName: s.cfg.SessionName, Key: s.cfg.Key})
	if err := ch.Listen(context.Background(), rawConn); err != nil {
		s.cfg.logger().Warn("coordinator: candidate tls handshake failed", "ip", remoteIP, "err", err)
		return
	}

	for evt := range ch.Events() {
		data, ok := evt.(tlschannel.Data)
		if !ok {
			continue
		}
		s.handleMessage(ch, remoteIP, localIP, data.Bytes)
	}
}

func (s *Server) handleMessage(ch *tlschannel.Channel, remoteIP, localIP string, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return // malformed messages are dropped silently, spec.md §7
	}

	switch env.Type {
	case TypeHandshake1:
		var msg ClientHandshake1
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		s.handleRound1(ch, remoteIP, msg.Payload)
	case TypeHandshake2:
		var msg ClientHandshake2
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		s.handleRound2(ch, remoteIP, localIP, msg.Payload)
	}
}

// classifyRound1Locked implements spec.md §4.2's NEW/AWAIT_PROOF row for an
// incoming srp-handshake_1: collision is true when the username is already
// registered from a different IP (reject), retry is true when it is being
// re-presented from the same IP (bump the per-IP retry counter). Caller
// must hold s.mu.
func (s *Server) classifyRound1Locked(username, remoteIP string) (collision, retry bool) {
	existing, ok := s.clients[username]
	if !ok {
		return false, false
	}
	if existing.ip != remoteIP {
		return true, false
	}
	return false, true
}

func (s *Server) handleRound1(ch *tlschannel.Channel, remoteIP string, p ClientHandshake1Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	collision, retry := s.classifyRound1Locked(p.Username, remoteIP)
	if collision {
		s.sendErr1(ch, errUsernameTaken.Message)
		s.bus.Emit(ConnectionAttemptFail{Username: p.Username, Err: errUsernameTaken})
		return
	}
	if retry {
		count, _ := s.ipRetries.Get(remoteIP)
		s.ipRetries.Add(remoteIP, count+1)
	}

	salt, err := hex.DecodeString(p.Salt)
	if err != nil {
		s.sendErr1(ch, newDerivationError(err).Message)
		s.bus.Emit(ConnectionAttemptFail{Username: p.Username, Err: newDerivationError(err)})
		return
	}
	clientEphPub, err := hex.DecodeString(p.ClientEphemeralPublic)
	if err != nil {
		s.sendErr1(ch, newDerivationError(err).Message)
		s.bus.Emit(ConnectionAttemptFail{Username: p.Username, Err: newDerivationError(err)})
		return
	}

	verifier, err := cryptoprim.DeriveVerifier(salt, p.Username, s.cfg.Passcode)
	if err != nil {
		derivErr := newDerivationError(err)
		s.sendErr1(ch, derivErr.Message)
		s.bus.Emit(ConnectionAttemptFail{Username: p.Username, Err: derivErr})
		return
	}

	serverSession, serverEphPub, err := cryptoprim.NewServerSession(p.Username, verifier)
	if err != nil {
		derivErr := newDerivationError(err)
		s.sendErr1(ch, derivErr.Message)
		s.bus.Emit(ConnectionAttemptFail{Username: p.Username, Err: derivErr})
		return
	}

	s.users[p.Username] = &userRecord{
		salt:                  salt,
		verifier:              verifier,
		clientEphemeralPublic: clientEphPub,
		serverEphemeral:       serverEphPub,
		serverSession:         serverSession,
	}
	s.clients[p.Username] = &clientRecord{
		username: p.Username,
		ip:       remoteIP,
		state:    StateAwaitProof,
	}

	reply := ServerHandshake1{
		Type:    TypeHandshake1,
		Payload: &ServerHandshake1Payload{ServerEphermalKey: hex.EncodeToString(serverEphPub)},
		Status:  StatusSuccess,
	}
	s.sendJSON(ch, reply)
	s.bus.Emit(ConnectionAttempt{Username: p.Username})
}

func (s *Server) handleRound2(ch *tlschannel.Channel, remoteIP, localIP string, p ClientHandshake2Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[p.Username]
	if !ok || client.state != StateAwaitProof {
		return
	}

	if client.ip != remoteIP {
		s.sendErr2(ch, errIPMismatch.Message)
		s.bus.Emit(ConnectionAttemptFail{Username: p.Username, Err: errIPMismatch})
		return
	}

	retries, _ := s.ipRetries.Get(remoteIP)
	if retries >= maxRetriesPerIP {
		s.sendErr2(ch, errTooManyRetries.Message)
		s.bus.Emit(ConnectionAttemptFail{Username: p.Username, Err: errTooManyRetries})
		return
	}

	user := s.users[p.Username]
	clientProof, err := hex.DecodeString(p.SessionProof)
	if err != nil {
		derivErr := newDerivationError(err)
		s.sendErr2(ch, derivErr.Message)
		s.bus.Emit(ConnectionAttemptFail{Username: p.Username, Err: derivErr})
		return
	}

	sessionKey, err := user.serverSession.ComputeKey(user.clientEphemeralPublic)
	if err != nil {
		derivErr := newDerivationError(err)
		s.sendErr2(ch, derivErr.Message)
		s.bus.Emit(ConnectionAttemptFail{Username: p.Username, Err: derivErr})
		return
	}
	if !user.serverSession.VerifyClientProof(clientProof) {
		derivErr := newDerivationError(fmt.Errorf("client proof mismatch"))
		s.sendErr2(ch, derivErr.Message)
		s.bus.Emit(ConnectionAttemptFail{Username: p.Username, Err: derivErr})
		return
	}

	hostInfo := HostInfoPayload{UserName: s.cfg.SessionName, IP: localIP, Port: s.hostNodePort}
	hostInfoJSON, err := json.Marshal(hostInfo)
	if err != nil {
		return
	}
	iv, err := cryptoprim.RandomIV()
	if err != nil {
		return
	}
	// "base64 within base64" per spec.md §6.2: the plaintext handed to
	// AES-CBC is itself base64 of the JSON payload.
	innerB64 := []byte(b64(hostInfoJSON))
	encrypted, err := cryptoprim.Encrypt(sessionKey, iv, innerB64)
	if err != nil {
		derivErr := newDerivationError(err)
		s.sendErr2(ch, derivErr.Message)
		s.bus.Emit(ConnectionAttemptFail{Username: p.Username, Err: derivErr})
		return
	}

	serverProof := user.serverSession.ServerProof(clientProof)

	client.state = StateDone
	client.registered = true
	s.authenticated = append(s.authenticated, AuthenticatedMember{
		Username:   p.Username,
		IP:         remoteIP,
		Port:       p.NodePort,
		SessionKey: sessionKey,
	})

	reply := ServerHandshake2{
		Type: TypeHandshake2,
		Payload: &ServerHandshake2Payload{
			IV:          b64(iv),
			Encrypted:   b64(encrypted),
			ServerProof: hex.EncodeToString(serverProof),
		},
		Status: StatusSuccess,
	}
	s.sendJSON(ch, reply)
	s.bus.Emit(Connected{Username: p.Username})
}

// SetHostNodePort sets the port announced to authenticated clients in
// round 2's decrypted payload ("port: hostNodePort" per spec.md §6.2). Set it before
// any client reaches round 2.
func (s *Server) SetHostNodePort(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostNodePort = port
}

// ExportUsers returns the authenticated member roster, spec.md §4.2:
// "the authenticated list joined with each user's serverSession.key".
func (s *Server) ExportUsers() []AuthenticatedMember {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuthenticatedMember, len(s.authenticated))
	copy(out, s.authenticated)
	return out
}

// Close stops accepting new clients.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.wg.Wait()
	s.bus.Close()
	return err
}

func (s *Server) sendErr1(ch *tlschannel.Channel, message string) {
	reply := ServerHandshake1{Type: TypeHandshake1, Status: StatusError, Error: errString(message)}
	s.sendJSON(ch, reply)
}

func (s *Server) sendErr2(ch *tlschannel.Channel, message string) {
	reply := ServerHandshake2{Type: TypeHandshake2, Status: StatusError, Error: errString(message)}
	s.sendJSON(ch, reply)
}

func (s *Server) sendJSON(ch *tlschannel.Channel, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = ch.Send(payload)
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
