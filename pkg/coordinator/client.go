package coordinator

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/blockberries/meshberry/internal/eventbus"
	"github.com/blockberries/meshberry/pkg/cryptoprim"
	"github.com/blockberries/meshberry/pkg/tlschannel"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	Username    string
	Passcode    string
	SessionName string
	// Key signs the client's own node certificate (used once the client
	// reaches the mesh, not for the coordinator dial itself).
	Key      *rsa.PrivateKey
	NodePort int
	Logger   Logger
}

func (c ClientConfig) logger() Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return NopLogger{}
}

// StartResult is what a successful coordinator handshake resolves to,
// spec.md §4.2: "resolves its start future with {info: decryptedPayload,
// key: srpSessionKey}".
type StartResult struct {
	Info HostInfoPayload
	Key  []byte
}

// Client is CoordinatorClient: it dials the coordinator, authenticates via
// SRP-6a, and resolves with the host's info and the derived session key.
type Client struct {
	cfg ClientConfig
	bus *eventbus.Bus

	ch         *tlschannel.Channel
	session    *cryptoprim.ClientSession
	salt       []byte
	derivedKey []byte
}

// NewClient constructs a Client. Call Start to dial and authenticate.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		cfg: cfg,
		bus: eventbus.New(16, nil),
	}
}

// Events returns the client's event stream.
func (c *Client) Events() <-chan eventbus.Event {
	return c.bus.Events()
}

// Start dials (sessionIP, sessionPort) pinning sessionName, then drives the
// full two-round SRP handshake, returning once authenticated or on error.
func (c *Client) Start(ctx context.Context, sessionIP string, sessionPort int) (*StartResult, error) {
	key, err := cryptoprim.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("coordinator: client key: %w", err)
	}
	c.ch = tlschannel.New(tlschannel.Config{SessionName: c.cfg.SessionName, Key: key})

	if err := c.ch.Connect(ctx, sessionIP, sessionPort, c.cfg.SessionName); err != nil {
		return nil, fmt.Errorf("coordinator: connect: %w", err)
	}
	c.bus.Emit(Connected{Username: c.cfg.Username})

	if err := c.sendRound1(); err != nil {
		return nil, err
	}

	result := make(chan *StartResult, 1)
	errc := make(chan error, 1)
	go c.readLoop(result, errc)

	select {
	case r := <-result:
		return r, nil
	case err := <-errc:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) sendRound1() error {
	salt, err := cryptoprim.RandomBytes(16)
	if err != nil {
		return fmt.Errorf("coordinator: salt: %w", err)
	}
	c.salt = salt

	session, clientEphPub, err := cryptoprim.NewClientSession(c.cfg.Username, c.cfg.Passcode)
	if err != nil {
		return fmt.Errorf("coordinator: client session: %w", err)
	}
	c.session = session

	msg := ClientHandshake1{
		Type: TypeHandshake1,
		Payload: ClientHandshake1Payload{
			Username:              c.cfg.Username,
			Salt:                  hex.EncodeToString(salt),
			ClientEphemeralPublic: hex.EncodeToString(clientEphPub),
		},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.ch.Send(payload)
}

func (c *Client) readLoop(result chan<- *StartResult, errc chan<- error) {
	for evt := range c.ch.Events() {
		data, ok := evt.(tlschannel.Data)
		if !ok {
			continue
		}
		if r, err := c.handleMessage(data.Bytes); err != nil {
			errc <- err
			return
		} else if r != nil {
			result <- r
			return
		}
	}
	errc <- fmt.Errorf("coordinator: channel closed before authentication completed")
}

func (c *Client) handleMessage(raw []byte) (*StartResult, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil
	}

	switch env.Type {
	case TypeHandshake1:
		var msg ServerHandshake1
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, nil
		}
		if msg.Status != StatusSuccess {
			c.bus.Emit(AuthFailed{Message: derefString(msg.Error)})
			return nil, fmt.Errorf("coordinator: %s", derefString(msg.Error))
		}
		return nil, c.handleServerRound1(msg.Payload)
	case TypeHandshake2:
		var msg ServerHandshake2
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, nil
		}
		if msg.Status != StatusSuccess {
			c.bus.Emit(AuthFailed{Message: derefString(msg.Error)})
			return nil, fmt.Errorf("coordinator: %s", derefString(msg.Error))
		}
		return c.handleServerRound2(msg.Payload)
	}
	return nil, nil
}

func (c *Client) handleServerRound1(p *ServerHandshake1Payload) error {
	serverEphPub, err := hex.DecodeString(p.ServerEphermalKey)
	if err != nil {
		return fmt.Errorf("coordinator: server ephemeral key: %w", err)
	}
	key, err := c.session.ComputeKey(c.salt, serverEphPub)
	if err != nil {
		return fmt.Errorf("coordinator: client compute key: %w", err)
	}
	c.derivedKey = key

	msg := ClientHandshake2{
		Type: TypeHandshake2,
		Payload: ClientHandshake2Payload{
			SessionProof: hex.EncodeToString(c.session.ClientProof()),
			Username:     c.cfg.Username,
			NodePort:     c.cfg.NodePort,
		},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.ch.Send(payload)
}

func (c *Client) handleServerRound2(p *ServerHandshake2Payload) (*StartResult, error) {
	serverProof, err := hex.DecodeString(p.ServerProof)
	if err != nil {
		return nil, fmt.Errorf("coordinator: server proof: %w", err)
	}
	if !c.session.VerifyServerProof(serverProof) {
		return nil, fmt.Errorf("coordinator: server proof verification failed")
	}

	iv, err := base64Decode(p.IV)
	if err != nil {
		return nil, err
	}
	encrypted, err := base64Decode(p.Encrypted)
	if err != nil {
		return nil, err
	}

	innerB64, decErr := cryptoprim.Decrypt(c.derivedKey, iv, encrypted)
	if decErr != nil {
		return nil, fmt.Errorf("coordinator: decrypt host info: %w", decErr)
	}
	// "base64 within base64" per spec.md §6.2: the AES plaintext is itself
	// base64 of the JSON payload.
	plaintext, err := base64.StdEncoding.DecodeString(string(innerB64))
	if err != nil {
		return nil, fmt.Errorf("coordinator: host info inner base64: %w", err)
	}

	var info HostInfoPayload
	if err := json.Unmarshal(plaintext, &info); err != nil {
		return nil, fmt.Errorf("coordinator: host info: %w", err)
	}

	c.bus.Emit(Authenticated{Key: c.derivedKey})
	return &StartResult{Info: info, Key: c.derivedKey}, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
