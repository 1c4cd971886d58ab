package cryptoprim

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/tadglines/go-pkgs/crypto/srp"
)

// SRPGroup is the Diffie-Hellman group meshberry authenticates over:
// the standard 2048-bit group named by spec.md §2 ("SRP-6a with the
// standard 2048-bit group").
const SRPGroup = "rfc5054.2048"

// newSRP builds the shared SRP-6a parameter set (group + hash) that both
// the coordinator server and client must agree on.
func newSRP() (*srp.SRP, error) {
	s, err := srp.NewSRP(SRPGroup, sha256.New, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: srp params: %w", err)
	}
	return s, nil
}

// DeriveVerifier computes the SRP password verifier for a user, given a
// salt and the shared session passcode. This is the coordinator's
// register-and-login step of spec.md §4.2. The private key is
// x = KeyDerivationFunc(salt, passcode); the username argument is not
// mixed into x.
func DeriveVerifier(salt []byte, username, passcode string) ([]byte, error) {
	s, err := newSRP()
	if err != nil {
		return nil, err
	}
	x := new(big.Int).SetBytes(s.KeyDerivationFunc(salt, []byte(passcode)))
	v := new(big.Int).Exp(s.Group.Generator, x, s.Group.Prime)
	return v.Bytes(), nil
}

// ServerSession is the coordinator-side SRP-6a state for one candidate
// client, spanning the AWAIT_PROOF state of spec.md §4.2's table.
type ServerSession struct {
	srp     *srp.SRP
	session *srp.ServerSession
}

// NewServerSession starts a server-side SRP exchange for a user's stored
// verifier and returns the server's ephemeral public key
// (srp-handshake_1's "serverEphermalKey").
func NewServerSession(username string, verifier []byte) (*ServerSession, []byte, error) {
	s, err := newSRP()
	if err != nil {
		return nil, nil, err
	}
	session := s.NewServerSession([]byte(username), nil, verifier)
	return &ServerSession{srp: s, session: session}, session.GetB(), nil
}

// ComputeKey completes the server side of the exchange given the client's
// ephemeral public key, deriving the shared session key and this side's
// proof of possession. An error here corresponds to spec.md §4.2's "SRP
// derivation throws" -> "Unable to verify client..." case.
func (s *ServerSession) ComputeKey(clientEphemeralPublic []byte) ([]byte, error) {
	key, err := s.session.ComputeKey(clientEphemeralPublic)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: srp server compute key: %w", err)
	}
	return key, nil
}

// VerifyClientProof checks the client's session proof
// (srp-handshake_2's "sessionProof") against the server's derived key.
func (s *ServerSession) VerifyClientProof(clientProof []byte) bool {
	return s.session.VerifyClientAuthenticator(clientProof)
}

// ServerProof returns this side's proof of the shared key, sent back to
// the client as srp-handshake_2's "serverProof".
func (s *ServerSession) ServerProof(clientProof []byte) []byte {
	return s.session.ComputeAuthenticator(clientProof)
}

// ClientSession is the client-side SRP-6a state for one coordinator
// handshake.
type ClientSession struct {
	srp     *srp.SRP
	session *srp.ClientSession
}

// NewClientSession starts a client-side SRP exchange and returns this
// side's ephemeral public key (srp-handshake_1's "clientEphemeralPublic").
func NewClientSession(username, passcode string) (*ClientSession, []byte, error) {
	s, err := newSRP()
	if err != nil {
		return nil, nil, err
	}
	session := s.NewClientSession([]byte(username), []byte(passcode))
	return &ClientSession{srp: s, session: session}, session.GetA(), nil
}

// ComputeKey completes the client side given the salt and server
// ephemeral public key from srp-handshake_1, deriving the shared session
// key.
func (c *ClientSession) ComputeKey(salt, serverEphemeralPublic []byte) ([]byte, error) {
	key, err := c.session.ComputeKey(salt, serverEphemeralPublic)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: srp client compute key: %w", err)
	}
	return key, nil
}

// ClientProof returns this side's proof of the shared key, sent as
// srp-handshake_2's "sessionProof".
func (c *ClientSession) ClientProof() []byte {
	return c.session.ClientAuthenticator()
}

// VerifyServerProof checks the server's returned proof
// (srp-handshake_2's "serverProof") against the client's derived key.
func (c *ClientSession) VerifyServerProof(serverProof []byte) bool {
	return c.session.VerifyServerAuthenticator(serverProof)
}

// SessionKeyHex renders a derived SRP session key as the hex string form
// spec.md §3 mandates for "serverSessionKey" in the authenticated member
// record.
func SessionKeyHex(key []byte) string {
	return hex.EncodeToString(key)
}
