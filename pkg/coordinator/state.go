package coordinator

import "github.com/blockberries/meshberry/pkg/cryptoprim"

// ClientState is one candidate client's position in the per-client state
// machine of spec.md §4.2's table.
type ClientState int

const (
	StateNew ClientState = iota
	StateAwaitProof
	StateDone
)

func (s ClientState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateAwaitProof:
		return "AWAIT_PROOF"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// clientRecord is the coordinator's "clients table" row, spec.md §4.2:
// "{userName → {retryCount, ip, registered}}".
type clientRecord struct {
	username   string
	ip         string
	state      ClientState
	registered bool
}

// userRecord is the coordinator's "users table" row, spec.md §4.2:
// "{userName → {salt, verifier, clientEphemeralPublic, serverEphemeral,
// serverSession}}".
type userRecord struct {
	salt                  []byte
	verifier              []byte
	clientEphemeralPublic []byte
	serverEphemeral       []byte
	serverSession         *cryptoprim.ServerSession
}

// AuthenticatedMember is one row of the coordinator's exported roster,
// spec.md §4.2: "exportUsers() returns the authenticated list joined with
// each user's serverSession.key".
type AuthenticatedMember struct {
	Username   string
	IP         string
	Port       int
	SessionKey []byte
}
