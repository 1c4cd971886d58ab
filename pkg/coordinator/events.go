package coordinator

// Event is the coordinator's event-bus payload type, spec.md §4.2 and
// §7's CoordinatorAuthError surface.
type Event interface {
	Kind() string
}

// ConnectionAttempt fires when the server accepts a NEW client's first
// handshake round.
type ConnectionAttempt struct {
	Username string
}

func (ConnectionAttempt) Kind() string { return "connection-attempt" }

// ConnectionAttemptFail fires on any AWAIT_PROOF failure: IP mismatch,
// retry exhaustion, or SRP derivation failure.
type ConnectionAttemptFail struct {
	Username string
	Err      *AuthError
}

func (ConnectionAttemptFail) Kind() string { return "connection-attempt-fail" }

// Connected fires (server-side) once a client reaches DONE, or
// (client-side) once the TLS dial completes and round 1 is about to be
// sent.
type Connected struct {
	Username string
}

func (Connected) Kind() string { return "connected" }

// Authenticated fires client-side once round 2 succeeds and the session
// key has been derived.
type Authenticated struct {
	Key []byte
}

func (Authenticated) Kind() string { return "authenticated" }

// AuthFailed fires client-side when the server returns a non-success
// status for either round.
type AuthFailed struct {
	Message string
}

func (AuthFailed) Kind() string { return "error" }
