package meshberry

import "fmt"

// DebugSnapshot is a redacted view of a session's internal state, safe to
// log or print: it never includes session keys, passcodes, or private
// keys, only the session identity, its ports, and the current neighbor
// usernames.
type DebugSnapshot struct {
	Username        string
	SessionName     string
	IsHost          bool
	CoordinatorPort int
	NodePort        int
	Neighbors       []string
}

// DebugSnapshot builds a DebugSnapshot from the current session state.
func (s *Session) DebugSnapshot() DebugSnapshot {
	snap := DebugSnapshot{
		Username:        s.cfg.Username,
		SessionName:     s.cfg.SessionName,
		IsHost:          s.isHost,
		CoordinatorPort: s.coordinatorPort,
		NodePort:        s.nodePort,
	}
	for username := range s.node().Neighbors() {
		snap.Neighbors = append(snap.Neighbors, username)
	}
	return snap
}

// String renders the snapshot as a single redacted line, convenient for
// Logger.Debug calls.
func (d DebugSnapshot) String() string {
	return fmt.Sprintf("session{user=%s name=%s host=%t coordinatorPort=%d nodePort=%d neighbors=%v}",
		d.Username, d.SessionName, d.IsHost, d.CoordinatorPort, d.NodePort, d.Neighbors)
}
