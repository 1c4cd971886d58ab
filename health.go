package meshberry

import (
	"encoding/hex"

	"github.com/blockberries/meshberry/pkg/cryptoprim"
)

// NeighborHealth is one neighbor's liveness snapshot plus a non-secret key
// confirmation tag, so two operators comparing Health() output across
// machines can confirm they derived the same session key without either
// side ever printing it.
type NeighborHealth struct {
	Username               string
	FullyHealthy           bool
	Disconnected           bool
	SoftDisconnected       bool
	ServerSoftDisconnected bool
	RebuildingSocket       bool
	KeyConfirmation        string
}

// HealthSnapshot is a point-in-time view of a session's connectivity.
type HealthSnapshot struct {
	IsHost          bool
	CoordinatorPort int
	NodePort        int
	Neighbors       []NeighborHealth
}

// Health snapshots the current state of every neighbor. Key confirmation
// failures are reported as an empty KeyConfirmation rather than failing
// the whole snapshot, since they are diagnostic, not load-bearing.
func (s *Session) Health() HealthSnapshot {
	snap := HealthSnapshot{
		IsHost:          s.isHost,
		CoordinatorPort: s.coordinatorPort,
		NodePort:        s.nodePort,
	}
	for _, neighbor := range s.node().Neighbors() {
		h := NeighborHealth{
			Username:               neighbor.Username,
			FullyHealthy:           neighbor.FullyHealthy(),
			Disconnected:           neighbor.Disconnected,
			SoftDisconnected:       neighbor.SoftDisconnected,
			ServerSoftDisconnected: neighbor.ServerSoftDisconnected,
			RebuildingSocket:       neighbor.RebuildingSocket,
		}
		if tag, err := cryptoprim.ConfirmKey(neighbor.SendKey()); err == nil {
			h.KeyConfirmation = hex.EncodeToString(tag)
		}
		snap.Neighbors = append(snap.Neighbors, h)
	}
	return snap
}
