package mesh

import (
	"encoding/json"
	"sync"
)

// HostRosterEntry is one authenticated member as handed to the host by
// pkg/coordinator, keyed by the per-member SRP session key (spec.md
// §4.3: "sendKey = receiveKey = srpSessionKey(peer), one per neighbor").
type HostRosterEntry struct {
	Username   string
	IP         string
	ServerPort int
	SessionKey []byte
}

// HostNode is the mesh bootstrap leader: it owns the roster handed off by
// the coordinator, dials every member, and sends each one a "hello"
// describing the full roster so every pair can build a direct neighbor
// relationship, spec.md §4.3.
type HostNode struct {
	*Node

	mu           sync.Mutex
	roster       []HostRosterEntry
	ackedFrom    map[string]bool
	expectedAcks int
}

// NewHostNode constructs a HostNode around a fresh Node.
func NewHostNode(cfg Config) *HostNode {
	h := &HostNode{
		Node:      NewNode(cfg),
		ackedFrom: make(map[string]bool),
	}
	h.Node.onAckHello = h.handleAckHello
	return h
}

// Start begins dialing every roster member and sends each one a "hello"
// payload carrying per-pair symmetric keys, spec.md §4.3's ordered steps:
// "begin dialing every neighbor without waiting; build and send hello;
// track ack-hello arrivals; emit session-started once all have acked".
func (h *HostNode) Start(roster []HostRosterEntry) error {
	h.mu.Lock()
	h.roster = roster
	h.expectedAcks = len(roster)
	h.mu.Unlock()

	for _, member := range roster {
		member := member
		neighbor := h.AddNeighbor(member.Username, member.IP, member.ServerPort, member.SessionKey, member.SessionKey)

		go func() {
			<-neighbor.Ready()
			if err := h.sendHello(neighbor, roster); err != nil {
				h.cfg.logger().Warn("mesh: hello send failed", "peer", member.Username, "err", err)
			}
		}()
	}

	if len(roster) == 0 {
		h.emitSessionStarted()
	}
	return nil
}

func (h *HostNode) sendHello(neighbor *Neighbor, roster []HostRosterEntry) error {
	entries := make([]HelloNodeEntry, 0, len(roster))
	for _, member := range roster {
		if member.Username == neighbor.Username {
			continue
		}
		entries = append(entries, HelloNodeEntry{
			Username:   member.Username,
			IP:         member.IP,
			Port:       member.ServerPort,
			SendKey:    hexKey(member.SessionKey),
			ReceiveKey: hexKey(member.SessionKey),
		})
	}

	payload, err := encodeHelloPayload(HelloPayload{Nodes: entries})
	if err != nil {
		return err
	}

	env, err := encryptText(TypeHello, neighbor.SendKey(), h.cfg.Username, payload)
	if err != nil {
		h.bus.Emit(EncryptError{Fn: "sendHello", Username: neighbor.Username, MessageType: TypeHello, Err: err})
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return neighbor.Outbound.Send(raw)
}

func (h *HostNode) handleAckHello(neighbor *Neighbor, env Envelope) {
	if _, err := decryptText(env, neighbor.ReceiveKey()); err != nil {
		h.bus.Emit(EncryptError{Fn: "handleAckHello", Username: neighbor.Username, MessageType: TypeAckHello, Err: err})
		return
	}

	h.mu.Lock()
	h.ackedFrom[neighbor.Username] = true
	done := len(h.ackedFrom) >= h.expectedAcks
	h.mu.Unlock()

	if done {
		h.emitSessionStarted()
	}
}
