package mesh

import (
	"encoding/json"
)

// ClientNode is a non-host mesh member: it waits for the host's "hello",
// installs one Neighbor per entry, dials each, and acks back to the host,
// spec.md §4.3.
type ClientNode struct {
	*Node

	hostKey []byte
	self    HelloNodeEntry
}

// NewClientNode constructs a ClientNode. hostKey is the SRP session key
// shared with the host (used to decrypt the host's "hello" and encrypt
// this node's "ack-hello"). self is this node's own roster row as the host
// described it, used for the receiveKey asymmetry below.
func NewClientNode(cfg Config, hostKey []byte, self HelloNodeEntry) *ClientNode {
	c := &ClientNode{
		Node:    NewNode(cfg),
		hostKey: hostKey,
		self:    self,
	}
	c.Node.onHello = c.handleHello
	return c
}

// AddHostAsNeighbor installs the host itself as a neighbor so replies
// (ack-hello, and any direct host traffic) have somewhere to go.
func (c *ClientNode) AddHostAsNeighbor(username, ip string, port int) *Neighbor {
	return c.AddNeighbor(username, ip, port, c.hostKey, c.hostKey)
}

func (c *ClientNode) handleHello(neighbor *Neighbor, env Envelope) {
	plaintext, err := decryptText(env, neighbor.ReceiveKey())
	if err != nil {
		c.bus.Emit(EncryptError{Fn: "handleHello", Username: neighbor.Username, MessageType: TypeHello, Err: err})
		return
	}

	payload, err := decodeHelloPayload(plaintext)
	if err != nil {
		c.bus.Emit(EncryptError{Fn: "handleHello", Username: neighbor.Username, MessageType: TypeHello, Err: err})
		return
	}

	for _, entry := range payload.Nodes {
		if entry.Username == c.cfg.Username {
			continue
		}

		sendKey, err := keyFromHex(entry.SendKey)
		if err != nil {
			c.bus.Emit(EncryptError{Fn: "handleHello", Username: entry.Username, MessageType: TypeHello, Err: err})
			continue
		}
		// spec.md §9: the asymmetry is load-bearing. This node's sendKey
		// to the neighbor is the neighbor's OWN row's key (so traffic to
		// them is encrypted under the key the host handed THEM), while
		// this node's receiveKey comes from its own roster row (the key
		// the host handed to THIS node). The two differ deliberately and
		// must never be unified.
		receiveKey, err := keyFromHex(c.self.ReceiveKey)
		if err != nil {
			c.bus.Emit(EncryptError{Fn: "handleHello", Username: entry.Username, MessageType: TypeHello, Err: err})
			continue
		}

		c.AddNeighbor(entry.Username, entry.IP, entry.Port, sendKey, receiveKey)
	}

	c.replyAckHello(neighbor)
	c.emitSessionStarted()
}

func (c *ClientNode) replyAckHello(neighbor *Neighbor) {
	// spec.md §6.3: "ack-hello payload is an empty string".
	env, err := encryptText(TypeAckHello, neighbor.SendKey(), c.cfg.Username, []byte(""))
	if err != nil {
		c.bus.Emit(EncryptError{Fn: "replyAckHello", Username: neighbor.Username, MessageType: TypeAckHello, Err: err})
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	_ = neighbor.Outbound.Send(raw)
}
