package mesh

// dispatchEnvelope routes one decoded Envelope from neighbor to the
// appropriate handler. HostNode and ClientNode override hello/ack-hello
// handling via the hooks below; message/broadcast handling is shared.
func (n *Node) dispatchEnvelope(neighbor *Neighbor, env Envelope) {
	switch env.Type {
	case TypeHello:
		if n.onHello != nil {
			n.onHello(neighbor, env)
		}
	case TypeAckHello:
		if n.onAckHello != nil {
			n.onAckHello(neighbor, env)
		}
	case TypeMessage, TypeBroadcast:
		n.handleMessageEnvelope(neighbor, env)
	}
}

func (n *Node) handleMessageEnvelope(neighbor *Neighbor, env Envelope) {
	plaintext, err := decryptText(env, neighbor.ReceiveKey())
	if err != nil {
		n.bus.Emit(EncryptError{Fn: "handleMessageEnvelope", Username: neighbor.Username, MessageType: env.Type, Err: err})
		return
	}
	n.bus.Emit(MessageReceived{From: env.From, Text: string(plaintext)})
}
