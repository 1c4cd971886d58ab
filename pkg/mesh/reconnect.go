package mesh

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// onOutboundConnected clears every unhealthy flag on a fresh or rebuilt
// dialer-side tls-connected and resolves the neighbor's connectionReady
// future, spec.md §4.4: "Dialer-side tls-connected -> clear disconnected,
// softDisconnected, serverSoftDisconnected, rebuildingSocket; emit
// connected".
func (n *Node) onOutboundConnected(neighbor *Neighbor) {
	n.mu.Lock()
	neighbor.Disconnected = false
	neighbor.SoftDisconnected = false
	neighbor.ServerSoftDisconnected = false
	neighbor.RebuildingSocket = false
	n.mu.Unlock()

	neighbor.MarkReady()
	n.bus.Emit(NeighborConnected{Username: neighbor.Username})
}

// onOutboundClosed marks a neighbor hard-disconnected on the dialer side
// and either triggers a full mesh reconnect (every neighbor down) or a
// per-peer one, spec.md §4.4.
func (n *Node) onOutboundClosed(neighbor *Neighbor) {
	n.mu.Lock()
	alreadyDown := !neighbor.FullyHealthy()
	neighbor.Disconnected = true
	allDown := n.allNeighborsUnhealthyLocked()
	n.mu.Unlock()

	if !alreadyDown {
		n.bus.Emit(NeighborDisconnected{Username: neighbor.Username})
	}

	if allDown {
		go n.fullReconnect()
	} else {
		go n.reconnectPeer(neighbor)
	}
}

// onOutboundSoftDisconnect handles a dialer-side heartbeat timeout,
// spec.md §4.4: "softDisconnected=true; if every neighbor is soft-
// disconnected and none hard-disconnected, trigger a full reconnect".
func (n *Node) onOutboundSoftDisconnect(neighbor *Neighbor) {
	n.mu.Lock()
	alreadyDown := !neighbor.FullyHealthy()
	neighbor.SoftDisconnected = true
	allSoft := len(n.neighbors) > 0
	for _, nb := range n.neighbors {
		if !nb.SoftDisconnected || nb.Disconnected {
			allSoft = false
			break
		}
	}
	n.mu.Unlock()

	if !alreadyDown {
		n.bus.Emit(NeighborDisconnected{Username: neighbor.Username})
	}
	if allSoft {
		go n.fullReconnect()
	}
}

// onInboundSoftDisconnect handles a listener-side heartbeat timeout,
// spec.md §4.4: "serverSoftDisconnected=true; if every neighbor is
// server-soft-disconnected, trigger a full reconnect".
func (n *Node) onInboundSoftDisconnect(neighbor *Neighbor) {
	n.mu.Lock()
	neighbor.ServerSoftDisconnected = true
	allServerSoft := len(n.neighbors) > 0
	for _, nb := range n.neighbors {
		if !nb.ServerSoftDisconnected {
			allServerSoft = false
			break
		}
	}
	n.mu.Unlock()

	if allServerSoft {
		go n.fullReconnect()
	}
}

// onOutboundReconnected handles a dialer-side heartbeat resuming without a
// full TLS rebuild.
func (n *Node) onOutboundReconnected(neighbor *Neighbor) {
	n.mu.Lock()
	neighbor.SoftDisconnected = false
	n.mu.Unlock()
	n.bus.Emit(NeighborReconnected{Username: neighbor.Username})
}

// allNeighborsUnhealthyLocked reports whether every known neighbor is
// currently unhealthy. Caller holds n.mu.
func (n *Node) allNeighborsUnhealthyLocked() bool {
	if len(n.neighbors) == 0 {
		return false
	}
	for _, nb := range n.neighbors {
		if nb.FullyHealthy() {
			return false
		}
	}
	return true
}

// reconnectPeer rebuilds a single neighbor's outbound channel, spec.md
// §4.4's per-peer reconnect path: "destroy the dialer; rebuild with fresh
// sockets and timers, same session name and keys; reconnect".
func (n *Node) reconnectPeer(neighbor *Neighbor) {
	n.mu.Lock()
	if neighbor.RebuildingSocket {
		n.mu.Unlock()
		return
	}
	neighbor.RebuildingSocket = true
	n.mu.Unlock()

	if neighbor.Outbound != nil {
		_ = neighbor.Outbound.Destroy()
	}
	neighbor.ResetReady()

	n.dialNeighbor(neighbor)

	n.mu.Lock()
	neighbor.RebuildingSocket = false
	n.mu.Unlock()
}

// fullReconnect tears down and rebuilds the listener and every neighbor's
// outbound channel, spec.md §4.4's full-mesh path. Guarded by n.reconnecting
// so overlapping triggers collapse into one rebuild.
func (n *Node) fullReconnect() {
	n.mu.Lock()
	if n.reconnecting {
		n.mu.Unlock()
		return
	}
	n.reconnecting = true
	ln := n.listener
	port := n.listenerPort
	n.generation++
	neighbors := make([]*Neighbor, 0, len(n.neighbors))
	for _, nb := range n.neighbors {
		neighbors = append(neighbors, nb)
	}
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		n.reconnecting = false
		n.mu.Unlock()
	}()

	if ln != nil {
		_ = ln.Close()
		if err := n.Listen(port); err != nil {
			n.cfg.logger().Error("mesh: full reconnect listener rebuild failed", "err", err)
			return
		}
	}

	group, _ := errgroup.WithContext(context.Background())
	for _, nb := range neighbors {
		nb := nb
		group.Go(func() error {
			n.reconnectPeer(nb)
			return nil
		})
	}
	_ = group.Wait()
}
