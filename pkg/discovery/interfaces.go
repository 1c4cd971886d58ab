// Package discovery is the external mDNS/DNS-SD collaborator of spec.md
// §6.1, kept as pure interfaces so the mesh core never imports a
// concrete transport: production wires ZeroconfPublisher/ZeroconfBrowser,
// tests wire the in-memory registry.
package discovery

import "context"

// ServiceType identifies a DNS-SD service, e.g. "_meshberry._tcp".
type ServiceType string

// TXTPayload is the exact contract of spec.md §6.1: "TXT record carries
// {coordinatorPort: int}".
type TXTPayload struct {
	CoordinatorPort int
}

// Resolved is one browse result, spec.md §6.1: "{name, port (ignored),
// addresses[], txt}".
type Resolved struct {
	Name      string
	Addresses []string
	TXT       TXTPayload
}

// Event is emitted by a Browser subscription.
type Event struct {
	// Kind is "resolved" or "removed".
	Kind     string
	Resolved Resolved
}

const (
	EventResolved = "resolved"
	EventRemoved  = "removed"
)

// Publisher advertises this node's coordinator on the local network,
// spec.md §6.1: "publish(instanceName, serviceType, protocol, domain,
// port, txtRecord) -> emits published or error".
type Publisher interface {
	Publish(ctx context.Context, instanceName string, serviceType ServiceType, port int, txt TXTPayload) error
	Unpublish() error
}

// Browser watches for other members' advertisements.
type Browser interface {
	Browse(ctx context.Context, serviceType ServiceType) (<-chan Event, error)
	Close() error
}
