package discovery

import (
	"context"
	"sync"
)

// Registry is an in-process Publisher/Browser pair with no network I/O,
// used by the root package's session tests where real mDNS multicast isn't
// available.
type Registry struct {
	mu        sync.Mutex
	instances map[ServiceType]map[string]Resolved
	subs      map[ServiceType][]chan Event
}

// NewRegistry constructs an empty in-memory registry.
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[ServiceType]map[string]Resolved),
		subs:      make(map[ServiceType][]chan Event),
	}
}

// MemoryPublisher is a Registry-backed Publisher for one instance.
type MemoryPublisher struct {
	reg          *Registry
	serviceType  ServiceType
	instanceName string
}

// NewPublisher binds a Publisher to this registry.
func (r *Registry) NewPublisher() *MemoryPublisher {
	return &MemoryPublisher{reg: r}
}

func (p *MemoryPublisher) Publish(ctx context.Context, instanceName string, serviceType ServiceType, port int, txt TXTPayload) error {
	p.instanceName = instanceName
	p.serviceType = serviceType
	resolved := Resolved{Name: instanceName, Addresses: []string{"127.0.0.1"}, TXT: txt}

	p.reg.mu.Lock()
	if p.reg.instances[serviceType] == nil {
		p.reg.instances[serviceType] = make(map[string]Resolved)
	}
	p.reg.instances[serviceType][instanceName] = resolved
	subs := append([]chan Event(nil), p.reg.subs[serviceType]...)
	p.reg.mu.Unlock()

	for _, sub := range subs {
		sub <- Event{Kind: EventResolved, Resolved: resolved}
	}
	return nil
}

func (p *MemoryPublisher) Unpublish() error {
	p.reg.mu.Lock()
	name, svc := p.instanceName, p.serviceType
	delete(p.reg.instances[svc], name)
	subs := append([]chan Event(nil), p.reg.subs[svc]...)
	p.reg.mu.Unlock()

	for _, sub := range subs {
		sub <- Event{Kind: EventRemoved, Resolved: Resolved{Name: name}}
	}
	return nil
}

// MemoryBrowser is a Registry-backed Browser.
type MemoryBrowser struct {
	reg         *Registry
	serviceType ServiceType
	ch          chan Event
}

// NewBrowser binds a Browser to this registry.
func (r *Registry) NewBrowser() *MemoryBrowser {
	return &MemoryBrowser{reg: r}
}

func (b *MemoryBrowser) Browse(ctx context.Context, serviceType ServiceType) (<-chan Event, error) {
	b.serviceType = serviceType
	b.ch = make(chan Event, 16)

	b.reg.mu.Lock()
	b.reg.subs[serviceType] = append(b.reg.subs[serviceType], b.ch)
	existing := make([]Resolved, 0, len(b.reg.instances[serviceType]))
	for _, r := range b.reg.instances[serviceType] {
		existing = append(existing, r)
	}
	b.reg.mu.Unlock()

	go func() {
		for _, r := range existing {
			b.ch <- Event{Kind: EventResolved, Resolved: r}
		}
	}()

	return b.ch, nil
}

func (b *MemoryBrowser) Close() error {
	if b.ch == nil {
		return nil
	}
	b.reg.mu.Lock()
	subs := b.reg.subs[b.serviceType]
	for i, sub := range subs {
		if sub == b.ch {
			b.reg.subs[b.serviceType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.reg.mu.Unlock()
	close(b.ch)
	return nil
}
