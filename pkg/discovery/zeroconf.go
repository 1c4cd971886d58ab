package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
	"github.com/miekg/dns"
)

// encodeTXT renders TXTPayload as the single "coordinatorPort=<n>" TXT
// string, built as the Txt field of a dns.TXT resource record and returned
// as is; the record itself is not serialized.
func encodeTXT(payload TXTPayload) []string {
	rr := &dns.TXT{
		Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeTXT, Class: dns.ClassINET},
		Txt: []string{fmt.Sprintf("coordinatorPort=%d", payload.CoordinatorPort)},
	}
	return rr.Txt
}

// decodeTXT parses a resolved entry's TXT strings back into a TXTPayload,
// spec.md §6.1: "TXT record carries {coordinatorPort: int}".
func decodeTXT(txt []string) (TXTPayload, error) {
	for _, line := range txt {
		rr, err := dns.NewRR(fmt.Sprintf("x.local. 0 IN TXT \"%s\"", strings.ReplaceAll(line, `"`, `\"`)))
		if err != nil {
			continue
		}
		asTXT, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		for _, field := range asTXT.Txt {
			name, value, found := strings.Cut(field, "=")
			if !found || name != "coordinatorPort" {
				continue
			}
			port, err := strconv.Atoi(value)
			if err != nil {
				return TXTPayload{}, fmt.Errorf("discovery: coordinatorPort: %w", err)
			}
			return TXTPayload{CoordinatorPort: port}, nil
		}
	}
	return TXTPayload{}, fmt.Errorf("discovery: no coordinatorPort TXT field")
}

// ZeroconfPublisher advertises this node's coordinator over mDNS using
// github.com/grandcat/zeroconf.
type ZeroconfPublisher struct {
	server *zeroconf.Server
}

// Publish registers the service and blocks until registration succeeds or
// fails; ctx is not consulted, and the advertisement runs until Unpublish.
func (p *ZeroconfPublisher) Publish(ctx context.Context, instanceName string, serviceType ServiceType, port int, txt TXTPayload) error {
	server, err := zeroconf.Register(instanceName, string(serviceType), "local.", port, encodeTXT(txt), nil)
	if err != nil {
		return fmt.Errorf("discovery: publish: %w", err)
	}
	p.server = server
	return nil
}

// Unpublish withdraws the advertisement.
func (p *ZeroconfPublisher) Unpublish() error {
	if p.server != nil {
		p.server.Shutdown()
		p.server = nil
	}
	return nil
}

// ZeroconfBrowser resolves other members' advertisements over mDNS.
type ZeroconfBrowser struct {
	resolver *zeroconf.Resolver
}

// NewZeroconfBrowser constructs a browser backed by a fresh zeroconf
// resolver.
func NewZeroconfBrowser() (*ZeroconfBrowser, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolver: %w", err)
	}
	return &ZeroconfBrowser{resolver: resolver}, nil
}

// Browse starts a browse and translates zeroconf entries into Events,
// applying spec.md §6.1's address-selection rule: first non-loopback
// IPv4, IPv6 ignored.
func (b *ZeroconfBrowser) Browse(ctx context.Context, serviceType ServiceType) (<-chan Event, error) {
	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := b.resolver.Browse(ctx, string(serviceType), "local.", entries); err != nil {
		return nil, fmt.Errorf("discovery: browse: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for entry := range entries {
			evt, ok := translateEntry(entry)
			if !ok {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func translateEntry(entry *zeroconf.ServiceEntry) (Event, bool) {
	addr := firstUsableIPv4(entry.AddrIPv4)
	if addr == "" {
		return Event{}, false
	}
	txt, err := decodeTXT(entry.Text)
	if err != nil {
		return Event{}, false
	}
	return Event{
		Kind: EventResolved,
		Resolved: Resolved{
			Name:      entry.Instance,
			Addresses: []string{addr},
			TXT:       txt,
		},
	}, true
}

func firstUsableIPv4(addrs []net.IP) string {
	for _, ip := range addrs {
		if ip.IsLoopback() {
			continue
		}
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}

// Close does nothing and returns nil; the resolver is not released.
func (b *ZeroconfBrowser) Close() error {
	return nil
}
