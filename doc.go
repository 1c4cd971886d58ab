// Package meshberry is a discoverable, self-signed-TLS mesh for small
// ad-hoc sessions: one host founds a session and advertises it over
// mDNS/DNS-SD, clients find and join it through an SRP-6a authenticated
// coordinator handshake, and once every client has joined, the host
// bootstraps a fully-connected mesh between every member.
//
// A typical host:
//
//	cfg := meshberry.NewSessionConfig("alice", "movie-night", "s3cr3t")
//	session, err := meshberry.NewHost(ctx, cfg)
//	// ... wait for clients to join via session.Events() ...
//	err = session.StartMesh()
//
// A typical client:
//
//	cfg := meshberry.NewSessionConfig("bob", "movie-night", "s3cr3t")
//	session, err := meshberry.NewClient(ctx, cfg)
//	for evt := range session.Events() {
//		...
//	}
package meshberry
