// Package otelexport provides OpenTelemetry tracing integration for
// meshberry.
//
// # Span hierarchy
//
// The following spans are created during normal operation:
//
//	meshberry.discover
//	meshberry.handshake
//	├── meshberry.key_derivation
//	└── meshberry.roster_exchange
//	meshberry.mesh_bootstrap
//	meshberry.send
//	└── meshberry.encrypt
//	meshberry.receive
//	└── meshberry.decrypt
//	meshberry.reconnect
//
// # Attributes
//
// Common span attributes include:
//   - peer.username: the remote member's username
//   - message.size: size of sent/received plaintext
//   - connection.direction: "inbound" or "outbound"
//   - handshake.result: "success", "failure", or "timeout"
//   - reconnect.scope: "peer" or "full"
//
// # Example usage
//
//	import (
//		"github.com/blockberries/meshberry"
//		meshberryotel "github.com/blockberries/meshberry/otelexport"
//		"go.opentelemetry.io/otel"
//	)
//
//	tracer := meshberryotel.NewTracer(otel.GetTracerProvider())
//	ctx, span := tracer.StartHandshake(ctx, "bob")
//	defer tracer.EndSpan(span, err)
package otelexport

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// TracerName is the name used for the OpenTelemetry tracer.
	TracerName = "github.com/blockberries/meshberry"

	// Span names.
	SpanDiscover       = "meshberry.discover"
	SpanHandshake      = "meshberry.handshake"
	SpanKeyDerive      = "meshberry.key_derivation"
	SpanRosterExchange = "meshberry.roster_exchange"
	SpanMeshBootstrap  = "meshberry.mesh_bootstrap"
	SpanSend           = "meshberry.send"
	SpanEncrypt        = "meshberry.encrypt"
	SpanReceive        = "meshberry.receive"
	SpanDecrypt        = "meshberry.decrypt"
	SpanReconnect      = "meshberry.reconnect"

	// Attribute keys.
	AttrPeerUsername        = "peer.username"
	AttrMessageSize         = "message.size"
	AttrConnectionDirection = "connection.direction"
	AttrHandshakeResult     = "handshake.result"
	AttrReconnectScope      = "reconnect.scope"
	AttrErrorMessage        = "error.message"
)

// Tracer provides OpenTelemetry tracing for meshberry operations. It wraps
// an OpenTelemetry TracerProvider and creates spans for discovery,
// handshakes, mesh bootstrap, and message flow.
//
// Tracer is safe for concurrent use.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the given TracerProvider. If
// provider is nil, a no-op tracer is used.
func NewTracer(provider trace.TracerProvider) *Tracer {
	if provider == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(TracerName)}
	}
	return &Tracer{tracer: provider.Tracer(TracerName)}
}

// StartDiscover starts a span for an mDNS/DNS-SD publish-or-browse cycle.
func (t *Tracer) StartDiscover(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanDiscover)
}

// StartHandshake starts a span for a coordinator SRP handshake with the
// named remote member.
func (t *Tracer) StartHandshake(ctx context.Context, username string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanHandshake,
		trace.WithAttributes(attribute.String(AttrPeerUsername, username)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartKeyDerivation starts a span for SRP session key derivation.
func (t *Tracer) StartKeyDerivation(ctx context.Context, username string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanKeyDerive,
		trace.WithAttributes(attribute.String(AttrPeerUsername, username)),
	)
}

// StartRosterExchange starts a span for the host-to-member roster push.
func (t *Tracer) StartRosterExchange(ctx context.Context, username string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanRosterExchange,
		trace.WithAttributes(attribute.String(AttrPeerUsername, username)),
	)
}

// StartMeshBootstrap starts a span covering full-mesh TLS channel setup
// once the roster is known.
func (t *Tracer) StartMeshBootstrap(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanMeshBootstrap)
}

// StartSend starts a span for sending a message to the named member.
func (t *Tracer) StartSend(ctx context.Context, username string, size int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanSend,
		trace.WithAttributes(
			attribute.String(AttrPeerUsername, username),
			attribute.Int(AttrMessageSize, size),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

// StartEncrypt starts a span for AES-CBC encryption of a plaintext payload.
func (t *Tracer) StartEncrypt(ctx context.Context, size int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanEncrypt,
		trace.WithAttributes(attribute.Int(AttrMessageSize, size)),
	)
}

// StartReceive starts a span for receiving a message from the named member.
func (t *Tracer) StartReceive(ctx context.Context, username string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanReceive,
		trace.WithAttributes(attribute.String(AttrPeerUsername, username)),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

// StartDecrypt starts a span for AES-CBC decryption of a received payload.
func (t *Tracer) StartDecrypt(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanDecrypt)
}

// StartReconnect starts a span for a reconnect attempt at the given scope
// ("peer" or "full").
func (t *Tracer) StartReconnect(ctx context.Context, username, scope string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanReconnect,
		trace.WithAttributes(
			attribute.String(AttrPeerUsername, username),
			attribute.String(AttrReconnectScope, scope),
		),
	)
}

// RecordHandshakeResult records the result of a handshake on the given span.
func (t *Tracer) RecordHandshakeResult(span trace.Span, result string, err error) {
	span.SetAttributes(attribute.String(AttrHandshakeResult, result))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(AttrErrorMessage, err.Error()))
	} else {
		span.SetStatus(codes.Ok, "")
	}
}

// RecordError records an error on the given span without ending it.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// EndSpan ends a span, optionally recording an error.
func (t *Tracer) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// NopTracer wraps the real Tracer with a noop provider. Used when tracing
// is disabled.
type NopTracer struct {
	*Tracer
}

// NewNopTracer creates a new no-op tracer.
func NewNopTracer() *NopTracer {
	return &NopTracer{Tracer: NewTracer(nil)}
}
