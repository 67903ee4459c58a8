// Package transport implements the abstract transport contract the
// bridge engine binds to, plus concrete stdio and SSE
// transports and the factory that constructs them from a kind + config
// mapping.
package transport

import "sync"

// Source tags which side of the bridge a transport plays: the
// server-side transport talks to the upstream MCP server, the
// client-side transport talks to the downstream MCP client.
type Source string

const (
	// Server identifies the server-side transport.
	Server Source = "SERVER"
	// Client identifies the client-side transport.
	Client Source = "CLIENT"
)

// Kind names a recognized transport implementation. Matching is
// case-insensitive at the factory boundary (see factory.go); Kind
// values here are always the canonical lowercase form.
type Kind string

const (
	// KindStdio is a line/Content-Length-framed stdio transport.
	KindStdio Kind = "stdio"
	// KindSSE is an HTTP Server-Sent-Events transport.
	KindSSE Kind = "sse"
)

// Transport is the abstract capability set both server-side and
// client-side transports expose. The bridge never inspects
// message content — every operation here is payload-opaque.
type Transport interface {
	// Inbound returns the transport's broadcast-able inbound stream. It
	// emits one InboundEvent per received JSON-RPC frame or stream
	// error, and is closed when the transport enters the closed state.
	// Each call to Inbound returns a fresh subscription; a nil return
	// means the transport is already closed.
	Inbound() Subscription

	// Send enqueues an outbound frame. It fails with a
	// bridgeerr.KindTransportClosed error if invoked after Close, and
	// otherwise either succeeds or fails with a kind-specific error.
	Send(message string) error

	// Close releases underlying resources. Idempotent: causes Inbound
	// subscriptions to terminate and ClosedFuture to resolve, exactly
	// once regardless of how many times Close is called.
	Close() error

	// ClosedFuture resolves exactly once, when the transport enters the
	// closed state either by local Close or remote disconnection.
	ClosedFuture() <-chan struct{}
}

// Subscription is a live listener on a transport's inbound stream.
type Subscription interface {
	// Ch returns the channel to receive InboundEvents on. Closed when
	// the owning broadcaster is closed.
	Ch() <-chan InboundEvent
	// Cancel detaches this subscription from the broadcaster. Safe to
	// call more than once.
	Cancel()
}

// subscription adapts an *inboundSub plus its owning broadcaster to the
// exported Subscription interface, so callers never see the internal
// broadcaster type.
type subscription struct {
	sub *inboundSub
	b   *broadcaster
}

func (s *subscription) Ch() <-chan InboundEvent { return s.sub.Ch() }
func (s *subscription) Cancel()                 { s.b.unsubscribe(s.sub) }

// closedFuture is a one-shot, idempotently-closeable signal, used to
// implement ClosedFuture on every concrete transport.
type closedFuture struct {
	once sync.Once
	ch   chan struct{}
}

func newClosedFuture() *closedFuture {
	return &closedFuture{ch: make(chan struct{})}
}

func (f *closedFuture) resolve() {
	f.once.Do(func() { close(f.ch) })
}

func (f *closedFuture) wait() <-chan struct{} { return f.ch }
