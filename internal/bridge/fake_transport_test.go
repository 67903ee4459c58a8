package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/basket/mcp-bridge/internal/bridgecfg"
	"github.com/basket/mcp-bridge/internal/transport"
)

// newRunningBridgeForTest builds a Bridge already in the RUNNING state
// with the given (server, client) transport pair and subscription set
// installed, bypassing Initialize's factory dispatch so tests can drive
// pump/reconnect behavior against fakeTransport directly.
func newRunningBridgeForTest(cfg bridgecfg.BridgeConfig, logger *slog.Logger, server, client transport.Transport) *Bridge {
	b := NewBridge(cfg, logger, nil, nil)
	runCtx, runCancel := context.WithCancel(context.Background())
	b.runCtx = runCtx
	b.runCancel = runCancel
	b.serverTransport = server
	b.clientTransport = client
	b.serverActive = true
	b.state = stateRunning
	b.installSubscriptionSet(server, client)
	return b
}

// fakeSub is a minimal transport.Subscription backed by a plain channel,
// used by fakeTransport below.
type fakeSub struct {
	ch chan transport.InboundEvent
}

func (s *fakeSub) Ch() <-chan transport.InboundEvent { return s.ch }
func (s *fakeSub) Cancel()                           {}

// fakeTransport is an in-memory transport.Transport double that records
// every sent message and lets tests inject inbound events and closures
// deterministically, the way an in-memory fake drives
// its pub/sub tests without real network or process I/O.
type fakeTransport struct {
	mu     sync.Mutex
	sent   []string
	inbox  chan transport.InboundEvent
	closed *closeSignal

	failSend error
}

type closeSignal struct {
	once sync.Once
	ch   chan struct{}
}

func newCloseSignal() *closeSignal { return &closeSignal{ch: make(chan struct{})} }
func (c *closeSignal) resolve()    { c.once.Do(func() { close(c.ch) }) }

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbox:  make(chan transport.InboundEvent, 64),
		closed: newCloseSignal(),
	}
}

func (f *fakeTransport) Inbound() transport.Subscription {
	select {
	case <-f.closed.ch:
		return nil
	default:
	}
	return &fakeSub{ch: f.inbox}
}

func (f *fakeTransport) Send(message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend != nil {
		return f.failSend
	}
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed.resolve()
	return nil
}

func (f *fakeTransport) ClosedFuture() <-chan struct{} { return f.closed.ch }

func (f *fakeTransport) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) pushInbound(message string) {
	f.inbox <- transport.InboundEvent{Message: message}
}

func (f *fakeTransport) pushInboundError(err error) {
	f.inbox <- transport.InboundEvent{Err: err}
}

var _ transport.Transport = (*fakeTransport)(nil)
