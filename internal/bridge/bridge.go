// Package bridge implements the transport bridge engine: it pairs a
// server-side transport (talking to an upstream MCP server) with a
// client-side transport (talking to a downstream MCP client), forwards
// JSON-RPC frames between them unmodified, and drives the two
// independent reconnection policies when either
// side closes.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/mcp-bridge/internal/bridgecfg"
	bridgeotel "github.com/basket/mcp-bridge/internal/otel"
	"github.com/basket/mcp-bridge/internal/transport"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	defaultClientMaxReconnectAttempts   = 3
	defaultClientReconnectDelay         = 2 * time.Second
	defaultClientReconnectMaxDelay      = 30 * time.Second
	defaultServerReconnectCheckInterval = 5 * time.Second
	defaultServerMaxReconnectAttempts   = 0 // 0 means unbounded
)

// ErrorCallback is invoked when a transport error is observed on either
// side. stack is a captured goroutine stack trace at the point of
// observation, useful for diagnosing where in the pump an error surfaced.
type ErrorCallback func(source transport.Source, err error, stack string)

// ClosedCallback is invoked once per transport closure, before any
// reconnection attempt begins.
type ClosedCallback func(source transport.Source)

// ReconnectedCallback is invoked once a reconnection attempt succeeds
// and a fresh transport has taken over.
type ReconnectedCallback func(source transport.Source)

// ServerReconnectHook is polled on every iteration of the server
// wait-for-reconnection loop; returning false abandons the wait and
// shuts the bridge down. A nil hook means "always keep waiting".
type ServerReconnectHook func() bool

// Bridge pairs one server-side transport with one client-side
// transport and forwards frames between them.
type Bridge struct {
	id     string
	logger *slog.Logger
	cfg    bridgecfg.BridgeConfig

	tracer  trace.Tracer
	metrics *bridgeotel.Metrics

	mu              sync.Mutex
	state           state
	serverTransport transport.Transport
	clientTransport transport.Transport

	serverActive                 bool
	waitingForServerReconnection bool

	runCtx    context.Context
	runCancel context.CancelFunc

	pumpCancel context.CancelFunc
	pumpWG     sync.WaitGroup

	autoReconnectEnabled       bool
	clientMaxReconnectAttempts int
	clientReconnectDelay       time.Duration
	clientReconnectMaxDelay    time.Duration
	clientReconnectAttempts    int

	serverMaxReconnectAttempts   int
	serverReconnectCheckInterval time.Duration
	serverReconnectAttempts      int

	cbMu                       sync.Mutex
	onTransportError           ErrorCallback
	onTransportClosed          ClosedCallback
	onTransportReconnected     ReconnectedCallback
	onServerReconnectRequested ServerReconnectHook
}

// NewBridge constructs a Bridge from cfg. The bridge is not started:
// call Initialize to create the underlying transports and begin
// forwarding. tracer/metrics may be nil, in which case a noop tracer is
// used and metrics are skipped.
func NewBridge(cfg bridgecfg.BridgeConfig, logger *slog.Logger, tracer trace.Tracer, metrics *bridgeotel.Metrics) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("bridge")
	}
	return &Bridge{
		id:                           uuid.NewString(),
		logger:                       logger,
		cfg:                          cfg,
		tracer:                       tracer,
		metrics:                      metrics,
		state:                        stateIdle,
		autoReconnectEnabled:         true,
		clientMaxReconnectAttempts:   defaultClientMaxReconnectAttempts,
		clientReconnectDelay:         defaultClientReconnectDelay,
		clientReconnectMaxDelay:      defaultClientReconnectMaxDelay,
		serverMaxReconnectAttempts:   defaultServerMaxReconnectAttempts,
		serverReconnectCheckInterval: defaultServerReconnectCheckInterval,
	}
}

// ID returns the bridge instance's correlation identifier, suitable for
// log fields and span attributes.
func (b *Bridge) ID() string { return b.id }

// Initialized reports whether the bridge currently has a live transport
// pair (RUNNING or WAITING_FOR_SERVER; IDLE/INITIALIZING/SHUTTING_DOWN
// report false).
func (b *Bridge) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateRunning || b.state == stateWaitingForServer
}

// ServerActive reports whether a live server transport is currently
// paired and forwarding.
func (b *Bridge) ServerActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.serverActive
}

// WaitingForServerReconnection reports whether the bridge is currently
// in the server wait-for-reconnection loop.
func (b *Bridge) WaitingForServerReconnection() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waitingForServerReconnection
}

// ServerTransportKind returns the configured server-side transport kind.
func (b *Bridge) ServerTransportKind() string { return b.cfg.ServerTransportKind }

// ClientTransportKind returns the configured client-side transport kind.
func (b *Bridge) ClientTransportKind() string { return b.cfg.ClientTransportKind }

// EffectiveServerShutdownPolicy returns the policy actually in force,
// applying the stdio-forces-SHUTDOWN_BRIDGE invariant.
func (b *Bridge) EffectiveServerShutdownPolicy() bridgecfg.ShutdownPolicy {
	return b.cfg.EffectiveShutdownPolicy()
}

// SetAutoReconnect configures the client-side auto-reconnection policy.
// Must be called before Initialize, or while the bridge is idle; calls
// while running take effect on the next client closure.
func (b *Bridge) SetAutoReconnect(enabled bool, maxAttempts int, delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autoReconnectEnabled = enabled
	if maxAttempts > 0 {
		b.clientMaxReconnectAttempts = maxAttempts
	}
	if delay > 0 {
		b.clientReconnectDelay = delay
	}
}

// SetServerReconnectionOptions configures the server-side
// wait-for-reconnection loop's bound on attempts (0 means unbounded)
// and the interval between attempts.
func (b *Bridge) SetServerReconnectionOptions(maxAttempts int, checkInterval time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.serverMaxReconnectAttempts = maxAttempts
	if checkInterval > 0 {
		b.serverReconnectCheckInterval = checkInterval
	}
}

// OnTransportError registers the callback invoked when either side
// observes a stream or send error.
func (b *Bridge) OnTransportError(cb ErrorCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransportError = cb
}

// OnTransportClosed registers the callback invoked when either side's
// transport closes, before any reconnection attempt begins.
func (b *Bridge) OnTransportClosed(cb ClosedCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransportClosed = cb
}

// OnTransportReconnected registers the callback invoked when a
// reconnection attempt succeeds.
func (b *Bridge) OnTransportReconnected(cb ReconnectedCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransportReconnected = cb
}

// OnServerReconnectRequested registers the hook polled on every
// iteration of the server wait-for-reconnection loop.
func (b *Bridge) OnServerReconnectRequested(hook ServerReconnectHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onServerReconnectRequested = hook
}

// Initialize creates the client transport, then the server transport,
// and begins forwarding between them (IDLE -> INITIALIZING
// -> RUNNING). Calling Initialize on an already-initialized bridge is a
// no-op. On construction failure the bridge rolls back to IDLE and the
// error is both returned and delivered to the error callback.
func (b *Bridge) Initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.state != stateIdle {
		b.mu.Unlock()
		return nil
	}
	b.state = stateInitializing
	runCtx, runCancel := context.WithCancel(context.Background())
	b.runCtx = runCtx
	b.runCancel = runCancel
	b.mu.Unlock()

	clientT, err := transport.NewClientTransport(b.cfg.ClientTransportKind, b.cfg.ClientConfig, b.logger)
	if err != nil {
		b.mu.Lock()
		b.state = stateIdle
		b.mu.Unlock()
		b.emitError(transport.Client, err)
		return err
	}

	serverT, err := transport.NewServerTransport(b.cfg.ServerTransportKind, b.cfg.ServerConfig, b.logger)
	if err != nil {
		_ = clientT.Close()
		b.mu.Lock()
		b.state = stateIdle
		b.mu.Unlock()
		b.emitError(transport.Server, err)
		return err
	}

	b.mu.Lock()
	b.serverTransport = serverT
	b.clientTransport = clientT
	b.serverActive = true
	b.state = stateRunning
	b.mu.Unlock()

	b.installSubscriptionSet(serverT, clientT)

	b.logger.Info("bridge initialized",
		"bridge_id", b.id,
		"server_kind", b.cfg.ServerTransportKind,
		"client_kind", b.cfg.ClientTransportKind,
	)
	return nil
}

// Shutdown tears the bridge down: it cancels any in-flight reconnection
// loop, cancels and waits for the pump/watcher goroutines, closes both
// transports, and returns the bridge to IDLE. It
// is idempotent and safe to call from within a callback.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.state == stateIdle {
		b.mu.Unlock()
		return nil
	}
	b.state = stateShuttingDown
	runCancel := b.runCancel
	server := b.serverTransport
	client := b.clientTransport
	pumpCancel := b.pumpCancel
	b.serverTransport = nil
	b.clientTransport = nil
	b.pumpCancel = nil
	b.serverActive = false
	b.waitingForServerReconnection = false
	b.mu.Unlock()

	if runCancel != nil {
		runCancel()
	}
	if pumpCancel != nil {
		pumpCancel()
	}
	b.pumpWG.Wait()

	if server != nil {
		_ = server.Close()
	}
	if client != nil {
		_ = client.Close()
	}

	b.mu.Lock()
	b.clientReconnectAttempts = 0
	b.serverReconnectAttempts = 0
	b.runCtx = nil
	b.runCancel = nil
	b.state = stateIdle
	b.mu.Unlock()

	b.logger.Info("bridge shut down", "bridge_id", b.id)
	return nil
}

// installSubscriptionSet cancels the previous subscription set (the
// pair of pump forwarders plus the pair of close-watchers), waits for
// it to fully unwind, and installs a fresh set bound to the given
// transport pair. Must be called without b.mu held: the previous set's
// close-watcher goroutines may themselves need to acquire b.mu while
// this function waits for them to exit.
func (b *Bridge) installSubscriptionSet(server, client transport.Transport) {
	b.mu.Lock()
	oldCancel := b.pumpCancel
	b.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
		b.pumpWG.Wait()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.pumpCancel = cancel
	b.mu.Unlock()

	b.pumpWG.Add(4)
	go b.runPump(ctx, server, client, transport.Server)
	go b.runPump(ctx, client, server, transport.Client)
	go b.watchClosed(ctx, server, transport.Server)
	go b.watchClosed(ctx, client, transport.Client)
}

func (b *Bridge) recordForwarded(source transport.Source) {
	if b.metrics == nil {
		return
	}
	b.metrics.MessagesForwarded.Add(context.Background(), 1,
		metric.WithAttributes(bridgeotel.AttrTransportSource.String(string(source))))
}

// startForwardSpan starts a span around a single pump forward. A frame
// taken off the server-side transport is a server span; a frame taken
// off the client-side transport (and handed outbound to the server) is
// a client span.
func (b *Bridge) startForwardSpan(ctx context.Context, source transport.Source) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		bridgeotel.AttrBridgeID.String(b.id),
		bridgeotel.AttrTransportSource.String(string(source)),
	}
	if source == transport.Server {
		return bridgeotel.StartServerSpan(ctx, b.tracer, "bridge.forward", attrs...)
	}
	return bridgeotel.StartClientSpan(ctx, b.tracer, "bridge.forward", attrs...)
}

// startReconnectSpan starts a span around a single reconnection attempt.
func (b *Bridge) startReconnectSpan(ctx context.Context, source transport.Source, kind string, attempt int) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		bridgeotel.AttrBridgeID.String(b.id),
		bridgeotel.AttrTransportSource.String(string(source)),
		bridgeotel.AttrTransportKind.String(kind),
		bridgeotel.AttrReconnectAttempt.Int(attempt),
	}
	if source == transport.Server {
		attrs = append(attrs, bridgeotel.AttrShutdownPolicy.String(string(b.cfg.EffectiveShutdownPolicy())))
	}
	return bridgeotel.StartSpan(ctx, b.tracer, "bridge.reconnect_attempt", attrs...)
}

func (b *Bridge) getRunCtx() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runCtx == nil {
		return context.Background()
	}
	return b.runCtx
}

func (b *Bridge) serverReconnectHook() ServerReconnectHook {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.onServerReconnectRequested
}
