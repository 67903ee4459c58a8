package bridge

import (
	"context"
	"time"

	"github.com/basket/mcp-bridge/internal/bridgecfg"
	"github.com/basket/mcp-bridge/internal/bridgeerr"
	bridgeotel "github.com/basket/mcp-bridge/internal/otel"
	"github.com/basket/mcp-bridge/internal/transport"
	"go.opentelemetry.io/otel/metric"
)

// handleTransportClosed is run on its own untracked goroutine (spawned
// by watchClosed) once a transport's ClosedFuture resolves. It decides,
// per side, whether to enter a reconnection loop or let the closure
// propagate.
func (b *Bridge) handleTransportClosed(source transport.Source) {
	switch source {
	case transport.Server:
		b.handleServerClosed()
	case transport.Client:
		b.handleClientClosed()
	}
}

// handleServerClosed implements the server-closure branch:
// under SHUTDOWN_BRIDGE the bridge shuts down entirely; under
// WAIT_FOR_RECONNECTION it drops the client transport and enters the
// wait loop.
func (b *Bridge) handleServerClosed() {
	b.emitClosed(transport.Server)

	b.mu.Lock()
	if b.state != stateRunning {
		b.mu.Unlock()
		return
	}
	policy := b.cfg.EffectiveShutdownPolicy()
	b.mu.Unlock()

	if policy == bridgecfg.WaitForReconnection {
		b.runServerWaitLoop()
		return
	}
	_ = b.Shutdown(context.Background())
}

// handleClientClosed implements the client-closure branch. If
// the closure was caused by the server-closure handler intentionally
// dropping the client transport (waitingForServerReconnection), or the
// bridge is shutting down or has no active server, this is a no-op:
// the server-side handler already owns re-pairing.
func (b *Bridge) handleClientClosed() {
	b.emitClosed(transport.Client)

	b.mu.Lock()
	waiting := b.waitingForServerReconnection
	idleOrDown := b.state == stateIdle || b.state == stateShuttingDown
	serverActive := b.serverActive
	autoReconnect := b.autoReconnectEnabled
	b.mu.Unlock()

	if waiting || idleOrDown || !serverActive || !autoReconnect {
		return
	}
	b.runClientReconnectLoop()
}

// runServerWaitLoop is the server wait-for-reconnection loop. It drops
// the (now orphaned) client transport, then repeatedly: polls the
// reconnect hook, attempts to construct a fresh (server, client) pair
// atomically, and on success reinstalls the subscription set and
// returns to RUNNING. Written as a plain for-loop rather than
// recursion so an unbounded reconnection run never grows the stack.
func (b *Bridge) runServerWaitLoop() {
	b.mu.Lock()
	if b.state == stateWaitingForServer {
		b.mu.Unlock()
		return
	}
	b.state = stateWaitingForServer
	b.waitingForServerReconnection = true
	b.serverActive = false
	b.serverReconnectAttempts = 0
	client := b.clientTransport
	b.clientTransport = nil
	b.serverTransport = nil
	b.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}

	runCtx := b.getRunCtx()

	for {
		select {
		case <-runCtx.Done():
			return
		default:
		}

		b.mu.Lock()
		b.serverReconnectAttempts++
		attempt := b.serverReconnectAttempts
		maxAttempts := b.serverMaxReconnectAttempts
		interval := b.serverReconnectCheckInterval
		b.mu.Unlock()

		if maxAttempts > 0 && attempt > maxAttempts {
			b.emitError(transport.Server, bridgeerr.New(bridgeerr.KindReconnectExhausted, "bridge.server_reconnect", nil))
			_ = b.Shutdown(context.Background())
			return
		}

		if hook := b.serverReconnectHook(); hook != nil {
			if !b.invokeReconnectHook(hook) {
				_ = b.Shutdown(context.Background())
				return
			}
		}

		select {
		case <-runCtx.Done():
			return
		default:
		}

		_, span := b.startReconnectSpan(runCtx, transport.Server, b.cfg.ServerTransportKind, attempt)
		b.recordReconnectAttempt(transport.Server)

		newServer, err := transport.NewServerTransport(b.cfg.ServerTransportKind, b.cfg.ServerConfig, b.logger)
		if err != nil {
			span.RecordError(err)
			span.End()
			b.emitError(transport.Server, err)
			if !b.sleepInterruptible(runCtx, interval) {
				return
			}
			continue
		}

		newClient, err := transport.NewClientTransport(b.cfg.ClientTransportKind, b.cfg.ClientConfig, b.logger)
		if err != nil {
			_ = newServer.Close() // atomic pairing: never leave a server paired with no client
			span.RecordError(err)
			span.End()
			b.emitError(transport.Client, err)
			if !b.sleepInterruptible(runCtx, interval) {
				return
			}
			continue
		}
		span.End()

		b.installSubscriptionSet(newServer, newClient)

		b.mu.Lock()
		if b.state != stateWaitingForServer {
			// A concurrent Shutdown (or some other state transition)
			// already claimed the bridge while we were constructing the
			// new pair; the subscription set we just installed has
			// already been cancelled by whoever made that transition.
			// Don't resurrect RUNNING state over it.
			b.mu.Unlock()
			_ = newServer.Close()
			_ = newClient.Close()
			return
		}
		b.serverTransport = newServer
		b.clientTransport = newClient
		b.serverActive = true
		b.waitingForServerReconnection = false
		b.state = stateRunning
		b.clientReconnectAttempts = 0
		b.mu.Unlock()

		b.emitReconnected(transport.Server)
		return
	}
}

// runClientReconnectLoop is the client auto-reconnection loop, written
// as a plain for-loop, with bounded exponential backoff between
// attempts rather than a flat delay.
func (b *Bridge) runClientReconnectLoop() {
	runCtx := b.getRunCtx()

	for {
		b.mu.Lock()
		b.clientReconnectAttempts++
		attempt := b.clientReconnectAttempts
		maxAttempts := b.clientMaxReconnectAttempts
		baseDelay := b.clientReconnectDelay
		maxDelay := b.clientReconnectMaxDelay
		b.mu.Unlock()

		if attempt > maxAttempts {
			b.logger.Error("client reconnect attempts exhausted, abandoning",
				"bridge_id", b.id, "attempts", attempt-1, "max_attempts", maxAttempts)
			b.emitError(transport.Client, bridgeerr.New(bridgeerr.KindReconnectExhausted, "bridge.client_reconnect", nil))
			return
		}

		_, span := b.startReconnectSpan(runCtx, transport.Client, b.cfg.ClientTransportKind, attempt)
		b.recordReconnectAttempt(transport.Client)

		delay := backoffDelay(baseDelay, maxDelay, attempt)
		if !b.sleepInterruptible(runCtx, delay) {
			span.End()
			return
		}

		b.mu.Lock()
		serverActive := b.serverActive
		server := b.serverTransport
		b.mu.Unlock()
		if !serverActive || server == nil {
			span.End()
			return
		}

		newClient, err := transport.NewClientTransport(b.cfg.ClientTransportKind, b.cfg.ClientConfig, b.logger)
		if err != nil {
			span.RecordError(err)
			span.End()
			b.emitError(transport.Client, err)
			continue
		}
		span.End()

		b.installSubscriptionSet(server, newClient)

		b.mu.Lock()
		if b.state != stateRunning || b.serverTransport != server {
			// A concurrent Shutdown, or a server-side reconnect that has
			// since re-paired with a different server transport, already
			// moved the bridge on; the subscription set we just installed
			// has already been torn down by that transition.
			b.mu.Unlock()
			_ = newClient.Close()
			return
		}
		b.clientTransport = newClient
		b.clientReconnectAttempts = 0
		b.mu.Unlock()

		b.emitReconnected(transport.Client)
		return
	}
}

// backoffDelay doubles base on every attempt past the first, capped at cap.
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = defaultClientReconnectDelay
	}
	if cap <= 0 {
		cap = defaultClientReconnectMaxDelay
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	return delay
}

func (b *Bridge) sleepInterruptible(runCtx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-runCtx.Done():
		return false
	}
}

func (b *Bridge) recordReconnectAttempt(source transport.Source) {
	if b.metrics == nil {
		return
	}
	b.metrics.ReconnectAttempts.Add(context.Background(), 1,
		metric.WithAttributes(bridgeotel.AttrTransportSource.String(string(source))))
}
