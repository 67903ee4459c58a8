package bridge

import (
	"context"
	"runtime/debug"

	bridgeotel "github.com/basket/mcp-bridge/internal/otel"
	"github.com/basket/mcp-bridge/internal/transport"
	"go.opentelemetry.io/otel/metric"
)

// Callback delivery is serialized through cbMu (callbacks are
// invoked one at a time per bridge"), with the callback function
// pointers themselves read under the state mutex but never held while
// the callback runs — callbacks are explicitly permitted to call back
// into Initialize/Shutdown, which must be free to acquire b.mu.

func (b *Bridge) errorCallback() ErrorCallback {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.onTransportError
}

func (b *Bridge) closedCallback() ClosedCallback {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.onTransportClosed
}

func (b *Bridge) reconnectedCallback() ReconnectedCallback {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.onTransportReconnected
}

func (b *Bridge) emitError(source transport.Source, err error) {
	b.logger.Warn("bridge transport error", "bridge_id", b.id, "source", source, "error", err)
	if b.metrics != nil {
		b.metrics.TransportErrors.Add(context.Background(), 1,
			metric.WithAttributes(bridgeotel.AttrTransportSource.String(string(source))))
	}

	cb := b.errorCallback()
	if cb == nil {
		return
	}
	stack := string(debug.Stack())

	b.cbMu.Lock()
	defer b.cbMu.Unlock()
	b.invokeErrorCallback(cb, source, err, stack)
}

func (b *Bridge) invokeErrorCallback(cb ErrorCallback, source transport.Source, err error, stack string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("on_transport_error callback panicked", "bridge_id", b.id, "recover", r)
		}
	}()
	cb(source, err, stack)
}

func (b *Bridge) emitClosed(source transport.Source) {
	b.logger.Info("bridge transport closed", "bridge_id", b.id, "source", source)

	cb := b.closedCallback()
	if cb == nil {
		return
	}

	b.cbMu.Lock()
	defer b.cbMu.Unlock()
	b.invokeClosedCallback(cb, source)
}

func (b *Bridge) invokeClosedCallback(cb ClosedCallback, source transport.Source) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("on_transport_closed callback panicked", "bridge_id", b.id, "recover", r)
		}
	}()
	cb(source)
}

func (b *Bridge) emitReconnected(source transport.Source) {
	b.logger.Info("bridge transport reconnected", "bridge_id", b.id, "source", source)
	if b.metrics != nil {
		b.metrics.ReconnectSuccesses.Add(context.Background(), 1,
			metric.WithAttributes(bridgeotel.AttrTransportSource.String(string(source))))
	}

	cb := b.reconnectedCallback()
	if cb == nil {
		return
	}

	b.cbMu.Lock()
	defer b.cbMu.Unlock()
	b.invokeReconnectedCallback(cb, source)
}

func (b *Bridge) invokeReconnectedCallback(cb ReconnectedCallback, source transport.Source) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("on_transport_reconnected callback panicked", "bridge_id", b.id, "recover", r)
		}
	}()
	cb(source)
}

// invokeReconnectHook calls the server reconnect hook, treating a panic
// the same as an explicit false return, logged at error level.
func (b *Bridge) invokeReconnectHook(hook ServerReconnectHook) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("on_server_reconnect_requested hook panicked, treating as false", "bridge_id", b.id, "recover", r)
			result = false
		}
	}()

	b.cbMu.Lock()
	defer b.cbMu.Unlock()
	return hook()
}
