package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/basket/mcp-bridge/internal/bridgecfg"
	"github.com/basket/mcp-bridge/internal/bridgeerr"
	"github.com/basket/mcp-bridge/internal/transport"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestBridge_ForwardsBothDirections(t *testing.T) {
	server := newFakeTransport()
	client := newFakeTransport()
	b := newRunningBridgeForTest(bridgecfg.BridgeConfig{}, newTestLogger(), server, client)
	defer b.Shutdown(context.Background())

	server.pushInbound(`{"jsonrpc":"2.0","method":"ping"}`)
	waitFor(t, time.Second, func() bool { return len(client.sentMessages()) == 1 })
	if got := client.sentMessages()[0]; got != `{"jsonrpc":"2.0","method":"ping"}` {
		t.Fatalf("unexpected forwarded message: %s", got)
	}

	client.pushInbound(`{"jsonrpc":"2.0","result":{}}`)
	waitFor(t, time.Second, func() bool { return len(server.sentMessages()) == 1 })
	if got := server.sentMessages()[0]; got != `{"jsonrpc":"2.0","result":{}}` {
		t.Fatalf("unexpected forwarded message: %s", got)
	}
}

func TestBridge_InboundStreamErrorInvokesCallback(t *testing.T) {
	server := newFakeTransport()
	client := newFakeTransport()
	b := newRunningBridgeForTest(bridgecfg.BridgeConfig{}, newTestLogger(), server, client)
	defer b.Shutdown(context.Background())

	var got transport.Source
	done := make(chan struct{})
	b.OnTransportError(func(source transport.Source, err error, stack string) {
		got = source
		close(done)
	})

	server.pushInboundError(errors.New("boom"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error callback")
	}
	if got != transport.Server {
		t.Fatalf("expected SERVER source, got %s", got)
	}
}

func TestBridge_SendFailureReportsOtherSide(t *testing.T) {
	server := newFakeTransport()
	client := newFakeTransport()
	client.failSend = errors.New("send exploded")
	b := newRunningBridgeForTest(bridgecfg.BridgeConfig{}, newTestLogger(), server, client)
	defer b.Shutdown(context.Background())

	var got transport.Source
	done := make(chan struct{})
	b.OnTransportError(func(source transport.Source, err error, stack string) {
		got = source
		close(done)
	})

	server.pushInbound(`{"jsonrpc":"2.0","method":"ping"}`)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error callback")
	}
	if got != transport.Client {
		t.Fatalf("a failed send to the client transport should report CLIENT, got %s", got)
	}
}

func TestBridge_EffectiveShutdownPolicy_StdioForcesShutdownBridge(t *testing.T) {
	b := NewBridge(bridgecfg.BridgeConfig{
		ServerTransportKind:  "stdio",
		ServerShutdownPolicy: bridgecfg.WaitForReconnection,
	}, newTestLogger(), nil, nil)

	if got := b.EffectiveServerShutdownPolicy(); got != bridgecfg.ShutdownBridge {
		t.Fatalf("expected stdio server to force SHUTDOWN_BRIDGE, got %s", got)
	}
}

func TestBridge_ServerClosureUnderShutdownBridgePolicyEndsTheBridge(t *testing.T) {
	server := newFakeTransport()
	client := newFakeTransport()
	cfg := bridgecfg.BridgeConfig{ServerTransportKind: "sse", ClientTransportKind: "sse"}
	b := newRunningBridgeForTest(cfg, newTestLogger(), server, client)

	server.Close()

	waitFor(t, time.Second, func() bool { return !b.Initialized() })
}

func TestBridge_DoubleInitializeIsNoop(t *testing.T) {
	b := NewBridge(bridgecfg.BridgeConfig{
		ServerTransportKind: "stdio",
		ClientTransportKind: "stdio",
		ClientConfig:        map[string]any{"command": "/definitely/not/a/real/binary"},
	}, newTestLogger(), nil, nil)

	err := b.Initialize(context.Background())
	if err == nil {
		t.Fatal("expected an error constructing a nonexistent binary client transport")
	}
	if !bridgeerr.Is(err, bridgeerr.KindTransportCreateFailed) {
		t.Fatalf("expected TRANSPORT_CREATE_FAILED, got %v", err)
	}
	if b.Initialized() {
		t.Fatal("expected rollback to IDLE after construction failure")
	}

	// Calling Initialize again on the still-idle bridge should attempt
	// construction again (not silently no-op forever).
	err2 := b.Initialize(context.Background())
	if err2 == nil {
		t.Fatal("expected the second attempt to fail the same way")
	}
}

func TestBridge_ShutdownIsIdempotent(t *testing.T) {
	server := newFakeTransport()
	client := newFakeTransport()
	b := newRunningBridgeForTest(bridgecfg.BridgeConfig{}, newTestLogger(), server, client)

	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if b.Initialized() {
		t.Fatal("expected bridge to be idle after shutdown")
	}
}

func TestNewStdioServerToSSEClient_ConfiguresKinds(t *testing.T) {
	b := NewStdioServerToSSEClient("http://localhost:9000/sse", map[string]string{"Authorization": "Bearer abc"}, bridgecfg.ShutdownBridge, newTestLogger(), nil, nil)
	if b.ServerTransportKind() != "stdio" {
		t.Fatalf("expected stdio server kind, got %s", b.ServerTransportKind())
	}
	if b.ClientTransportKind() != "sse" {
		t.Fatalf("expected sse client kind, got %s", b.ClientTransportKind())
	}
	if b.cfg.ClientConfig["serverUrl"] != "http://localhost:9000/sse" {
		t.Fatalf("expected serverUrl to be wired through, got %v", b.cfg.ClientConfig["serverUrl"])
	}
}

func TestNewSSEServerToStdioClient_ConfiguresKinds(t *testing.T) {
	b := NewSSEServerToStdioClient(
		"my-mcp-server",
		[]string{"--flag"},
		"/tmp",
		map[string]string{"FOO": "bar"},
		SSEServerOptions{Port: 18999, FallbackPorts: []int{18998}},
		bridgecfg.ShutdownBridge,
		newTestLogger(), nil, nil,
	)
	if b.ServerTransportKind() != "sse" {
		t.Fatalf("expected sse server kind, got %s", b.ServerTransportKind())
	}
	if b.ClientTransportKind() != "stdio" {
		t.Fatalf("expected stdio client kind, got %s", b.ClientTransportKind())
	}
	if b.cfg.ServerConfig["port"] != 18999 {
		t.Fatalf("expected port to be wired through, got %v", b.cfg.ServerConfig["port"])
	}
	if b.cfg.ClientConfig["command"] != "my-mcp-server" {
		t.Fatalf("expected command to be wired through, got %v", b.cfg.ClientConfig["command"])
	}
}
