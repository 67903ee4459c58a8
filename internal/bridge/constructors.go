package bridge

import (
	"log/slog"

	"github.com/basket/mcp-bridge/internal/bridgecfg"
	bridgeotel "github.com/basket/mcp-bridge/internal/otel"
	"go.opentelemetry.io/otel/trace"
)

// NewStdioServerToSSEClient builds a bridge whose server-side transport
// is this process's own stdio and whose client-side transport is an SSE
// connection to serverURL — the shape used when this process is itself
// exposed as an MCP server over stdio and forwards to a remote MCP
// server over SSE.
func NewStdioServerToSSEClient(serverURL string, headers map[string]string, policy bridgecfg.ShutdownPolicy, logger *slog.Logger, tracer trace.Tracer, metrics *bridgeotel.Metrics) *Bridge {
	clientCfg := map[string]any{"serverUrl": serverURL}
	if len(headers) > 0 {
		clientCfg["headers"] = headers
	}
	cfg := bridgecfg.BridgeConfig{
		ServerTransportKind:  "stdio",
		ClientTransportKind:  "sse",
		ServerShutdownPolicy: policy,
		ServerConfig:         map[string]any{},
		ClientConfig:         clientCfg,
	}
	return NewBridge(cfg, logger, tracer, metrics)
}

// SSEServerOptions configures the server-side SSE listener for
// NewSSEServerToStdioClient; zero values fall back to the transport's
// own defaults.
type SSEServerOptions struct {
	Port             int
	Endpoint         string
	MessagesEndpoint string
	FallbackPorts    []int
	AuthToken        string
}

// NewSSEServerToStdioClient builds a bridge whose server-side transport
// is an SSE listener and whose client-side transport spawns command as
// a stdio subprocess — the shape used to expose a local stdio-only MCP
// server to remote SSE-speaking clients.
func NewSSEServerToStdioClient(
	command string,
	arguments []string,
	workingDirectory string,
	environment map[string]string,
	serverOpts SSEServerOptions,
	policy bridgecfg.ShutdownPolicy,
	logger *slog.Logger,
	tracer trace.Tracer,
	metrics *bridgeotel.Metrics,
) *Bridge {
	serverCfg := map[string]any{}
	if serverOpts.Port != 0 {
		serverCfg["port"] = serverOpts.Port
	}
	if serverOpts.Endpoint != "" {
		serverCfg["endpoint"] = serverOpts.Endpoint
	}
	if serverOpts.MessagesEndpoint != "" {
		serverCfg["messagesEndpoint"] = serverOpts.MessagesEndpoint
	}
	if len(serverOpts.FallbackPorts) > 0 {
		serverCfg["fallbackPorts"] = serverOpts.FallbackPorts
	}
	if serverOpts.AuthToken != "" {
		serverCfg["authToken"] = serverOpts.AuthToken
	}

	clientCfg := map[string]any{"command": command}
	if len(arguments) > 0 {
		clientCfg["arguments"] = arguments
	}
	if workingDirectory != "" {
		clientCfg["workingDirectory"] = workingDirectory
	}
	if len(environment) > 0 {
		clientCfg["environment"] = environment
	}

	cfg := bridgecfg.BridgeConfig{
		ServerTransportKind:  "sse",
		ClientTransportKind:  "stdio",
		ServerShutdownPolicy: policy,
		ServerConfig:         serverCfg,
		ClientConfig:         clientCfg,
	}
	return NewBridge(cfg, logger, tracer, metrics)
}
