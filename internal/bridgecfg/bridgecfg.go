// Package bridgecfg defines BridgeConfig and its JSON wire shape, plus
// a YAML file loader and hot-reload watcher for the CLI entry point.
package bridgecfg

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/basket/mcp-bridge/internal/bridgeerr"
)

// ShutdownPolicy decides what happens when the server-side transport
// closes: end the bridge, or wait for a replacement server transport.
type ShutdownPolicy string

const (
	ShutdownBridge      ShutdownPolicy = "SHUTDOWN_BRIDGE"
	WaitForReconnection ShutdownPolicy = "WAIT_FOR_RECONNECTION"
)

// wireName returns the camelCase enum spelling used on the wire.
func (p ShutdownPolicy) wireName() string {
	switch p {
	case WaitForReconnection:
		return "waitForReconnection"
	default:
		return "shutdownBridge"
	}
}

// parsePolicy matches a wire string case-insensitively, defaulting to
// ShutdownBridge on empty input.
func parsePolicy(raw string) (ShutdownPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "shutdownbridge":
		return ShutdownBridge, nil
	case "waitforreconnection":
		return WaitForReconnection, nil
	default:
		return "", bridgeerr.New(bridgeerr.KindInvalidConfig, "bridgecfg.parsePolicy", fmt.Errorf("unrecognized serverShutdownBehavior %q", raw))
	}
}

// BridgeConfig is the immutable value a Bridge is constructed from.
// ServerConfig/ClientConfig are opaque, kind-specific
// mappings handed to the transport factory unchanged.
type BridgeConfig struct {
	ServerTransportKind  string
	ClientTransportKind  string
	ServerShutdownPolicy ShutdownPolicy
	ServerConfig         map[string]any
	ClientConfig         map[string]any
}

// wireConfig mirrors the JSON wire shape. YAML tags mirror the JSON
// ones so a YAML config file is a superset of the canonical JSON wire
// shape, with one tag set driving both serialized forms.
type wireConfig struct {
	ServerTransportType    string         `json:"serverTransportType" yaml:"serverTransportType"`
	ClientTransportType    string         `json:"clientTransportType" yaml:"clientTransportType"`
	ServerShutdownBehavior string         `json:"serverShutdownBehavior" yaml:"serverShutdownBehavior"`
	ServerConfig           map[string]any `json:"serverConfig" yaml:"serverConfig"`
	ClientConfig           map[string]any `json:"clientConfig" yaml:"clientConfig"`
}

func (c BridgeConfig) toWire() wireConfig {
	return wireConfig{
		ServerTransportType:    c.ServerTransportKind,
		ClientTransportType:    c.ClientTransportKind,
		ServerShutdownBehavior: c.ServerShutdownPolicy.wireName(),
		ServerConfig:           c.ServerConfig,
		ClientConfig:           c.ClientConfig,
	}
}

func (w wireConfig) toBridgeConfig() (BridgeConfig, error) {
	policy, err := parsePolicy(w.ServerShutdownBehavior)
	if err != nil {
		return BridgeConfig{}, err
	}
	serverCfg := w.ServerConfig
	if serverCfg == nil {
		serverCfg = map[string]any{}
	}
	clientCfg := w.ClientConfig
	if clientCfg == nil {
		clientCfg = map[string]any{}
	}
	return BridgeConfig{
		ServerTransportKind:  w.ServerTransportType,
		ClientTransportKind:  w.ClientTransportType,
		ServerShutdownPolicy: policy,
		ServerConfig:         serverCfg,
		ClientConfig:         clientCfg,
	}, nil
}

// MarshalJSON round-trips all recognized fields through JSON.
func (c BridgeConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.toWire())
}

// UnmarshalJSON parses the wire shape. Unknown top-level fields are
// ignored (encoding/json's default behavior already satisfies this).
func (c *BridgeConfig) UnmarshalJSON(data []byte) error {
	var w wireConfig
	if err := json.Unmarshal(data, &w); err != nil {
		return bridgeerr.New(bridgeerr.KindInvalidConfig, "bridgecfg.UnmarshalJSON", err)
	}
	parsed, err := w.toBridgeConfig()
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// EffectiveShutdownPolicy applies the stdio-forces-SHUTDOWN_BRIDGE
// invariant: a bridge whose server transport is
// stdio always reports SHUTDOWN_BRIDGE regardless of the requested
// policy, because there is no meaningful "wait for a replacement stdio
// server" — stdio is this process's own standard streams.
func (c BridgeConfig) EffectiveShutdownPolicy() ShutdownPolicy {
	if strings.EqualFold(strings.TrimSpace(c.ServerTransportKind), "stdio") {
		return ShutdownBridge
	}
	if c.ServerShutdownPolicy == "" {
		return ShutdownBridge
	}
	return c.ServerShutdownPolicy
}
