package bridgecfg

import (
	"encoding/json"
	"testing"
)

func TestBridgeConfig_JSONRoundTrip(t *testing.T) {
	cfg := BridgeConfig{
		ServerTransportKind:  "stdio",
		ClientTransportKind:  "sse",
		ServerShutdownPolicy: WaitForReconnection,
		ServerConfig:         map[string]any{},
		ClientConfig:         map[string]any{"serverUrl": "http://localhost:9000/sse"},
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got BridgeConfig
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ServerTransportKind != cfg.ServerTransportKind || got.ClientTransportKind != cfg.ClientTransportKind {
		t.Fatalf("transport kinds did not round-trip: %+v", got)
	}
	if got.ServerShutdownPolicy != WaitForReconnection {
		t.Fatalf("expected WaitForReconnection, got %s", got.ServerShutdownPolicy)
	}
	if got.ClientConfig["serverUrl"] != "http://localhost:9000/sse" {
		t.Fatalf("client config did not round-trip: %+v", got.ClientConfig)
	}
}

func TestBridgeConfig_UnmarshalJSON_CaseInsensitiveEnum(t *testing.T) {
	raw := `{"serverTransportType":"stdio","clientTransportType":"sse","serverShutdownBehavior":"WaitForReconnection"}`
	var cfg BridgeConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.ServerShutdownPolicy != WaitForReconnection {
		t.Fatalf("expected case-insensitive match, got %s", cfg.ServerShutdownPolicy)
	}
}

func TestBridgeConfig_UnmarshalJSON_MissingFieldsDefault(t *testing.T) {
	raw := `{"serverTransportType":"stdio","clientTransportType":"sse"}`
	var cfg BridgeConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.ServerShutdownPolicy != ShutdownBridge {
		t.Fatalf("expected default ShutdownBridge, got %s", cfg.ServerShutdownPolicy)
	}
	if cfg.ServerConfig == nil || cfg.ClientConfig == nil {
		t.Fatalf("expected empty-mapping defaults, got server=%v client=%v", cfg.ServerConfig, cfg.ClientConfig)
	}
}

func TestBridgeConfig_UnmarshalJSON_UnrecognizedEnum(t *testing.T) {
	raw := `{"serverTransportType":"stdio","clientTransportType":"sse","serverShutdownBehavior":"nonsense"}`
	var cfg BridgeConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err == nil {
		t.Fatalf("expected error for unrecognized serverShutdownBehavior")
	}
}

func TestBridgeConfig_EffectiveShutdownPolicy_StdioForcesShutdownBridge(t *testing.T) {
	cfg := BridgeConfig{
		ServerTransportKind:  "stdio",
		ServerShutdownPolicy: WaitForReconnection,
	}
	if got := cfg.EffectiveShutdownPolicy(); got != ShutdownBridge {
		t.Fatalf("expected stdio server to force ShutdownBridge, got %s", got)
	}
}

func TestBridgeConfig_EffectiveShutdownPolicy_NonStdioHonorsRequested(t *testing.T) {
	cfg := BridgeConfig{
		ServerTransportKind:  "sse",
		ServerShutdownPolicy: WaitForReconnection,
	}
	if got := cfg.EffectiveShutdownPolicy(); got != WaitForReconnection {
		t.Fatalf("expected sse server to honor WaitForReconnection, got %s", got)
	}
}
