package bridgecfg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile_MissingFileReturnsZeroValue(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.ServerTransportKind != "" {
		t.Fatalf("expected zero-value config, got %+v", cfg)
	}
}

func TestLoadFile_ParsesYAMLSupersetOfJSONShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	yamlBody := `
serverTransportType: stdio
clientTransportType: sse
serverShutdownBehavior: waitForReconnection
clientConfig:
  serverUrl: http://localhost:9000/sse
  headers:
    Authorization: Bearer test-token
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.ServerTransportKind != "stdio" || cfg.ClientTransportKind != "sse" {
		t.Fatalf("unexpected transport kinds: %+v", cfg)
	}
	if cfg.ServerShutdownPolicy != WaitForReconnection {
		t.Fatalf("expected WaitForReconnection, got %s", cfg.ServerShutdownPolicy)
	}
	if cfg.ClientConfig["serverUrl"] != "http://localhost:9000/sse" {
		t.Fatalf("expected serverUrl in client config, got %+v", cfg.ClientConfig)
	}
}

func TestLoadFile_InvalidYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte("not: [valid: yaml"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected parse error for invalid yaml")
	}
}
