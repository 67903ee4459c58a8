package bridgecfg

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/basket/mcp-bridge/internal/bridgeerr"
	"gopkg.in/yaml.v3"
)

// HomeDir resolves the bridge's config directory: MCP_BRIDGE_HOME if
// set, otherwise ~/.mcp-bridge, following the same HOME env-var
// convention.
func HomeDir() string {
	if override := os.Getenv("MCP_BRIDGE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".mcp-bridge")
}

// ConfigPath returns the default bridge config file path under homeDir.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "bridge.yaml")
}

// LoadFile reads and parses a YAML bridge config file. A missing file is
// not an error: it yields a zero-value BridgeConfig so the caller can
// apply its own defaults or fail with a clearer "no config supplied"
// message, matching config.Load's tolerant-missing-file stance.
func LoadFile(path string) (BridgeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return BridgeConfig{}, nil
		}
		return BridgeConfig{}, bridgeerr.New(bridgeerr.KindInvalidConfig, "bridgecfg.LoadFile", fmt.Errorf("read %s: %w", path, err))
	}
	if len(data) == 0 {
		return BridgeConfig{}, nil
	}

	var w wireConfig
	if err := yaml.Unmarshal(data, &w); err != nil {
		return BridgeConfig{}, bridgeerr.New(bridgeerr.KindInvalidConfig, "bridgecfg.LoadFile", fmt.Errorf("parse %s: %w", path, err))
	}
	return w.toBridgeConfig()
}
