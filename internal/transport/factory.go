package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/basket/mcp-bridge/internal/bridgeerr"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ParseKind normalizes a transport-kind string to its canonical Kind,
// matching case-insensitively.
func ParseKind(raw string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(KindStdio):
		return KindStdio, true
	case string(KindSSE):
		return KindSSE, true
	default:
		return "", false
	}
}

// NewServerTransport is the factory's server-side entry point: a pure
// dispatch over kind, validating cfg against the kind's JSON Schema
// before constructing a transport.
func NewServerTransport(kindRaw string, cfg map[string]any, logger *slog.Logger) (Transport, error) {
	kind, ok := ParseKind(kindRaw)
	if !ok {
		return nil, bridgeerr.New(bridgeerr.KindUnsupportedTransport, "transport.factory.server", fmt.Errorf("unrecognized transport kind %q", kindRaw))
	}

	switch kind {
	case KindStdio:
		return NewStdioServerTransport(logger)
	case KindSSE:
		if err := validateConfig(sseServerSchema, cfg); err != nil {
			return nil, err
		}
		return NewSSEServerTransport(sseServerConfigFromMap(cfg), logger)
	default:
		return nil, bridgeerr.New(bridgeerr.KindUnsupportedTransport, "transport.factory.server", fmt.Errorf("no server-side implementation for kind %q", kind))
	}
}

// NewClientTransport is the factory's client-side entry point.
func NewClientTransport(kindRaw string, cfg map[string]any, logger *slog.Logger) (Transport, error) {
	kind, ok := ParseKind(kindRaw)
	if !ok {
		return nil, bridgeerr.New(bridgeerr.KindUnsupportedTransport, "transport.factory.client", fmt.Errorf("unrecognized transport kind %q", kindRaw))
	}

	switch kind {
	case KindStdio:
		if err := validateConfig(stdioClientSchema, cfg); err != nil {
			return nil, err
		}
		return NewStdioClientTransport(stdioClientConfigFromMap(cfg), logger)
	case KindSSE:
		if err := validateConfig(sseClientSchema, cfg); err != nil {
			return nil, err
		}
		return NewSSEClientTransport(sseClientConfigFromMap(cfg), logger)
	default:
		return nil, bridgeerr.New(bridgeerr.KindUnsupportedTransport, "transport.factory.client", fmt.Errorf("no client-side implementation for kind %q", kind))
	}
}

// --- JSON Schema validation -------------------------------------------------
//
// Each recognized (kind, side) pairing's config mapping is validated
// against a compiled schema before the factory touches it, turning
// ad hoc "is this key present" checks into precise, field-path-aware
// INVALID_CONFIG errors.

var (
	stdioClientSchema = mustCompileSchema("stdio-client.json", `{
		"type": "object",
		"required": ["command"],
		"properties": {
			"command": {"type": "string", "minLength": 1},
			"arguments": {"type": "array", "items": {"type": "string"}},
			"workingDirectory": {"type": "string"},
			"environment": {"type": "object", "additionalProperties": {"type": "string"}}
		}
	}`)

	sseServerSchema = mustCompileSchema("sse-server.json", `{
		"type": "object",
		"properties": {
			"port": {"type": "integer", "minimum": 1, "maximum": 65535},
			"endpoint": {"type": "string"},
			"messagesEndpoint": {"type": "string"},
			"fallbackPorts": {"type": "array", "items": {"type": "integer", "minimum": 1, "maximum": 65535}},
			"authToken": {"type": "string"}
		}
	}`)

	sseClientSchema = mustCompileSchema("sse-client.json", `{
		"type": "object",
		"required": ["serverUrl"],
		"properties": {
			"serverUrl": {"type": "string", "minLength": 1},
			"headers": {"type": "object", "additionalProperties": {"type": "string"}}
		}
	}`)
)

func mustCompileSchema(name, raw string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("transport: invalid embedded schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("transport: add schema resource %s: %v", name, err))
	}
	schema, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("transport: compile schema %s: %v", name, err))
	}
	return schema
}

func validateConfig(schema *jsonschema.Schema, cfg map[string]any) error {
	if cfg == nil {
		cfg = map[string]any{}
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return bridgeerr.New(bridgeerr.KindInvalidConfig, "transport.factory", fmt.Errorf("marshal config: %w", err))
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
	if err != nil {
		return bridgeerr.New(bridgeerr.KindInvalidConfig, "transport.factory", fmt.Errorf("unmarshal config: %w", err))
	}
	if err := schema.Validate(doc); err != nil {
		return bridgeerr.New(bridgeerr.KindInvalidConfig, "transport.factory", err)
	}
	return nil
}

// --- map[string]any -> typed config projection ------------------------------

func stdioClientConfigFromMap(cfg map[string]any) StdioClientConfig {
	out := StdioClientConfig{Command: stringField(cfg, "command")}
	out.WorkingDirectory = stringField(cfg, "workingDirectory")
	out.Arguments = stringSliceField(cfg, "arguments")
	out.Environment = stringMapField(cfg, "environment")
	return out
}

func sseServerConfigFromMap(cfg map[string]any) SSEServerConfig {
	return SSEServerConfig{
		Port:             intField(cfg, "port"),
		Endpoint:         stringField(cfg, "endpoint"),
		MessagesEndpoint: stringField(cfg, "messagesEndpoint"),
		FallbackPorts:    intSliceField(cfg, "fallbackPorts"),
		AuthToken:        stringField(cfg, "authToken"),
	}
}

func sseClientConfigFromMap(cfg map[string]any) SSEClientConfig {
	return SSEClientConfig{
		ServerURL: stringField(cfg, "serverUrl"),
		Headers:   stringMapField(cfg, "headers"),
	}
}

func stringField(cfg map[string]any, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

func intField(cfg map[string]any, key string) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// stringSliceField accepts either a native []string (config built in Go,
// e.g. by the bridge package's convenience constructors) or a []any of
// strings (config decoded from JSON/YAML).
func stringSliceField(cfg map[string]any, key string) []string {
	switch raw := cfg[key].(type) {
	case []string:
		return raw
	case []any:
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// intSliceField accepts either a native []int or a []any of JSON numbers.
func intSliceField(cfg map[string]any, key string) []int {
	switch raw := cfg[key].(type) {
	case []int:
		return raw
	case []any:
		out := make([]int, 0, len(raw))
		for _, v := range raw {
			switch n := v.(type) {
			case int:
				out = append(out, n)
			case int64:
				out = append(out, int(n))
			case float64:
				out = append(out, int(n))
			}
		}
		return out
	default:
		return nil
	}
}

// stringMapField accepts either a native map[string]string or a
// map[string]any of strings.
func stringMapField(cfg map[string]any, key string) map[string]string {
	switch raw := cfg[key].(type) {
	case map[string]string:
		return raw
	case map[string]any:
		out := make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}
