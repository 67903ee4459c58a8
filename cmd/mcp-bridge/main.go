// Command mcp-bridge runs a single transport bridge: it pairs a
// server-side transport (talking to an upstream MCP server) with a
// client-side transport (talking to a downstream MCP client) and
// forwards JSON-RPC frames between them until shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/basket/mcp-bridge/internal/bridge"
	"github.com/basket/mcp-bridge/internal/bridgecfg"
	"github.com/basket/mcp-bridge/internal/otel"
	"github.com/basket/mcp-bridge/internal/telemetry"
	"github.com/mattn/go-isatty"
)

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s [flags]                 Run the bridge described by bridge.yaml

FLAGS:
`, os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  MCP_BRIDGE_HOME         Data/config directory (default: ~/.mcp-bridge)

The bridge's server/client transport kinds and configs are read from
bridge.yaml in the home directory. Edit that file and the
bridge applies a hot-reloaded config on its next reconnection cycle.
`)
}

func main() {
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	homeFlag := flag.String("home", "", "bridge home directory (overrides MCP_BRIDGE_HOME)")
	flag.Usage = printUsage
	flag.Parse()

	homeDir := bridgecfg.HomeDir()
	if strings.TrimSpace(*homeFlag) != "" {
		homeDir = *homeFlag
	}
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		fatalStartup(nil, "E_HOME_CREATE", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := bridgecfg.LoadFile(bridgecfg.ConfigPath(homeDir))
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	// A stdio-kind transport (either side) owns this process's own
	// stdin/stdout for framing; logging must stay off stdout in that case.
	quietLogs := !isatty.IsTerminal(os.Stdout.Fd()) ||
		strings.EqualFold(cfg.ServerTransportKind, "stdio") ||
		strings.EqualFold(cfg.ClientTransportKind, "stdio")

	logger, closer, err := telemetry.NewLogger(homeDir, *logLevel, quietLogs)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	otelProvider, err := otel.Init(ctx, otel.Config{
		Enabled:  os.Getenv("MCP_BRIDGE_OTEL_ENABLED") == "1",
		Exporter: envOr("MCP_BRIDGE_OTEL_EXPORTER", "none"),
		Endpoint: os.Getenv("MCP_BRIDGE_OTEL_ENDPOINT"),
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	metrics, err := otel.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_METRICS_INIT", err)
	}

	b := bridge.NewBridge(cfg, logger, otelProvider.Tracer, metrics)

	if err := b.Initialize(ctx); err != nil {
		fatalStartup(logger, "E_BRIDGE_INIT", err)
	}
	logger.Info("bridge running",
		"bridge_id", b.ID(),
		"server_kind", b.ServerTransportKind(),
		"client_kind", b.ClientTransportKind(),
		"shutdown_policy", b.EffectiveServerShutdownPolicy(),
	)

	confWatcher := bridgecfg.NewWatcher(bridgecfg.ConfigPath(homeDir), logger)
	if err := confWatcher.Start(ctx); err != nil {
		logger.Warn("config watcher failed to start; hot-reload disabled", "error", err)
	} else {
		go func() {
			for ev := range confWatcher.Events() {
				logger.Info("bridge.yaml changed; restarting bridge to apply it", "path", ev.Path, "op", ev.Op.String())
				newCfg, err := bridgecfg.LoadFile(ev.Path)
				if err != nil {
					logger.Error("bridge.yaml reload failed; keeping the running bridge as-is", "error", err)
					continue
				}
				if err := b.Shutdown(context.Background()); err != nil {
					logger.Error("bridge shutdown before reload failed", "error", err)
					continue
				}
				b = bridge.NewBridge(newCfg, logger, otelProvider.Tracer, metrics)
				if err := b.Initialize(ctx); err != nil {
					logger.Error("bridge failed to reinitialize after config reload", "error", err)
				}
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.Shutdown(shutdownCtx); err != nil {
		logger.Error("bridge shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"bridge","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano), reasonCode, message,
		)
	}
	os.Exit(1)
}
