package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/basket/mcp-bridge/internal/bridgeerr"
)

// stdioTransport is the shared implementation behind both the stdio
// server transport (bound to the current process's own stdio) and the
// stdio client transport (bound to a spawned subprocess's stdio).
type stdioTransport struct {
	name   string // for logging/errors: "stdio-server" or "stdio-client:<command>"
	logger *slog.Logger

	writer io.Writer
	reader *bufio.Reader

	// cmd is nil for the server-side transport, which owns no child
	// process.
	cmd *exec.Cmd

	mu     sync.Mutex
	closed bool

	b        *broadcaster
	closedCh *closedFuture
}

// NewStdioServerTransport binds a transport to the current process's
// standard streams. It takes no config.
func NewStdioServerTransport(logger *slog.Logger) (Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &stdioTransport{
		name:     "stdio-server",
		logger:   logger,
		writer:   os.Stdout,
		reader:   bufio.NewReader(os.Stdin),
		b:        newBroadcaster(logger),
		closedCh: newClosedFuture(),
	}
	go t.readLoop()
	return t, nil
}

// StdioClientConfig is the recognized config for the stdio client kind
// of the child process.
type StdioClientConfig struct {
	Command          string
	Arguments        []string
	WorkingDirectory string
	Environment      map[string]string
}

// NewStdioClientTransport spawns a child process and binds a transport
// to its stdio. Constructing it spawns a child process.
func NewStdioClientTransport(cfg StdioClientConfig, logger *slog.Logger) (Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Command == "" {
		return nil, bridgeerr.New(bridgeerr.KindInvalidConfig, "transport.stdio.client", errors.New("command is required"))
	}

	cmd := exec.Command(cfg.Command, cfg.Arguments...)
	if cfg.WorkingDirectory != "" {
		cmd.Dir = cfg.WorkingDirectory
	}
	cmd.Env = os.Environ()
	for k, v := range cfg.Environment {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, os.ExpandEnv(v)))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.KindTransportCreateFailed, "transport.stdio.client", fmt.Errorf("stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.KindTransportCreateFailed, "transport.stdio.client", fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.KindTransportCreateFailed, "transport.stdio.client", fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return nil, bridgeerr.New(bridgeerr.KindTransportCreateFailed, "transport.stdio.client", fmt.Errorf("start command %q: %w", cfg.Command, err))
	}

	t := &stdioTransport{
		name:     fmt.Sprintf("stdio-client:%s", cfg.Command),
		logger:   logger,
		writer:   stdin,
		reader:   bufio.NewReader(stdout),
		cmd:      cmd,
		b:        newBroadcaster(logger),
		closedCh: newClosedFuture(),
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug("stdio transport stderr", "source", t.name, "line", scanner.Text())
		}
	}()

	go func() {
		_ = cmd.Wait()
		_ = t.Close()
	}()

	go t.readLoop()
	return t, nil
}

func (t *stdioTransport) readLoop() {
	for {
		msg, err := readFramedMessage(t.reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.b.publish(InboundEvent{Err: bridgeerr.New(bridgeerr.KindTransportIO, "transport."+t.name+".receive", err)})
			}
			_ = t.Close()
			return
		}
		t.b.publish(InboundEvent{Message: msg})
	}
}

func (t *stdioTransport) Inbound() Subscription {
	sub := t.b.subscribe()
	if sub == nil {
		return nil
	}
	return &subscription{sub: sub, b: t.b}
}

func (t *stdioTransport) Send(message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return bridgeerr.New(bridgeerr.KindTransportClosed, "transport."+t.name+".send", nil)
	}
	if err := writeFramedMessage(t.writer, message); err != nil {
		return bridgeerr.New(bridgeerr.KindTransportIO, "transport."+t.name+".send", err)
	}
	return nil
}

func (t *stdioTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if closer, ok := t.writer.(io.Closer); ok {
		_ = closer.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	t.b.close()
	t.closedCh.resolve()
	return nil
}

func (t *stdioTransport) ClosedFuture() <-chan struct{} { return t.closedCh.wait() }
