package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/basket/mcp-bridge/internal/bridgeerr"
)

// SSEClientConfig is the recognized config for the sse client kind
// over an HTTP client.
type SSEClientConfig struct {
	ServerURL string
	Headers   map[string]string
}

// sseClientTransport opens an outbound HTTP SSE stream to an MCP
// server and posts outbound frames to the endpoint the server
// advertises in its first "endpoint" event — the "client" side of the
// MCP HTTP+SSE transport.
type sseClientTransport struct {
	cfg    SSEClientConfig
	logger *slog.Logger

	httpClient *http.Client
	cancel     context.CancelFunc

	mu           sync.Mutex
	closed       bool
	postEndpoint string
	endpointKnow chan struct{} // closed once postEndpoint is set

	b        *broadcaster
	closedCh *closedFuture
}

// NewSSEClientTransport dials cfg.ServerURL as an SSE client,
// opening an outbound HTTP stream.
func NewSSEClientTransport(cfg SSEClientConfig, logger *slog.Logger) (Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServerURL == "" {
		return nil, bridgeerr.New(bridgeerr.KindInvalidConfig, "transport.sse.client", errors.New("serverUrl is required"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &sseClientTransport{
		cfg:          cfg,
		logger:       logger,
		httpClient:   &http.Client{},
		cancel:       cancel,
		endpointKnow: make(chan struct{}),
		b:            newBroadcaster(logger),
		closedCh:     newClosedFuture(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.ServerURL, nil)
	if err != nil {
		cancel()
		return nil, bridgeerr.New(bridgeerr.KindTransportCreateFailed, "transport.sse.client", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, bridgeerr.New(bridgeerr.KindTransportCreateFailed, "transport.sse.client", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, bridgeerr.New(bridgeerr.KindTransportCreateFailed, "transport.sse.client",
			fmt.Errorf("unexpected status %d connecting to %s", resp.StatusCode, cfg.ServerURL))
	}

	go t.readLoop(resp.Body)
	return t, nil
}

func (t *sseClientTransport) readLoop(body io.ReadCloser) {
	defer body.Close()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType, data string
	flush := func() {
		if data == "" {
			return
		}
		switch eventType {
		case "", "message":
			t.b.publish(InboundEvent{Message: data})
		case "endpoint":
			t.setEndpoint(data)
		}
		eventType, data = "", ""
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		t.b.publish(InboundEvent{Err: bridgeerr.New(bridgeerr.KindTransportIO, "transport.sse.client.receive", err)})
	}
	_ = t.Close()
}

func (t *sseClientTransport) setEndpoint(raw string) {
	resolved := raw
	if base, err := url.Parse(t.cfg.ServerURL); err == nil {
		if rel, err := url.Parse(raw); err == nil {
			resolved = base.ResolveReference(rel).String()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.postEndpoint == "" {
		t.postEndpoint = resolved
		close(t.endpointKnow)
	}
}

func (t *sseClientTransport) Inbound() Subscription {
	sub := t.b.subscribe()
	if sub == nil {
		return nil
	}
	return &subscription{sub: sub, b: t.b}
}

func (t *sseClientTransport) Send(message string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return bridgeerr.New(bridgeerr.KindTransportClosed, "transport.sse.client.send", nil)
	}
	endpointKnown := t.endpointKnow
	t.mu.Unlock()

	select {
	case <-endpointKnown:
	case <-t.closedCh.wait():
		return bridgeerr.New(bridgeerr.KindTransportClosed, "transport.sse.client.send", nil)
	}

	t.mu.Lock()
	endpoint := t.postEndpoint
	t.mu.Unlock()

	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return bridgeerr.New(bridgeerr.KindTransportIO, "transport.sse.client.send", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return bridgeerr.New(bridgeerr.KindTransportIO, "transport.sse.client.send", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return bridgeerr.New(bridgeerr.KindTransportIO, "transport.sse.client.send",
			fmt.Errorf("server returned status %d", resp.StatusCode))
	}
	return nil
}

func (t *sseClientTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.b.close()
	t.closedCh.resolve()
	return nil
}

func (t *sseClientTransport) ClosedFuture() <-chan struct{} { return t.closedCh.wait() }
