package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/basket/mcp-bridge/internal/bridgeerr"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// shutdownGrace bounds how long Close waits for the HTTP server to
// drain in-flight requests before forcing the listener closed.
const shutdownGrace = 2 * time.Second

// SSEServerConfig is the recognized config for the sse server kind
// with no required config fields.
type SSEServerConfig struct {
	Port             int
	Endpoint         string
	MessagesEndpoint string
	FallbackPorts    []int
	AuthToken        string
}

func (c SSEServerConfig) withDefaults() SSEServerConfig {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Endpoint == "" {
		c.Endpoint = "/sse"
	}
	if c.MessagesEndpoint == "" {
		c.MessagesEndpoint = "/messages"
	}
	return c
}

// sseServerTransport runs an HTTP server exposing an SSE event stream
// plus a POST endpoint for inbound messages — the "server" side of the
// MCP HTTP+SSE transport. It models exactly one logical peer connection
// at a time, matching a bridge's 1:1 transport pairing.
type sseServerTransport struct {
	cfg    SSEServerConfig
	logger *slog.Logger

	httpServer *http.Server
	listener   net.Listener

	mu         sync.Mutex
	closed     bool
	sessionID  string
	flusher    http.Flusher
	respWriter http.ResponseWriter
	connDone   chan struct{} // closed when the active SSE connection drops

	b        *broadcaster
	closedCh *closedFuture
}

// NewSSEServerTransport starts an HTTP server bound to cfg.Port (falling
// back to cfg.FallbackPorts on bind failure), serving cfg.Endpoint as an
// SSE stream and cfg.MessagesEndpoint as the POST target for inbound
// frames.
func NewSSEServerTransport(cfg SSEServerConfig, logger *slog.Logger) (Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	t := &sseServerTransport{
		cfg:      cfg,
		logger:   logger,
		b:        newBroadcaster(logger),
		closedCh: newClosedFuture(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Endpoint, t.handleSSE)
	mux.HandleFunc(cfg.MessagesEndpoint, t.handleMessages)
	handler := otelhttp.NewHandler(mux, "mcp.sse.server")

	ln, err := listenWithFallback(cfg.Port, cfg.FallbackPorts)
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.KindTransportCreateFailed, "transport.sse.server", err)
	}
	t.listener = ln
	t.httpServer = &http.Server{Handler: handler}

	go func() {
		if err := t.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("sse server transport exited", "error", err)
		}
	}()

	return t, nil
}

func listenWithFallback(port int, fallback []int) (net.Listener, error) {
	ports := append([]int{port}, fallback...)
	var lastErr error
	for _, p := range ports {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("bind sse server (tried ports %v): %w", ports, lastErr)
}

func (t *sseServerTransport) authorize(r *http.Request) bool {
	if t.cfg.AuthToken == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	return auth == "Bearer "+t.cfg.AuthToken
}

func (t *sseServerTransport) handleSSE(w http.ResponseWriter, r *http.Request) {
	if !t.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sessionID := uuid.NewString()
	done := make(chan struct{})

	t.mu.Lock()
	t.sessionID = sessionID
	t.flusher = flusher
	t.respWriter = w
	t.connDone = done
	t.mu.Unlock()

	fmt.Fprintf(w, "event: endpoint\ndata: %s?sessionId=%s\n\n", t.cfg.MessagesEndpoint, sessionID)
	flusher.Flush()

	select {
	case <-r.Context().Done():
	case <-done:
	}

	t.mu.Lock()
	if t.sessionID == sessionID {
		t.sessionID = ""
		t.flusher = nil
		t.respWriter = nil
		t.connDone = nil
	}
	t.mu.Unlock()
}

func (t *sseServerTransport) handleMessages(w http.ResponseWriter, r *http.Request) {
	if !t.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	t.mu.Lock()
	known := t.sessionID != "" && t.sessionID == sessionID
	t.mu.Unlock()
	if !known {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	t.b.publish(InboundEvent{Message: strings.TrimSpace(string(body))})
	w.WriteHeader(http.StatusAccepted)
}

func (t *sseServerTransport) Inbound() Subscription {
	sub := t.b.subscribe()
	if sub == nil {
		return nil
	}
	return &subscription{sub: sub, b: t.b}
}

func (t *sseServerTransport) Send(message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return bridgeerr.New(bridgeerr.KindTransportClosed, "transport.sse.server.send", nil)
	}
	if t.respWriter == nil || t.flusher == nil {
		return bridgeerr.New(bridgeerr.KindTransportIO, "transport.sse.server.send", errors.New("no connected sse client"))
	}
	if _, err := fmt.Fprintf(t.respWriter, "event: message\ndata: %s\n\n", message); err != nil {
		return bridgeerr.New(bridgeerr.KindTransportIO, "transport.sse.server.send", err)
	}
	t.flusher.Flush()
	return nil
}

func (t *sseServerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	done := t.connDone
	t.connDone = nil
	t.mu.Unlock()

	if done != nil {
		close(done)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = t.httpServer.Shutdown(ctx)

	t.b.close()
	t.closedCh.resolve()
	return nil
}

func (t *sseServerTransport) ClosedFuture() <-chan struct{} { return t.closedCh.wait() }

// Addr returns the address the server is actually bound to, including
// the resolved fallback port when the primary was taken.
func (t *sseServerTransport) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}
