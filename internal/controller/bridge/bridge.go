// Package bridge maintains a persistent WebSocket connection to the
// controller for real-time event delivery: entity state changes, and the
// channel-originated events (Telegram messages, etc.) the controller
// forwards as bus events. It reconnects on its own schedule and is
// independent of controller.Client's short-lived, one-shot WebSocket
// commands.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexhearth/mimirgo/internal/metrics"
	"github.com/nexhearth/mimirgo/internal/models"
)

const (
	initialReconnectDelay = time.Second
	maxReconnectDelay     = 60 * time.Second
	commandTimeout        = 30 * time.Second
	handshakeTimeout      = 10 * time.Second
)

// EventHandler reacts to one controller event. event_type "*" registers a
// catch-all handler invoked for every event in addition to any handler
// registered for its specific type.
type EventHandler func(ctx context.Context, event models.ControllerEvent)

// Bridge is a reconnecting WebSocket client subscribed to every controller
// event, dispatching to registered handlers and allowing commands to be
// sent over the same persistent connection.
type Bridge struct {
	url    string
	token  string
	logger *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	nextID   atomic.Int64
	pending  map[int64]chan wsResult
	handlers map[string][]EventHandler

	connected atomic.Bool
	stopped   atomic.Bool

	metrics *metrics.Metrics
}

type wsResult struct {
	success bool
	result  json.RawMessage
	errMsg  string
}

// New builds a Bridge for the given controller base URL (scheme + host,
// no path) and long-lived access token.
func New(baseURL, token string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		url:      wsURLFromBase(baseURL),
		token:    token,
		logger:   logger,
		pending:  make(map[int64]chan wsResult),
		handlers: make(map[string][]EventHandler),
	}
}

func wsURLFromBase(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u := trimmed + "/api/websocket"
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u
}

// SetMetrics wires a Prometheus collector set into the bridge. Nil
// disables instrumentation.
func (b *Bridge) SetMetrics(m *metrics.Metrics) {
	b.metrics = m
}

// OnEvent registers a handler for eventType, or for every event if
// eventType is "*".
func (b *Bridge) OnEvent(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Run connects and reconnects until ctx is cancelled, subscribing to every
// event on each successful connection. It returns only when ctx is done.
func (b *Bridge) Run(ctx context.Context) {
	delay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			return
		}

		connectedThisAttempt := false
		if err := b.connectAndServe(ctx, &connectedThisAttempt); err != nil {
			b.logger.Warn("controller event bridge disconnected", "error", err)
			if b.metrics != nil {
				b.metrics.BridgeReconnectCounter.WithLabelValues("failed").Inc()
			}
		}
		b.connected.Store(false)

		if connectedThisAttempt {
			delay = initialReconnectDelay
			if b.metrics != nil {
				b.metrics.BridgeReconnectCounter.WithLabelValues("connected").Inc()
			}
		}

		if ctx.Err() != nil {
			return
		}

		b.logger.Info("reconnecting to controller event stream", "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// Stop closes the current connection, if any, causing Run's read loop to
// exit; Run itself still returns only when its context is cancelled.
func (b *Bridge) Stop() {
	b.stopped.Store(true)
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// IsConnected reports whether the bridge currently holds a live,
// authenticated connection.
func (b *Bridge) IsConnected() bool {
	return b.connected.Load()
}

func (b *Bridge) connectAndServe(ctx context.Context, connected *bool) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("bridge: dial: %w", err)
	}
	defer conn.Close()

	if err := b.authenticate(conn); err != nil {
		return err
	}

	b.mu.Lock()
	b.conn = conn
	b.nextID.Store(0)
	b.mu.Unlock()

	subID, err := b.send(conn, "subscribe_events", nil)
	if err != nil {
		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
		return fmt.Errorf("bridge: subscribe_events: %w", err)
	}

	// The result frame confirming the subscription only arrives once
	// readLoop is pumping frames, so start it now and only declare the
	// bridge connected once that confirmation lands.
	readErrCh := make(chan error, 1)
	go func() { readErrCh <- b.readLoop(ctx, conn) }()

	if err := b.awaitSubscribeConfirmation(ctx, conn, subID, readErrCh); err != nil {
		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
		return err
	}

	b.connected.Store(true)
	*connected = true
	b.logger.Info("controller event stream connected")

	err = <-readErrCh

	b.mu.Lock()
	b.conn = nil
	b.mu.Unlock()
	return err
}

// awaitSubscribeConfirmation blocks until the "result" frame for subID
// arrives, readLoop exits first, or commandTimeout elapses, mirroring the
// same fetch-id/confirm-via-result-frame handshake SendCommand uses. On
// failure it closes conn (forcing readLoop to unblock) and drains
// readErrCh before returning, so the caller never leaks the goroutine.
func (b *Bridge) awaitSubscribeConfirmation(ctx context.Context, conn *websocket.Conn, subID int64, readErrCh chan error) error {
	waitCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	select {
	case res := <-b.resultChannel(subID):
		if !res.success {
			conn.Close()
			<-readErrCh
			return fmt.Errorf("bridge: subscribe_events rejected: %s", res.errMsg)
		}
		return nil

	case err := <-readErrCh:
		if err == nil {
			err = fmt.Errorf("connection closed before subscription was confirmed")
		}
		return fmt.Errorf("bridge: subscribe_events: %w", err)

	case <-waitCtx.Done():
		b.mu.Lock()
		delete(b.pending, subID)
		b.mu.Unlock()
		conn.Close()
		<-readErrCh
		return fmt.Errorf("bridge: subscribe_events: timed out waiting for confirmation")
	}
}

func (b *Bridge) authenticate(conn *websocket.Conn) error {
	var hello struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("bridge: handshake: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("bridge: expected auth_required, got %q", hello.Type)
	}

	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": b.token}); err != nil {
		return fmt.Errorf("bridge: send auth: %w", err)
	}

	var authResp struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&authResp); err != nil {
		return fmt.Errorf("bridge: read auth response: %w", err)
	}
	if authResp.Type != "auth_ok" {
		return fmt.Errorf("bridge: authentication failed (%s)", authResp.Type)
	}
	return nil
}

// readLoop consumes frames until the connection closes or ctx is done,
// dispatching event frames to handlers and result frames to whichever
// SendCommand call is waiting on that message id.
func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var frame struct {
			ID      int64           `json:"id"`
			Type    string          `json:"type"`
			Event   json.RawMessage `json:"event"`
			Success bool            `json:"success"`
			Result  json.RawMessage `json:"result"`
			Error   struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("bridge: read: %w", err)
		}

		switch frame.Type {
		case "event":
			var event models.ControllerEvent
			if err := json.Unmarshal(frame.Event, &event); err != nil {
				b.logger.Warn("controller event bridge: malformed event frame", "error", err)
				continue
			}
			b.dispatch(ctx, event)

		case "result":
			b.mu.Lock()
			ch, ok := b.pending[frame.ID]
			if ok {
				delete(b.pending, frame.ID)
			}
			b.mu.Unlock()
			if ok {
				ch <- wsResult{success: frame.Success, result: frame.Result, errMsg: frame.Error.Message}
			}
		}
	}
}

func (b *Bridge) dispatch(ctx context.Context, event models.ControllerEvent) {
	if b.metrics != nil {
		b.metrics.BridgeEventCounter.WithLabelValues(event.EventType).Inc()
	}

	b.mu.Lock()
	handlers := append([]EventHandler{}, b.handlers[event.EventType]...)
	handlers = append(handlers, b.handlers["*"]...)
	b.mu.Unlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("controller event handler panicked", "event_type", event.EventType, "panic", r)
				}
			}()
			handler(ctx, event)
		}()
	}
}

// SendCommand sends one command over the live connection and waits up to
// 30 seconds for its result. It fails if the bridge isn't currently
// connected; callers that need guaranteed delivery across reconnects
// should retry at a higher level.
func (b *Bridge) SendCommand(ctx context.Context, commandType string, params map[string]any) (json.RawMessage, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("bridge: not connected")
	}

	result, err := b.send(conn, commandType, params)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, result)
		b.mu.Unlock()
		return nil, fmt.Errorf("bridge: command %q timed out", commandType)
	case res := <-b.resultChannel(result):
		if !res.success {
			return nil, fmt.Errorf("bridge: command %q failed: %s", commandType, res.errMsg)
		}
		return res.result, nil
	}
}

// send writes a command frame and registers a pending result channel,
// returning the message id the caller should wait on.
func (b *Bridge) send(conn *websocket.Conn, commandType string, params map[string]any) (int64, error) {
	id := b.nextID.Add(1)

	command := map[string]any{"id": id, "type": commandType}
	for k, v := range params {
		command[k] = v
	}

	b.mu.Lock()
	b.pending[id] = make(chan wsResult, 1)
	b.mu.Unlock()

	b.writeMu.Lock()
	err := conn.WriteJSON(command)
	b.writeMu.Unlock()
	if err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return 0, fmt.Errorf("bridge: send %s: %w", commandType, err)
	}
	return id, nil
}

func (b *Bridge) resultChannel(id int64) chan wsResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending[id]
}
