package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/polywatch/engine/internal/store"
)

const (
	// ReconnectDelay is the fixed wait between reconnection attempts.
	ReconnectDelay = 5 * time.Second

	// PingInterval keeps the connection alive.
	PingInterval = 5 * time.Second

	// ReadTimeout bounds a single blocking read.
	ReadTimeout = 60 * time.Second

	// WriteTimeout bounds subscription and ping writes.
	WriteTimeout = 10 * time.Second

	handshakeTimeout = 10 * time.Second
)

// subscribeRequest is the subscription message for the activity/trades topic.
type subscribeRequest struct {
	Action        string         `json:"action"`
	Subscriptions []subscription `json:"subscriptions"`
}

type subscription struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
}

// Listener maintains a persistent connection to the real-time data stream
// and emits trades on a bounded channel. On any disconnect it reconnects
// after a fixed delay, indefinitely; failures here are never fatal.
//
// The channel send blocks when the consumer falls behind, which stalls the
// network read. That is deliberate: memory stays bounded and the feed's own
// buffering absorbs short stalls.
type Listener struct {
	url       string
	tradeChan chan<- store.Trade

	reconnectDelay time.Duration

	conn     *websocket.Conn
	connMu   sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewListener creates a listener that writes trades to tradeChan.
func NewListener(url string, tradeChan chan<- store.Trade) *Listener {
	return &Listener{
		url:            url,
		tradeChan:      tradeChan,
		reconnectDelay: ReconnectDelay,
		stopChan:       make(chan struct{}),
	}
}

// SetReconnectDelay overrides the fixed reconnect delay.
func (l *Listener) SetReconnectDelay(d time.Duration) {
	l.reconnectDelay = d
}

// Start begins the listener with automatic reconnection.
func (l *Listener) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.runLoop(ctx)
}

// Stop gracefully shuts down the listener.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.closeConnection()
	l.wg.Wait()
}

// runLoop drives the connection state machine:
// Disconnected -> Connecting -> Subscribed -> (on error) Disconnected.
func (l *Listener) runLoop(ctx context.Context) {
	defer l.wg.Done()

	for {
		if l.stopped(ctx) {
			slog.Info("ws_loop_stopping")
			return
		}

		if err := l.connect(ctx); err != nil {
			slog.Error("ws_connect_failed", "error", err, "retry_in", l.reconnectDelay)
			l.waitReconnect(ctx)
			continue
		}

		pingDone := make(chan struct{})
		l.wg.Add(1)
		go l.pingLoop(pingDone)

		if err := l.readLoop(ctx); err != nil {
			slog.Warn("ws_read_error", "error", err)
		}

		close(pingDone)
		l.closeConnection()

		if l.stopped(ctx) {
			return
		}
		slog.Info("ws_reconnecting", "delay", l.reconnectDelay)
		l.waitReconnect(ctx)
	}
}

// connect establishes the WebSocket connection and subscribes to trades.
func (l *Listener) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, resp, err := dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	slog.Info("ws_connected", "endpoint", l.url)

	if err := l.subscribe(); err != nil {
		l.closeConnection()
		return fmt.Errorf("subscribe failed: %w", err)
	}

	return nil
}

// subscribe sends the activity/trades subscription request.
func (l *Listener) subscribe() error {
	msg := subscribeRequest{
		Action: "subscribe",
		Subscriptions: []subscription{
			{Topic: "activity", Type: "trades"},
		},
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn == nil {
		return fmt.Errorf("connection is nil")
	}

	l.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := l.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send subscribe message: %w", err)
	}

	slog.Info("ws_subscribed", "topic", "activity", "type", "trades")
	return nil
}

// readLoop reads messages until the connection fails or the listener stops.
func (l *Listener) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopChan:
			return nil
		default:
		}

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()

		if conn == nil {
			return fmt.Errorf("connection is nil")
		}

		conn.SetReadDeadline(time.Now().Add(ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		l.handleMessage(ctx, message)
	}
}

// handleMessage parses a message and dispatches the trade, blocking on the
// trade channel if the consumer is behind.
func (l *Listener) handleMessage(ctx context.Context, data []byte) {
	trade, msgType, err := ParseMessage(data)
	if err != nil {
		slog.Warn("ws_message_dropped", "type", msgType, "error", err)
		return
	}

	if trade == nil {
		if msgType != "" {
			slog.Debug("ws_message", "type", msgType)
		}
		return
	}

	select {
	case l.tradeChan <- *trade:
		slog.Debug("trade_received",
			"market", trade.MarketSlug,
			"wallet", truncate(trade.WalletAddress, 10),
			"side", trade.Side,
			"size", trade.Size,
			"price", trade.Price,
			"value_usd", trade.USDValue,
		)
	case <-ctx.Done():
	case <-l.stopChan:
	}
}

// pingLoop sends periodic pings until done is closed.
func (l *Listener) pingLoop(done <-chan struct{}) {
	defer l.wg.Done()

	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.connMu.Lock()
			conn := l.conn
			l.connMu.Unlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("ws_ping_failed", "error", err)
				return
			}
		}
	}
}

// stopped reports whether the listener should exit.
func (l *Listener) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-l.stopChan:
		return true
	default:
		return false
	}
}

// closeConnection safely closes the WebSocket connection.
func (l *Listener) closeConnection() {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
		slog.Info("ws_disconnected")
	}
}

// waitReconnect waits the fixed delay, observing cancellation.
func (l *Listener) waitReconnect(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-l.stopChan:
	case <-time.After(l.reconnectDelay):
	}
}

// truncate shortens a string for logging.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
