package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
)

// WSClient receives subscription events over a WebSocket.
type WSClient struct {
	url    string
	token  string
	logger *events.Logger

	// Connection state
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	// Channels
	events chan models.SubscriptionEvent
	errors chan error
	done   chan struct{}

	// Heartbeat
	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewWSClient creates a WebSocket client. http(s) URLs are rewritten to
// ws(s).
func NewWSClient(wsURL, token string, logger *events.Logger) *WSClient {
	if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + strings.TrimPrefix(wsURL, "http")
	}

	return &WSClient{
		url:          wsURL,
		token:        token,
		logger:       logger.WithField("component", "ws_client"),
		events:       make(chan models.SubscriptionEvent, 16),
		errors:       make(chan error, 4),
		done:         make(chan struct{}),
		pingInterval: 30 * time.Second,
		pongTimeout:  10 * time.Second,
	}
}

// Connect establishes the WebSocket connection.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}
	if c.closed {
		return fmt.Errorf("client closed")
	}

	c.logger.WithField("url", c.url).Debug("Connecting to WebSocket")

	headers := http.Header{}
	if c.token != "" {
		headers.Set("Authorization", "Bearer "+c.token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		if resp != nil {
			return &models.APIError{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("websocket connect failed: %v", err),
			}
		}
		return fmt.Errorf("websocket connect failed: %w", err)
	}

	c.conn = conn

	go c.readLoop(conn)
	go c.pingLoop(conn)

	c.logger.Info("WebSocket connected")
	return nil
}

// Events returns the event channel. It is closed when the connection ends.
func (c *WSClient) Events() <-chan models.SubscriptionEvent {
	return c.events
}

// Errors returns the error channel.
func (c *WSClient) Errors() <-chan error {
	return c.errors
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)

	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

		err := c.conn.Close()
		c.conn = nil
		return err
	}

	return nil
}

// readLoop decodes events until the connection ends.
func (c *WSClient) readLoop(conn *websocket.Conn) {
	defer func() {
		_ = c.Close()
		close(c.events)
		close(c.errors)
	}()

	deadline := c.pongTimeout + c.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		var event models.SubscriptionEvent
		if err := conn.ReadJSON(&event); err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				c.logger.WithError(err).Warn("WebSocket read error")
				c.errors <- err
			}
			return
		}

		if event.Type == "" {
			c.logger.Debug("Ignoring untyped event")
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))

		c.logger.WithField("type", event.Type).Debug("Received event")

		select {
		case c.events <- event:
		case <-c.done:
			return
		}
	}
}

// pingLoop sends periodic pings.
func (c *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.pongTimeout))
			c.mu.Unlock()
			if err != nil {
				c.logger.WithError(err).Debug("Ping failed")
				return
			}

		case <-c.done:
			return
		}
	}
}
