// Package transport talks to the licence service over HTTP and WebSocket.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/TheMichaelB/pwvault/internal/config"
	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
)

// Transport combines HTTP and WebSocket functionality.
type Transport interface {
	// HTTP methods
	GetJSON(ctx context.Context, path string, out interface{}) error
	PostJSON(ctx context.Context, path string, payload, out interface{}) error

	// WebSocket methods
	StreamEvents(ctx context.Context, path string) (<-chan models.SubscriptionEvent, error)

	// Authentication
	SetToken(token string)
	GetToken() string

	// Lifecycle
	Close() error
}

// DefaultTransport implements the Transport interface.
type DefaultTransport struct {
	httpClient *HTTPClient
	logger     *events.Logger

	mu       sync.Mutex
	wsClient *WSClient
}

// NewTransport creates a transport instance.
func NewTransport(cfg *config.LicenseConfig, logger *events.Logger) Transport {
	return &DefaultTransport{
		httpClient: NewHTTPClient(cfg, logger),
		logger:     logger,
	}
}

// GetJSON forwards to HTTP client.
func (t *DefaultTransport) GetJSON(ctx context.Context, path string, out interface{}) error {
	return t.httpClient.GetJSON(ctx, path, out)
}

// PostJSON forwards to HTTP client.
func (t *DefaultTransport) PostJSON(ctx context.Context, path string, payload, out interface{}) error {
	return t.httpClient.PostJSON(ctx, path, payload, out)
}

// StreamEvents opens a WebSocket stream of subscription events. Any
// previous stream is closed.
func (t *DefaultTransport) StreamEvents(ctx context.Context, path string) (<-chan models.SubscriptionEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.wsClient != nil {
		_ = t.wsClient.Close()
	}
	t.wsClient = NewWSClient(t.httpClient.baseURL+path, t.httpClient.GetToken(), t.logger)

	if err := t.wsClient.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect websocket: %w", err)
	}

	// Monitor errors in background
	ws := t.wsClient
	go func() {
		for err := range ws.Errors() {
			t.logger.WithError(err).Error("WebSocket error")
		}
	}()

	return ws.Events(), nil
}

// SetToken sets the auth token.
func (t *DefaultTransport) SetToken(token string) {
	t.httpClient.SetToken(token)
}

// GetToken returns the current auth token.
func (t *DefaultTransport) GetToken() string {
	return t.httpClient.GetToken()
}

// Close closes all connections.
func (t *DefaultTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.wsClient != nil {
		return t.wsClient.Close()
	}
	return nil
}
