package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/TheMichaelB/pwvault/internal/models"
)

// MockTransport provides a mock implementation for testing.
type MockTransport struct {
	mu sync.Mutex

	// Response configuration, keyed by path
	Responses map[string]interface{}
	Errors    map[string]error
	Events    []models.SubscriptionEvent

	// StreamError fails StreamEvents.
	StreamError error

	// Request tracking
	Requests       []Request
	StreamRequests []string

	// State
	token    string
	wsChan   chan models.SubscriptionEvent
	closed   bool
	holdOpen bool
}

// Request tracks calls to GetJSON and PostJSON.
type Request struct {
	Method  string
	Path    string
	Token   string
	Payload interface{}
}

// NewMockTransport creates a mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		Responses: make(map[string]interface{}),
		Errors:    make(map[string]error),
	}
}

// GetJSON mocks HTTP GET.
func (m *MockTransport) GetJSON(ctx context.Context, path string, out interface{}) error {
	return m.respond("GET", path, nil, out)
}

// PostJSON mocks HTTP POST.
func (m *MockTransport) PostJSON(ctx context.Context, path string, payload, out interface{}) error {
	return m.respond("POST", path, payload, out)
}

func (m *MockTransport) respond(method, path string, payload, out interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, Request{
		Method:  method,
		Path:    path,
		Token:   m.token,
		Payload: payload,
	})

	if err, ok := m.Errors[path]; ok {
		return err
	}

	resp, ok := m.Responses[path]
	if !ok {
		return fmt.Errorf("no mock response for %s", path)
	}
	if out == nil {
		return nil
	}

	// Round-trip through JSON so out gets a copy.
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// StreamEvents replays Events on a channel. The channel is closed after the
// last event unless HoldOpen was called, in which case it stays open until
// Close.
func (m *MockTransport) StreamEvents(ctx context.Context, path string) (<-chan models.SubscriptionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StreamRequests = append(m.StreamRequests, path)

	if m.StreamError != nil {
		return nil, m.StreamError
	}

	ch := make(chan models.SubscriptionEvent, len(m.Events))
	for _, event := range m.Events {
		ch <- event
	}
	if m.holdOpen {
		m.wsChan = ch
	} else {
		close(ch)
	}
	return ch, nil
}

// HoldOpen keeps the next event stream open until Close.
func (m *MockTransport) HoldOpen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holdOpen = true
}

// SetToken mocks token setting.
func (m *MockTransport) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// GetToken returns the token last set.
func (m *MockTransport) GetToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Close mocks connection closing.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		if m.wsChan != nil {
			close(m.wsChan)
			m.wsChan = nil
		}
	}
	return nil
}

// AddResponse sets the mock response for path.
func (m *MockTransport) AddResponse(path string, response interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[path] = response
}

// AddError makes requests to path fail with err.
func (m *MockTransport) AddError(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[path] = err
}

// RequestCount returns the number of requests made to path.
func (m *MockTransport) RequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, r := range m.Requests {
		if r.Path == path {
			n++
		}
	}
	return n
}
