package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is a frame received from the server with its payload left raw
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Field decodes one string field of the payload
func (e *Event) Field(name string) string {
	var m map[string]interface{}
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return ""
	}
	s, _ := m[name].(string)
	return s
}

// TestClient is a WebSocket client that buffers every frame it receives
type TestClient struct {
	UserID    string
	ServerURL string
	Token     string

	conn   *websocket.Conn
	events chan *Event
	done   chan struct{}

	writeMu sync.Mutex
	mu      sync.RWMutex
	closed  bool
	readErr error
}

// NewTestClient creates a client for userID authenticated by token
func NewTestClient(userID, token, serverURL string) *TestClient {
	return &TestClient{
		UserID:    userID,
		ServerURL: serverURL,
		Token:     token,
		events:    make(chan *Event, 100),
		done:      make(chan struct{}),
	}
}

// Connect dials /ws with the token as a query parameter
func (tc *TestClient) Connect(ctx context.Context) error {
	u, err := url.Parse(tc.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"token": {tc.Token}}.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect (%d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}
	tc.conn = conn
	go tc.readLoop()
	return nil
}

func (tc *TestClient) readLoop() {
	defer close(tc.done)
	for {
		var ev Event
		if err := tc.conn.ReadJSON(&ev); err != nil {
			tc.mu.Lock()
			tc.readErr = err
			tc.mu.Unlock()
			return
		}
		select {
		case tc.events <- &ev:
		default:
			// Buffer full; tests never send this many frames
		}
	}
}

// Send writes one client frame
func (tc *TestClient) Send(frameType string, payload interface{}) error {
	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	_ = tc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := tc.conn.WriteJSON(map[string]interface{}{"type": frameType, "payload": payload}); err != nil {
		return fmt.Errorf("failed to send %s: %w", frameType, err)
	}
	return nil
}

// Receive waits for the next frame
func (tc *TestClient) Receive(timeout time.Duration) (*Event, error) {
	select {
	case ev := <-tc.events:
		return ev, nil
	case <-tc.done:
		// Frames that arrived before the close are still delivered
		select {
		case ev := <-tc.events:
			return ev, nil
		default:
		}
		return nil, fmt.Errorf("client disconnected: %v", tc.ReadErr())
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout waiting for a frame")
	}
}

// WaitFor skips frames until one of eventType arrives
func (tc *TestClient) WaitFor(eventType string, timeout time.Duration) (*Event, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("timeout waiting for %s", eventType)
		}
		ev, err := tc.Receive(remaining)
		if err != nil {
			return nil, fmt.Errorf("waiting for %s: %w", eventType, err)
		}
		if ev.Type == eventType {
			return ev, nil
		}
	}
}

// Drain returns every buffered frame without waiting
func (tc *TestClient) Drain() []*Event {
	var out []*Event
	for {
		select {
		case ev := <-tc.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Disconnected is closed once the server side has gone away
func (tc *TestClient) Disconnected() <-chan struct{} {
	return tc.done
}

// ReadErr returns the error that ended the read loop
func (tc *TestClient) ReadErr() error {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.readErr
}

// Close closes the socket; safe to call twice
func (tc *TestClient) Close() error {
	tc.mu.Lock()
	if tc.closed || tc.conn == nil {
		tc.mu.Unlock()
		return nil
	}
	tc.closed = true
	tc.mu.Unlock()
	return tc.conn.Close()
}
