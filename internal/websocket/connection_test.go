package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"localboard/pkg/interfaces"
	"localboard/pkg/types"
)

// Test WebSocket upgrader for creating test connections
var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Architectural Validation Tests
func TestConnection_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Connection = &Connection{}
}

// Functional Validation Tests
func TestConnection_NewConnectionInitialization(t *testing.T) {
	conn := NewConnection(createTestWebSocketConnection(t), "ada", ConnectionOptions{})
	defer conn.Close()

	if cap(conn.writeCh) != defaultQueueSize {
		t.Errorf("Expected write channel buffer of %d, got %d", defaultQueueSize, cap(conn.writeCh))
	}
	if conn.writeTimeout != defaultWriteTimeout {
		t.Errorf("Expected default write timeout, got %v", conn.writeTimeout)
	}
	if conn.ID() == "" {
		t.Error("Connection should have an ID")
	}
	if conn.UserID() != "ada" {
		t.Errorf("Expected user ada, got %s", conn.UserID())
	}
	if !conn.IsAlive() {
		t.Error("New connection should be alive")
	}
	if !conn.Region().IsZero() {
		t.Error("New connection should be unlocated")
	}
}

func TestConnection_DistinctIDsForSameUser(t *testing.T) {
	a := NewConnection(createTestWebSocketConnection(t), "ada", ConnectionOptions{})
	b := NewConnection(createTestWebSocketConnection(t), "ada", ConnectionOptions{})
	defer a.Close()
	defer b.Close()

	if a.ID() == b.ID() {
		t.Error("Two connections of the same user must have different IDs")
	}
}

func TestConnection_SetRegionNormalizes(t *testing.T) {
	conn := NewConnection(createTestWebSocketConnection(t), "ada", ConnectionOptions{})
	defer conn.Close()

	conn.SetRegion(types.Region{State: " Lagos ", LGA: "Ikeja  "})
	if got := conn.Region(); got != types.NewRegion("Lagos", "Ikeja") {
		t.Errorf("Expected normalized region, got %+v", got)
	}
}

func TestConnection_WriteJSONDelivers(t *testing.T) {
	received := make(chan []byte, 1)
	wsConn := createEchoTarget(t, received)

	conn := NewConnection(wsConn, "ada", ConnectionOptions{})
	defer conn.Close()

	ev := types.Event{Type: types.EventRoomJoined, Payload: types.RoomJoined{Room: "Lagos_Ikeja"}}
	if err := conn.WriteJSON(ev); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	select {
	case data := <-received:
		var got types.Event
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Server received invalid JSON: %v", err)
		}
		if got.Type != types.EventRoomJoined {
			t.Errorf("Expected %s, got %s", types.EventRoomJoined, got.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Frame was not delivered")
	}
}

func TestConnection_WriteAfterClose(t *testing.T) {
	conn := NewConnection(createTestWebSocketConnection(t), "ada", ConnectionOptions{})
	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if conn.IsAlive() {
		t.Error("Closed connection should not be alive")
	}
	if err := conn.WriteJSON(map[string]string{"a": "b"}); err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_MarkDeadIsPermanent(t *testing.T) {
	conn := NewConnection(createTestWebSocketConnection(t), "ada", ConnectionOptions{})
	defer conn.Close()

	conn.MarkDead()
	if conn.IsAlive() {
		t.Error("Connection should be dead after MarkDead")
	}
	select {
	case <-conn.Done():
	default:
		t.Error("Done channel should be closed")
	}
	conn.SetRegion(types.NewRegion("Lagos", "Ikeja"))
	if conn.IsAlive() {
		t.Error("A dead connection must never become alive again")
	}
}

func TestConnection_InvalidJSON(t *testing.T) {
	conn := NewConnection(createTestWebSocketConnection(t), "ada", ConnectionOptions{})
	defer conn.Close()

	if err := conn.WriteJSON(make(chan int)); err != ErrInvalidJSON {
		t.Errorf("Expected ErrInvalidJSON, got %v", err)
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	conn := NewConnection(createTestWebSocketConnection(t), "ada", ConnectionOptions{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = conn.Close()
		}()
	}
	wg.Wait()

	if conn.IsAlive() {
		t.Error("Connection should be dead")
	}
}

// Concurrent writers must not race or panic, including while closing
func TestConnection_ConcurrentWritesDuringClose(t *testing.T) {
	conn := NewConnection(createTestWebSocketConnection(t), "ada", ConnectionOptions{QueueSize: 4, WriteTimeout: 50 * time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = conn.WriteJSON(map[string]int{"n": n, "j": j})
			}
		}(i)
	}
	time.Sleep(5 * time.Millisecond)
	_ = conn.Close()
	wg.Wait()
}

// Test helper functions

func createTestWebSocketConnection(t *testing.T) *websocket.Conn {
	return createEchoTarget(t, nil)
}

// createEchoTarget dials a test server that forwards every frame it reads to
// received when non-nil
func createEchoTarget(t *testing.T, received chan<- []byte) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if received != nil {
				select {
				case received <- data:
				default:
				}
			}
		}
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to create test WebSocket connection: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}
