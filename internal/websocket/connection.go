package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"localboard/pkg/types"
)

const (
	defaultQueueSize    = 100
	defaultWriteTimeout = 5 * time.Second
)

// ConnectionOptions tunes the outbound queue of a Connection. Zero values
// fall back to the defaults.
type ConnectionOptions struct {
	QueueSize    int
	WriteTimeout time.Duration
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so every frame
// goes through writeCh and a single writer goroutine owns the socket
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration

	id     string
	userID string

	mu     sync.RWMutex
	region types.Region

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps an upgraded socket for an authenticated user
func NewConnection(conn *websocket.Conn, userID string, opts ConnectionOptions) *Connection {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, opts.QueueSize),
		writeTimeout: opts.WriteTimeout,
		id:           uuid.NewString(),
		userID:       userID,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop exits on the first write error or once the connection is dead.
// writeCh is never closed so late WriteJSON callers cannot panic.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.MarkDead()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.MarkDead()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) ID() string     { return c.id }
func (c *Connection) UserID() string { return c.userID }

func (c *Connection) Region() types.Region {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.region
}

func (c *Connection) SetRegion(region types.Region) {
	c.mu.Lock()
	c.region = region.Normalize()
	c.mu.Unlock()
}

// WriteJSON queues v for the writer goroutine
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// IsAlive reports false once the connection was closed or evicted
func (c *Connection) IsAlive() bool {
	return c.ctx.Err() == nil
}

// Done is closed when the connection dies
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// MarkDead stops all further delivery without touching the socket
func (c *Connection) MarkDead() {
	c.cancel()
}

// Close marks the connection dead and closes the socket once
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
