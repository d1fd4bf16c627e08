// Package testutil provides in-memory doubles for the connection and store
// contracts so components can be exercised without sockets or a database.
package testutil

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"localboard/pkg/types"
)

// ErrFakeClosed is returned by writes to a closed FakeConnection
var ErrFakeClosed = errors.New("fake connection closed")

// FakeConnection records every frame written to it
type FakeConnection struct {
	id     string
	userID string

	mu      sync.Mutex
	region  types.Region
	frames  []types.Event
	failing bool

	dead atomic.Bool
}

// NewFakeConnection returns a live connection for userID
func NewFakeConnection(userID string) *FakeConnection {
	return &FakeConnection{id: uuid.NewString(), userID: userID}
}

func (c *FakeConnection) ID() string     { return c.id }
func (c *FakeConnection) UserID() string { return c.userID }

func (c *FakeConnection) Region() types.Region {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.region
}

func (c *FakeConnection) SetRegion(region types.Region) {
	c.mu.Lock()
	c.region = region.Normalize()
	c.mu.Unlock()
}

// WriteJSON round-trips v through JSON so tests observe the wire shape
func (c *FakeConnection) WriteJSON(v interface{}) error {
	if c.dead.Load() {
		return ErrFakeClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("fake write failure")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var ev types.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	c.frames = append(c.frames, ev)
	return nil
}

func (c *FakeConnection) IsAlive() bool { return !c.dead.Load() }

func (c *FakeConnection) Close() error {
	c.dead.Store(true)
	return nil
}

// FailWrites makes every subsequent write return an error
func (c *FakeConnection) FailWrites() {
	c.mu.Lock()
	c.failing = true
	c.mu.Unlock()
}

// Frames returns a copy of the frames received so far
func (c *FakeConnection) Frames() []types.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Event, len(c.frames))
	copy(out, c.frames)
	return out
}

// FramesOfType returns received frames with the given event type
func (c *FakeConnection) FramesOfType(eventType string) []types.Event {
	var out []types.Event
	for _, f := range c.Frames() {
		if f.Type == eventType {
			out = append(out, f)
		}
	}
	return out
}

// PayloadField extracts a top-level string field from a frame payload
func PayloadField(ev types.Event, field string) string {
	m, ok := ev.Payload.(map[string]interface{})
	if !ok {
		return ""
	}
	s, _ := m[field].(string)
	return s
}
