package interfaces

import "localboard/pkg/types"

// Connection represents one authenticated real-time session
// ARCHITECTURAL DISCOVERY: Registry, room router and pipeline only see this
// abstraction, so the WebSocket wrapper and test doubles are interchangeable
type Connection interface {
	// ID uniquely identifies this connection instance. Two connections of the
	// same user always have different IDs.
	ID() string

	// UserID returns the authenticated identity
	UserID() string

	// Region returns the region the connection currently belongs to
	Region() types.Region

	// SetRegion records the connection's current region
	SetRegion(region types.Region)

	// WriteJSON sends a JSON frame to the client (thread-safe)
	// FUNCTIONAL DISCOVERY: Implementations must serialize writes; broadcasts
	// from several goroutines may target the same connection
	WriteJSON(v interface{}) error

	// IsAlive reports false once the connection has been closed or evicted.
	// A dead connection never becomes alive again.
	IsAlive() bool

	// Close marks the connection dead and releases transport resources
	Close() error
}
