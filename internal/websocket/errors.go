package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timed out")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection              = errors.New("connection cannot be nil")
	ErrConnectionNotAuthenticated = errors.New("connection has no user identity")
	ErrConnectionDead             = errors.New("connection is no longer alive")
)

// Handler-related errors
var (
	ErrMissingCredential = errors.New("missing bearer credential")
	ErrUnknownFrame      = errors.New("unknown frame type")
	ErrMalformedFrame    = errors.New("malformed frame")
)
