package router

import "errors"

// Router-specific error types
var (
	ErrNilConnection  = errors.New("connection cannot be nil")
	ErrConnectionDead = errors.New("dead connections cannot join a room")
)
