package auth

import "errors"

// Credential error types
var (
	ErrMissingToken     = errors.New("missing bearer token")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpiredToken     = errors.New("token is expired")
	ErrInvalidSubject   = errors.New("token subject is not a valid user id")
	ErrNotConfigured    = errors.New("token verifier is not configured")
)
