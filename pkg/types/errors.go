package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidUserID          = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen/dot only")
	ErrInvalidRegion          = errors.New("state and LGA are both required")
	ErrRegionTooLong          = errors.New("state and LGA must be at most 100 characters each")
	ErrEmptyBody              = errors.New("message body cannot be empty")
	ErrBodyTooLarge           = errors.New("message body exceeds 4KB limit")
	ErrInvalidMessageID       = errors.New("invalid message ID")
	ErrInvalidInteractionType = errors.New("interaction type must be 1-30 characters, lowercase letters, digits, hyphen or underscore")
	ErrInvalidAttachment      = errors.New("attachment URL must be a relative /uploads/ path")
)
