package pipeline

import (
	"errors"

	"localboard/internal/admission"
	"localboard/pkg/interfaces"
)

// Pipeline error types
var (
	ErrNilConnection   = errors.New("connection cannot be nil")
	ErrConnectionDead  = errors.New("connection is no longer alive")
	ErrNotLocated      = errors.New("set a location before posting")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrParentNotFound  = errors.New("parent message not found")
	ErrMessageNotFound = interfaces.ErrMessageNotFound
	ErrNotAuthor       = errors.New("only the author may delete a message")
	ErrFlaggedNotFound = errors.New("flagged message not found")
	ErrAlreadyReviewed = errors.New("flagged message was already approved")
	ErrEmptyReport     = errors.New("message text required")
)

// RejectionError is returned when the admission filter refuses a post
type RejectionError struct {
	Verdict admission.Verdict
}

func (e *RejectionError) Error() string {
	return "message rejected: " + e.Verdict.Code
}

// IsRejection reports whether err is an admission rejection
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}
