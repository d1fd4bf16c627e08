package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Limits applied to user-supplied fields
const (
	MaxBodyBytes     = 4096
	MaxRegionField   = 100
	maxUserIDLength  = 50
	maxInteractionID = 30
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var (
	userIDRegex      = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	interactionRegex = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

// Validate checks a message before it is persisted. Region must already be
// normalized by the caller.
func (m *Message) Validate() error {
	if !IsValidUserID(m.Author) {
		return ErrInvalidUserID
	}
	body := strings.TrimSpace(m.Body)
	if body == "" && m.Attachment == nil {
		return ErrEmptyBody
	}
	if len(m.Body) > MaxBodyBytes {
		return ErrBodyTooLarge
	}
	if m.Attachment != nil && !IsValidAttachmentURL(m.Attachment.URL) {
		return ErrInvalidAttachment
	}
	return nil
}

// Validate ensures the region has both fields and sane lengths
func (r Region) Validate() error {
	n := r.Normalize()
	if n.State == "" || n.LGA == "" {
		return ErrInvalidRegion
	}
	if utf8.RuneCountInString(n.State) > MaxRegionField || utf8.RuneCountInString(n.LGA) > MaxRegionField {
		return ErrRegionTooLong
	}
	return nil
}

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > maxUserIDLength {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidInteractionType checks an interaction tag
func IsValidInteractionType(kind string) bool {
	if len(kind) < 1 || len(kind) > maxInteractionID {
		return false
	}
	return interactionRegex.MatchString(kind)
}

// IsValidAttachmentURL only admits references into the uploads area so a
// delete can never be steered at an arbitrary path.
func IsValidAttachmentURL(url string) bool {
	if !strings.HasPrefix(url, "/uploads/") {
		return false
	}
	name := strings.TrimPrefix(url, "/uploads/")
	return name != "" && !strings.Contains(name, "/") && !strings.Contains(name, "..")
}
