package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Admission status stored on a message
const (
	StatusAccepted  = "accepted"
	StatusUncertain = "uncertain"
)

// Review ledger status values
// FUNCTIONAL DISCOVERY: "rejected" is used both for filter rejections and for
// moderator dismissals; "pending" marks entries awaiting a moderator
const (
	FlagStatusPending  = "pending"
	FlagStatusRejected = "rejected"
	FlagStatusApproved = "approved"
)

// Interaction types recorded by the system. The tag is open: clients may
// send any value that passes IsValidInteractionType.
const (
	InteractionReply = "reply"
	InteractionShare = "share"
	InteractionSent  = "sent"
)

// Real-time event names sent to clients
const (
	EventMessagePosted   = "message-posted"
	EventMessageRejected = "message-rejected"
	EventMessageDeleted  = "message-deleted"
	EventRoomJoined      = "room-joined"
	EventError           = "error"
)

// Inbound frame types accepted from clients
const (
	FrameChatMessage   = "chat-message"
	FrameDeleteMessage = "delete-message"
	FrameInteract      = "interact"
	FrameRelocate      = "relocate"
)

// Region is a geographic chat partition: a state and a local government area.
// Regions compare equal iff their trimmed fields are equal, so always build
// them with NewRegion or call Normalize before comparing.
type Region struct {
	State string `json:"state"`
	LGA   string `json:"lga"`
}

// NewRegion returns a normalized region
func NewRegion(state, lga string) Region {
	return Region{State: strings.TrimSpace(state), LGA: strings.TrimSpace(lga)}
}

// Normalize trims surrounding whitespace from both fields
func (r Region) Normalize() Region {
	return NewRegion(r.State, r.LGA)
}

// Key returns the room key for the region ("state_lga")
func (r Region) Key() string {
	n := r.Normalize()
	return n.State + "_" + n.LGA
}

// IsZero reports whether the region carries no location at all
func (r Region) IsZero() bool {
	n := r.Normalize()
	return n.State == "" && n.LGA == ""
}

func (r Region) String() string {
	return r.Key()
}

// Attachment is an opaque reference to an uploaded file
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

// Message is a persisted post on a region board
// FUNCTIONAL DISCOVERY: Message is immutable once stored; the only mutation is
// hard deletion, which cascades through the reply tree by ParentID
type Message struct {
	ID         string      `json:"id"`
	Author     string      `json:"author"`
	Region     Region      `json:"region"`
	Body       string      `json:"body"`
	ParentID   *string     `json:"parent_id,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Status     string      `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
}

// IsReply reports whether the message has a parent
func (m *Message) IsReply() bool {
	return m.ParentID != nil && *m.ParentID != ""
}

// Interaction records a user acting on a message
type Interaction struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// InteractionRecord is an interaction joined to the message it targets
type InteractionRecord struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Message   Message   `json:"message"`
}

// Flagged is an entry in the review ledger
type Flagged struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Body       string     `json:"body"`
	Reason     string     `json:"reason"`
	Region     Region     `json:"region"`
	Status     string     `json:"status"`
	ReviewedBy *string    `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// RelocationEvent is emitted when a user's region must change
type RelocationEvent struct {
	UserID string `json:"user_id"`
	From   Region `json:"from"`
	To     Region `json:"to"`
	Cause  string `json:"cause"`
}

// Event is the envelope for every frame written to a client
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// MessagePosted is the payload of a message-posted event
type MessagePosted struct {
	ID         string      `json:"id"`
	Author     string      `json:"author"`
	Body       string      `json:"body"`
	ParentID   *string     `json:"parentId"`
	Attachment *Attachment `json:"attachment"`
	Region     Region      `json:"region"`
	Timestamp  time.Time   `json:"timestamp"`
}

// NewMessagePosted builds the broadcast payload for a stored message
func NewMessagePosted(m *Message) MessagePosted {
	return MessagePosted{
		ID:         m.ID,
		Author:     m.Author,
		Body:       m.Body,
		ParentID:   m.ParentID,
		Attachment: m.Attachment,
		Region:     m.Region,
		Timestamp:  m.CreatedAt,
	}
}

// MessageRejected is unicast to the submitter of a rejected message
type MessageRejected struct {
	Reason       string `json:"reason"`
	OriginalBody string `json:"message"`
}

// MessageDeleted announces a deleted thread. ID is the root; IDs lists every
// removed message including the root.
type MessageDeleted struct {
	ID  string   `json:"id"`
	IDs []string `json:"ids"`
}

// RoomJoined tells a client which room it is now subscribed to
type RoomJoined struct {
	Region Region `json:"region"`
	Room   string `json:"room"`
}

// ErrorPayload carries a user-facing error
type ErrorPayload struct {
	Message string `json:"message"`
}

// Frame is an inbound client frame. Payload is decoded per Type.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ChatMessageFrame is the payload of a chat-message frame
type ChatMessageFrame struct {
	Message        string `json:"message"`
	ParentID       string `json:"parentId"`
	AttachmentURL  string `json:"attachmentUrl"`
	AttachmentType string `json:"attachmentType"`
}

// DeleteMessageFrame is the payload of a delete-message frame
type DeleteMessageFrame struct {
	ID string `json:"id"`
}

// InteractFrame is the payload of an interact frame
type InteractFrame struct {
	MessageID string `json:"messageId"`
	Type      string `json:"type"`
}

// RelocateFrame is the payload of a relocate frame
type RelocateFrame struct {
	State string `json:"state"`
	LGA   string `json:"lga"`
}
