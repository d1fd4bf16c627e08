package interfaces

import (
	"context"

	"localboard/pkg/types"
)

// Store handles all persistence operations
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations;
// dialect-specific SQL never leaks past the adapters that implement it
type Store interface {
	// Message operations

	// InsertMessage persists a message and returns its generated ID. The
	// store fills ID and CreatedAt on the passed message.
	InsertMessage(ctx context.Context, message *types.Message) (string, error)

	// GetMessage returns a message by ID or ErrNotFound
	GetMessage(ctx context.Context, id string) (*types.Message, error)

	// ReplyIDs returns the IDs of the direct replies to a message
	ReplyIDs(ctx context.Context, parentID string) ([]string, error)

	// DeleteMessage hard-deletes a single message
	DeleteMessage(ctx context.Context, id string) error

	// DeleteMessagesByParent hard-deletes the direct replies to a message
	DeleteMessagesByParent(ctx context.Context, parentID string) error

	// GetMessageRegion returns the region a message was posted in
	GetMessageRegion(ctx context.Context, id string) (types.Region, error)

	// RoomHistory returns the most recent messages of a region, oldest first
	RoomHistory(ctx context.Context, region types.Region, limit int) ([]*types.Message, error)

	// SearchRoom returns top-level messages of a region whose body contains
	// query (case-insensitive), newest first
	SearchRoom(ctx context.Context, region types.Region, query string, limit int) ([]*types.Message, error)

	// Interaction operations

	// InsertInteraction records a user acting on a message
	InsertInteraction(ctx context.Context, interaction *types.Interaction) error

	// UserInteractions returns a user's interactions joined to their
	// messages, newest first. Interactions on deleted messages are omitted.
	UserInteractions(ctx context.Context, userID string, limit int) ([]*types.InteractionRecord, error)

	// Review ledger operations

	// InsertFlagged appends an entry to the review ledger
	InsertFlagged(ctx context.Context, flagged *types.Flagged) error

	// GetFlagged returns a ledger entry by ID or ErrNotFound
	GetFlagged(ctx context.Context, id string) (*types.Flagged, error)

	// ListFlagged returns ledger entries with the given status, newest first
	ListFlagged(ctx context.Context, status string, limit int) ([]*types.Flagged, error)

	// UpdateFlaggedStatus records a moderator decision
	UpdateFlaggedStatus(ctx context.Context, id, status, reviewer string) error

	// User profile operations

	// GetUserRegion returns the persisted region of a user. Unknown users
	// return the zero region and no error.
	GetUserRegion(ctx context.Context, userID string) (types.Region, error)

	// SetUserRegion persists a user's region, creating the profile if needed
	SetUserRegion(ctx context.Context, userID string, region types.Region) error

	// Health and lifecycle operations

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}
