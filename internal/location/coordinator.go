// Package location moves users between regions: profile first, then room
// membership. The router records the region on the connection only once the
// join succeeds.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"localboard/internal/metrics"
	"localboard/internal/router"
	"localboard/pkg/interfaces"
	"localboard/pkg/logger"
	"localboard/pkg/types"
)

var (
	ErrConnectionMismatch = errors.New("connection belongs to a different user")
)

// CauseExplicit marks a relocation the user asked for
const CauseExplicit = "explicit"

// Coordinator implements the location migration steps
type Coordinator struct {
	store    interfaces.Store
	rooms    interfaces.RoomRouter
	sessions interfaces.SessionRegistry
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewCoordinator wires the coordinator to its collaborators
func NewCoordinator(store interfaces.Store, rooms interfaces.RoomRouter, sessions interfaces.SessionRegistry, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		store:    store,
		rooms:    rooms,
		sessions: sessions,
		metrics:  m,
		log:      logger.With("component", "location"),
	}
}

// Migrate moves userID to region. conn may be nil, in which case the user's
// live connection is looked up; a user without one only has the profile
// updated. Repeating a migration to the current region re-persists the
// same value and changes nothing else.
func (c *Coordinator) Migrate(ctx context.Context, userID string, conn interfaces.Connection, region types.Region) error {
	return c.migrate(ctx, userID, conn, region, CauseExplicit)
}

func (c *Coordinator) migrate(ctx context.Context, userID string, conn interfaces.Connection, region types.Region, cause string) error {
	region = region.Normalize()
	if err := region.Validate(); err != nil {
		return err
	}
	if conn == nil && c.sessions != nil {
		if live, ok := c.sessions.Lookup(userID); ok {
			conn = live
		}
	}
	if conn != nil && conn.UserID() != userID {
		return ErrConnectionMismatch
	}

	// 1. Profile
	if err := c.store.SetUserRegion(ctx, userID, region); err != nil {
		return fmt.Errorf("failed to persist region: %w", err)
	}
	if conn == nil {
		c.log.Debug("profile_relocated", "user", userID, "to", region.Key(), "cause", cause)
		return nil
	}

	// 2. Membership, which also updates the connection's region
	from, joined := c.rooms.RegionOf(conn)
	if err := c.rooms.Join(conn, region); err != nil {
		if errors.Is(err, router.ErrConnectionDead) {
			// Evicted mid-migration; the newer session owns the user now
			c.log.Debug("migration_skipped_dead_connection", "user", userID, "conn", conn.ID())
			return nil
		}
		return fmt.Errorf("failed to join room: %w", err)
	}

	if joined && from == region {
		return nil
	}

	c.metrics.Relocated(cause)
	c.log.Info("user_relocated", "user", userID, "from", from.Key(), "to", region.Key(), "cause", cause)
	if err := conn.WriteJSON(types.Event{
		Type:    types.EventRoomJoined,
		Payload: types.RoomJoined{Region: region, Room: region.Key()},
	}); err != nil {
		c.log.Debug("room_joined_write_failed", "user", userID, "error", err)
	}
	return nil
}

// OnRelocation consumes relocation events emitted by the interaction recorder
func (c *Coordinator) OnRelocation(ctx context.Context, event types.RelocationEvent) error {
	cause := event.Cause
	if cause == "" {
		cause = CauseExplicit
	}
	return c.migrate(ctx, event.UserID, nil, event.To, cause)
}
