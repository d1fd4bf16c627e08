// Package interaction records users acting on messages and turns actions on
// messages from another region into relocation events.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"localboard/internal/metrics"
	"localboard/pkg/interfaces"
	"localboard/pkg/logger"
	"localboard/pkg/types"
)

var (
	ErrMessageNotFound = interfaces.ErrMessageNotFound
)

// RelocationSink consumes relocation events
type RelocationSink interface {
	OnRelocation(ctx context.Context, event types.RelocationEvent) error
}

// Recorder persists interactions and emits relocation events
// ARCHITECTURAL DISCOVERY: The implicit room change is an explicit event
// handed to a sink, so the store and router are never touched from here
type Recorder struct {
	store    interfaces.Store
	sessions interfaces.SessionRegistry
	sink     RelocationSink
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewRecorder creates a recorder. sessions may be nil, in which case the
// user's region is always read from the store.
func NewRecorder(store interfaces.Store, sessions interfaces.SessionRegistry, m *metrics.Metrics) *Recorder {
	return &Recorder{
		store:    store,
		sessions: sessions,
		metrics:  m,
		log:      logger.With("component", "interaction"),
	}
}

// SetSink installs the consumer of relocation events
func (r *Recorder) SetSink(sink RelocationSink) {
	r.sink = sink
}

// Record stores the interaction and, when the message lives in a region
// other than the user's current one, emits and returns a relocation event.
// Errors from the sink are returned alongside the event.
func (r *Recorder) Record(ctx context.Context, userID, messageID, kind string) (*types.RelocationEvent, error) {
	if !types.IsValidUserID(userID) {
		return nil, types.ErrInvalidUserID
	}
	if messageID == "" {
		return nil, types.ErrInvalidMessageID
	}
	if !types.IsValidInteractionType(kind) {
		return nil, types.ErrInvalidInteractionType
	}

	target, err := r.store.GetMessageRegion(ctx, messageID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to read message region: %w", err)
	}

	if err := r.store.InsertInteraction(ctx, &types.Interaction{
		UserID:    userID,
		MessageID: messageID,
		Type:      kind,
	}); err != nil {
		return nil, fmt.Errorf("failed to record interaction: %w", err)
	}
	r.metrics.Interaction(kind)

	current, err := r.currentRegion(ctx, userID)
	if err != nil {
		// The interaction stands even if the relocation cannot be decided
		r.log.Warn("current_region_unavailable", "user", userID, "error", err)
		return nil, nil
	}
	if target.IsZero() || target.Normalize() == current {
		return nil, nil
	}

	event := &types.RelocationEvent{
		UserID: userID,
		From:   current,
		To:     target.Normalize(),
		Cause:  "interaction:" + kind,
	}
	r.log.Info("relocation_emitted", "user", userID, "from", current.Key(), "to", event.To.Key(), "cause", event.Cause)

	if r.sink != nil {
		if err := r.sink.OnRelocation(ctx, *event); err != nil {
			return event, fmt.Errorf("relocation failed: %w", err)
		}
	}
	return event, nil
}

// currentRegion prefers the live connection's region over the profile
func (r *Recorder) currentRegion(ctx context.Context, userID string) (types.Region, error) {
	if r.sessions != nil {
		if conn, ok := r.sessions.Lookup(userID); ok {
			if region := conn.Region(); !region.IsZero() {
				return region, nil
			}
		}
	}
	region, err := r.store.GetUserRegion(ctx, userID)
	if err != nil {
		return types.Region{}, err
	}
	return region.Normalize(), nil
}
