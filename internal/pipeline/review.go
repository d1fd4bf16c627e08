package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"localboard/internal/admission"
	"localboard/pkg/interfaces"
	"localboard/pkg/logger"
	"localboard/pkg/types"
)

// DefaultReportReason is stored when a user reports a rejection without
// saying why
const DefaultReportReason = "User reported false rejection"

func (p *Pipeline) loadFlagged(ctx context.Context, id string) (*types.Flagged, error) {
	entry, err := p.store.GetFlagged(ctx, id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrFlaggedNotFound
		}
		return nil, fmt.Errorf("failed to load flagged message: %w", err)
	}
	return entry, nil
}

// Approve accepts a ledger entry. Entries for posts that were refused are
// published as new top-level messages in their region; entries for
// uncertain posts are already live and are only marked approved. The
// returned message is nil in the second case.
func (p *Pipeline) Approve(ctx context.Context, flaggedID, reviewer string) (*types.Message, error) {
	entry, err := p.loadFlagged(ctx, flaggedID)
	if err != nil {
		return nil, err
	}
	if entry.Status == types.FlagStatusApproved {
		return nil, ErrAlreadyReviewed
	}

	var msg *types.Message
	if entry.Reason != admission.CodeUncertain {
		msg = &types.Message{
			Author: entry.UserID,
			Region: entry.Region.Normalize(),
			Body:   entry.Body,
			Status: types.StatusAccepted,
		}
		if err := msg.Region.Validate(); err != nil {
			return nil, fmt.Errorf("flagged message has no usable region: %w", err)
		}
		if _, err := p.store.InsertMessage(ctx, msg); err != nil {
			return nil, fmt.Errorf("failed to persist approved message: %w", err)
		}
	}

	if err := p.store.UpdateFlaggedStatus(ctx, entry.ID, types.FlagStatusApproved, reviewer); err != nil {
		return nil, fmt.Errorf("failed to update flagged status: %w", err)
	}
	p.metrics.FlaggedDecision(types.FlagStatusApproved)

	audit := logger.AuditLog()
	if msg == nil {
		audit.Info("flagged_approved", "id", entry.ID, "reviewer", reviewer, "user", entry.UserID)
		return nil, nil
	}

	delivered := p.rooms.Broadcast(msg.Region, types.Event{
		Type:    types.EventMessagePosted,
		Payload: types.NewMessagePosted(msg),
	})
	p.metrics.Delivered(delivered)
	audit.Info("flagged_approved", "id", entry.ID, "reviewer", reviewer, "user", entry.UserID,
		"message", msg.ID, "room", msg.Region.Key())
	return msg, nil
}

// Dismiss marks a ledger entry rejected
func (p *Pipeline) Dismiss(ctx context.Context, flaggedID, reviewer string) error {
	entry, err := p.loadFlagged(ctx, flaggedID)
	if err != nil {
		return err
	}
	if err := p.store.UpdateFlaggedStatus(ctx, entry.ID, types.FlagStatusRejected, reviewer); err != nil {
		return fmt.Errorf("failed to update flagged status: %w", err)
	}
	p.metrics.FlaggedDecision(types.FlagStatusRejected)
	logger.AuditLog().Info("flagged_dismissed", "id", entry.ID, "reviewer", reviewer, "user", entry.UserID)
	return nil
}

// ReportRejection lets a user contest a rejection. The entry is filed as
// pending in the user's current region.
func (p *Pipeline) ReportRejection(ctx context.Context, userID string, region types.Region, body, reason string) (*types.Flagged, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyReport
	}
	if len(body) > types.MaxBodyBytes {
		return nil, types.ErrBodyTooLarge
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultReportReason
	}

	entry := &types.Flagged{
		UserID: userID,
		Body:   body,
		Reason: reason,
		Region: region.Normalize(),
		Status: types.FlagStatusPending,
	}
	if err := p.store.InsertFlagged(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to file report: %w", err)
	}
	p.log.Info("rejection_reported", "id", entry.ID, "user", userID)
	return entry, nil
}

// Pending lists ledger entries awaiting a moderator, newest first
func (p *Pipeline) Pending(ctx context.Context, limit int) ([]*types.Flagged, error) {
	return p.store.ListFlagged(ctx, types.FlagStatusPending, limit)
}
