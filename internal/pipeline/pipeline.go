// Package pipeline admits, persists and broadcasts messages.
//
// A submission runs strictly in order: admission (top-level only), ledger
// entry for uncertain posts in parallel with persistence, persistence,
// reply interaction, broadcast. Nothing is broadcast before it is stored.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"localboard/internal/admission"
	"localboard/internal/metrics"
	"localboard/pkg/interfaces"
	"localboard/pkg/logger"
	"localboard/pkg/types"
)

// ReplyRecorder records the reply interaction against a parent message
type ReplyRecorder interface {
	Record(ctx context.Context, userID, messageID, kind string) (*types.RelocationEvent, error)
}

// AttachmentRemover deletes the file behind an attachment reference
type AttachmentRemover interface {
	Remove(url string) error
}

// Options tunes a Pipeline
type Options struct {
	// RatePerMinute and RateBurst bound submissions per user
	RatePerMinute int
	RateBurst     int
}

// Submission is one post as received from a client
type Submission struct {
	Body       string
	ParentID   string
	Attachment *types.Attachment
}

// Pipeline implements message submission, deletion and moderation
// ARCHITECTURAL DISCOVERY: Persist-then-broadcast; the pipeline owns the
// order of side effects and nothing else touches the store for messages
type Pipeline struct {
	store    interfaces.Store
	rooms    interfaces.RoomRouter
	recorder ReplyRecorder
	remover  AttachmentRemover
	limiter  *limiterPool
	metrics  *metrics.Metrics
	log      *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // connection ID -> submission lock

	background sync.WaitGroup
}

// New creates a pipeline. recorder, remover and m may be nil.
func New(store interfaces.Store, rooms interfaces.RoomRouter, recorder ReplyRecorder, remover AttachmentRemover, m *metrics.Metrics, opts Options) *Pipeline {
	return &Pipeline{
		store:    store,
		rooms:    rooms,
		recorder: recorder,
		remover:  remover,
		limiter:  newLimiterPool(opts.RatePerMinute, opts.RateBurst),
		metrics:  m,
		log:      logger.With("component", "pipeline"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockFor returns the submission lock of a connection
func (p *Pipeline) lockFor(connID string) *sync.Mutex {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()

	l, ok := p.locks[connID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[connID] = l
	}
	return l
}

// Forget releases per-connection state once a connection is gone
func (p *Pipeline) Forget(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	p.locksMu.Lock()
	delete(p.locks, conn.ID())
	p.locksMu.Unlock()
}

// Submit runs a post through the pipeline. A rejected post returns a
// *RejectionError after the rejection has been sent to conn.
func (p *Pipeline) Submit(ctx context.Context, conn interfaces.Connection, sub Submission) (*types.Message, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}

	// Submissions of one connection are persisted and broadcast in order
	lock := p.lockFor(conn.ID())
	lock.Lock()
	defer lock.Unlock()

	if !conn.IsAlive() {
		return nil, ErrConnectionDead
	}
	userID := conn.UserID()
	if !p.limiter.Allow(userID) {
		p.metrics.Submission("rate_limited")
		return nil, ErrRateLimited
	}

	region := conn.Region()
	if region.IsZero() {
		return nil, ErrNotLocated
	}

	msg := &types.Message{
		Author:     userID,
		Region:     region,
		Body:       strings.TrimSpace(sub.Body),
		Attachment: sub.Attachment,
		Status:     types.StatusAccepted,
	}
	if parent := strings.TrimSpace(sub.ParentID); parent != "" {
		msg.ParentID = &parent
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	if msg.IsReply() {
		if _, err := p.store.GetMessage(ctx, *msg.ParentID); err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				return nil, ErrParentNotFound
			}
			return nil, fmt.Errorf("failed to load parent message: %w", err)
		}
	} else {
		verdict := admission.Classify(msg.Body)
		switch verdict.Outcome {
		case admission.Rejected:
			p.reject(ctx, conn, msg, verdict)
			return nil, &RejectionError{Verdict: verdict}
		case admission.Uncertain:
			msg.Status = types.StatusUncertain
			p.flagAsync(ctx, msg, verdict.Code)
		}
	}

	if _, err := p.store.InsertMessage(ctx, msg); err != nil {
		p.metrics.Submission("failed")
		p.log.Error("message_persist_failed", "user", userID, "room", region.Key(), "error", err)
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	if msg.IsReply() && p.recorder != nil {
		if _, err := p.recorder.Record(ctx, userID, *msg.ParentID, types.InteractionReply); err != nil {
			p.log.Warn("reply_interaction_failed", "user", userID, "parent", *msg.ParentID, "error", err)
		}
	}

	delivered := p.rooms.Broadcast(msg.Region, types.Event{
		Type:    types.EventMessagePosted,
		Payload: types.NewMessagePosted(msg),
	})
	p.metrics.Submission(msg.Status)
	p.metrics.Delivered(delivered)
	p.log.Info("message_posted", "id", msg.ID, "user", userID, "room", msg.Region.Key(),
		"reply", msg.IsReply(), "status", msg.Status, "delivered", delivered)

	return msg, nil
}

// reject writes the ledger entry and tells the submitter why
func (p *Pipeline) reject(ctx context.Context, conn interfaces.Connection, msg *types.Message, verdict admission.Verdict) {
	p.metrics.Submission("rejected")
	entry := &types.Flagged{
		UserID: msg.Author,
		Body:   msg.Body,
		Reason: verdict.Code,
		Region: msg.Region,
		Status: types.FlagStatusRejected,
	}
	if err := p.store.InsertFlagged(ctx, entry); err != nil {
		p.log.Error("ledger_write_failed", "user", msg.Author, "status", entry.Status, "error", err)
	}
	p.log.Info("message_rejected", "user", msg.Author, "room", msg.Region.Key(), "reason", verdict.Code)

	if err := conn.WriteJSON(types.Event{
		Type:    types.EventMessageRejected,
		Payload: types.MessageRejected{Reason: verdict.Reason, OriginalBody: msg.Body},
	}); err != nil {
		p.log.Debug("rejection_write_failed", "user", msg.Author, "error", err)
	}
}

// flagAsync queues an uncertain post for review without delaying it
func (p *Pipeline) flagAsync(ctx context.Context, msg *types.Message, reason string) {
	entry := &types.Flagged{
		UserID: msg.Author,
		Body:   msg.Body,
		Reason: reason,
		Region: msg.Region,
		Status: types.FlagStatusPending,
	}
	ctx = context.WithoutCancel(ctx)

	p.background.Add(1)
	go func() {
		defer p.background.Done()
		if err := p.store.InsertFlagged(ctx, entry); err != nil {
			p.log.Error("ledger_write_failed", "user", entry.UserID, "status", entry.Status, "error", err)
		}
	}()
}

// Wait blocks until background ledger writes finish or ctx ends
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunCleanup prunes idle rate-limit state until ctx is cancelled
func (p *Pipeline) RunCleanup(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := p.limiter.Cleanup(5 * every); n > 0 {
				p.log.Debug("rate_limits_pruned", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
