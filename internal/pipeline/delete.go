package pipeline

import (
	"context"
	"errors"
	"fmt"

	"localboard/pkg/interfaces"
	"localboard/pkg/types"
)

// maxDeleteAttempts bounds how often Delete re-walks a thread that keeps
// receiving replies
const maxDeleteAttempts = 3

var errLateReplies = errors.New("replies arrived during delete")

// Delete removes a message and all of its transitive replies. Only the
// author may delete. The returned IDs list the root first, then replies in
// breadth-first order.
func (p *Pipeline) Delete(ctx context.Context, userID, messageID string) ([]string, error) {
	if messageID == "" {
		return nil, types.ErrInvalidMessageID
	}
	root, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	if root.Author != userID {
		return nil, ErrNotAuthor
	}

	ids, attachments, err := p.collectThread(ctx, root)
	if err != nil {
		return nil, err
	}
	pending := ids

	// A reply can land between the walk and the final delete; it is picked
	// up by walking the remaining thread again
	for attempt := 1; ; attempt++ {
		err := p.deleteThread(ctx, root.ID, pending)
		if err == nil {
			break
		}
		if attempt == maxDeleteAttempts {
			return nil, err
		}
		p.log.Debug("delete_retry", "id", root.ID, "attempt", attempt, "error", err)

		var more []string
		pending, more, err = p.collectThread(ctx, root)
		if err != nil {
			return nil, err
		}
		ids = appendNew(ids, pending)
		attachments = appendNew(attachments, more)
	}

	if p.remover != nil {
		for _, url := range attachments {
			if err := p.remover.Remove(url); err != nil {
				p.log.Warn("attachment_remove_failed", "url", url, "error", err)
			}
		}
	}

	delivered := p.rooms.Broadcast(root.Region, types.Event{
		Type:    types.EventMessageDeleted,
		Payload: types.MessageDeleted{ID: root.ID, IDs: ids},
	})
	p.metrics.Deleted(len(ids))
	p.log.Info("message_deleted", "id", root.ID, "user", userID, "room", root.Region.Key(),
		"cascaded", len(ids)-1, "delivered", delivered)

	return ids, nil
}

// deleteThread removes the replies in ids deepest parents first, then the
// root. It refuses to delete a root that still has replies.
func (p *Pipeline) deleteThread(ctx context.Context, rootID string, ids []string) error {
	for i := len(ids) - 1; i >= 0; i-- {
		if err := p.store.DeleteMessagesByParent(ctx, ids[i]); err != nil {
			return fmt.Errorf("failed to delete replies of %s: %w", ids[i], err)
		}
	}
	late, err := p.store.ReplyIDs(ctx, rootID)
	if err != nil {
		return fmt.Errorf("failed to list replies of %s: %w", rootID, err)
	}
	if len(late) > 0 {
		return errLateReplies
	}
	if err := p.store.DeleteMessage(ctx, rootID); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// appendNew appends the values of more not already in list
func appendNew(list, more []string) []string {
	seen := make(map[string]bool, len(list))
	for _, v := range list {
		seen[v] = true
	}
	for _, v := range more {
		if !seen[v] {
			seen[v] = true
			list = append(list, v)
		}
	}
	return list
}

// collectThread walks the reply tree iteratively from root and returns
// every message ID in breadth-first order plus the attachment URLs found
func (p *Pipeline) collectThread(ctx context.Context, root *types.Message) ([]string, []string, error) {
	ids := []string{root.ID}
	var attachments []string
	if root.Attachment != nil {
		attachments = append(attachments, root.Attachment.URL)
	}

	seen := map[string]bool{root.ID: true}
	for i := 0; i < len(ids); i++ {
		children, err := p.store.ReplyIDs(ctx, ids[i])
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list replies of %s: %w", ids[i], err)
		}
		for _, child := range children {
			if seen[child] {
				continue
			}
			seen[child] = true
			ids = append(ids, child)

			m, err := p.store.GetMessage(ctx, child)
			if err != nil {
				if errors.Is(err, interfaces.ErrNotFound) {
					continue
				}
				return nil, nil, fmt.Errorf("failed to load reply %s: %w", child, err)
			}
			if m.Attachment != nil {
				attachments = append(attachments, m.Attachment.URL)
			}
		}
	}
	return ids, attachments, nil
}

// ReplyCounts returns, for every message in msgs, the number of transitive
// replies also present in msgs
func ReplyCounts(msgs []*types.Message) map[string]int {
	children := make(map[string][]string, len(msgs))
	for _, m := range msgs {
		if m.IsReply() {
			children[*m.ParentID] = append(children[*m.ParentID], m.ID)
		}
	}

	counts := make(map[string]int, len(msgs))
	for _, m := range msgs {
		n := 0
		stack := append([]string(nil), children[m.ID]...)
		seen := map[string]bool{m.ID: true}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen[id] {
				continue
			}
			seen[id] = true
			n++
			stack = append(stack, children[id]...)
		}
		counts[m.ID] = n
	}
	return counts
}
