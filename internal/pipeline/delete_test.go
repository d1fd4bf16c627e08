package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"localboard/internal/interaction"
	"localboard/internal/router"
	"localboard/internal/testutil"
	"localboard/pkg/types"
)

type recordingRemover struct {
	mu      sync.Mutex
	removed []string
	err     error
}

func (r *recordingRemover) Remove(url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, url)
	return r.err
}

func seed(t *testing.T, store *testutil.MemoryStore, author, parent string, attachment string) *types.Message {
	t.Helper()
	m := &types.Message{Author: author, Region: ikeja, Body: "I need a plumber", Status: types.StatusAccepted}
	if parent != "" {
		m.ParentID = &parent
	}
	if attachment != "" {
		m.Attachment = &types.Attachment{URL: attachment, Type: "image/png"}
	}
	if _, err := store.InsertMessage(context.Background(), m); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return m
}

func TestDelete_CascadesThroughThread(t *testing.T) {
	store := testutil.NewMemoryStore()
	rooms := router.NewRouter()
	remover := &recordingRemover{}
	p := New(store, rooms, interaction.NewRecorder(store, nil, nil), remover, nil, Options{})

	watcher := testutil.NewFakeConnection("bob")
	if err := rooms.Join(watcher, ikeja); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	a := seed(t, store, "ada", "", "/uploads/a.png")
	b := seed(t, store, "bob", a.ID, "")
	c := seed(t, store, "cy", b.ID, "/uploads/c.png")
	d := seed(t, store, "bob", a.ID, "")
	other := seed(t, store, "ada", "", "")

	ids, err := p.Delete(context.Background(), "ada", a.ID)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ids[0] != a.ID || len(ids) != 4 {
		t.Fatalf("Expected root first and 4 ids, got %v", ids)
	}
	got := append([]string(nil), ids...)
	sort.Strings(got)
	want := []string{a.ID, b.ID, c.ID, d.ID}
	sort.Strings(want)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Deleted ids = %v, want %v", got, want)
		}
	}

	if remaining := store.MessageIDs(); len(remaining) != 1 || remaining[0] != other.ID {
		t.Errorf("Only the unrelated message should remain, got %v", remaining)
	}

	deleted := watcher.FramesOfType(types.EventMessageDeleted)
	if len(deleted) != 1 || testutil.PayloadField(deleted[0], "id") != a.ID {
		t.Fatalf("Expected one message-deleted for the root, got %+v", deleted)
	}
	payload := deleted[0].Payload.(map[string]interface{})
	if list, _ := payload["ids"].([]interface{}); len(list) != 4 {
		t.Errorf("Broadcast should list every removed id, got %v", payload["ids"])
	}

	if len(remover.removed) != 2 {
		t.Errorf("Expected both attachments removed, got %v", remover.removed)
	}
}

// lateReplyStore posts a reply to rootID, plus a reply to that reply, right
// after the root's direct replies are first removed
type lateReplyStore struct {
	*testutil.MemoryStore
	t        *testing.T
	rootID   string
	injected []*types.Message
}

func (s *lateReplyStore) DeleteMessagesByParent(ctx context.Context, parentID string) error {
	if err := s.MemoryStore.DeleteMessagesByParent(ctx, parentID); err != nil {
		return err
	}
	if parentID == s.rootID && s.injected == nil {
		late := seed(s.t, s.MemoryStore, "cy", s.rootID, "/uploads/late.png")
		nested := seed(s.t, s.MemoryStore, "bob", late.ID, "")
		s.injected = []*types.Message{late, nested}
	}
	return nil
}

func TestDelete_ReplyArrivingMidDeleteIsRemoved(t *testing.T) {
	mem := testutil.NewMemoryStore()
	rooms := router.NewRouter()
	remover := &recordingRemover{}

	a := seed(t, mem, "ada", "", "")
	b := seed(t, mem, "bob", a.ID, "")
	other := seed(t, mem, "ada", "", "")

	store := &lateReplyStore{MemoryStore: mem, t: t, rootID: a.ID}
	p := New(store, rooms, nil, remover, nil, Options{})
	watcher := testutil.NewFakeConnection("eve")
	if err := rooms.Join(watcher, ikeja); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	ids, err := p.Delete(context.Background(), "ada", a.ID)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if len(store.injected) != 2 {
		t.Fatal("Late replies were never posted")
	}

	want := map[string]bool{a.ID: true, b.ID: true, store.injected[0].ID: true, store.injected[1].ID: true}
	if ids[0] != a.ID || len(ids) != len(want) {
		t.Fatalf("Expected root first and %d ids, got %v", len(want), ids)
	}
	for _, id := range ids {
		if !want[id] {
			t.Errorf("Unexpected id %s in %v", id, ids)
		}
	}
	if remaining := mem.MessageIDs(); len(remaining) != 1 || remaining[0] != other.ID {
		t.Errorf("Late replies must not outlive the root, remaining %v", remaining)
	}
	if len(remover.removed) != 1 || remover.removed[0] != "/uploads/late.png" {
		t.Errorf("Expected the late attachment removed, got %v", remover.removed)
	}

	deleted := watcher.FramesOfType(types.EventMessageDeleted)
	if len(deleted) != 1 {
		t.Fatalf("Expected one message-deleted event, got %d", len(deleted))
	}
	payload := deleted[0].Payload.(map[string]interface{})
	if list, _ := payload["ids"].([]interface{}); len(list) != len(want) {
		t.Errorf("Broadcast should include the late replies, got %v", payload["ids"])
	}
}

func TestDelete_AttachmentFailureIsNonFatal(t *testing.T) {
	store := testutil.NewMemoryStore()
	remover := &recordingRemover{err: errors.New("permission denied")}
	p := New(store, router.NewRouter(), nil, remover, nil, Options{})

	a := seed(t, store, "ada", "", "/uploads/a.png")
	if _, err := p.Delete(context.Background(), "ada", a.ID); err != nil {
		t.Fatalf("Attachment failure must not fail the delete: %v", err)
	}
	if store.MessageCount() != 0 {
		t.Error("Message should be gone")
	}
}

func TestDelete_Errors(t *testing.T) {
	store := testutil.NewMemoryStore()
	p := New(store, router.NewRouter(), nil, nil, nil, Options{})
	a := seed(t, store, "ada", "", "")

	if _, err := p.Delete(context.Background(), "bob", a.ID); err != ErrNotAuthor {
		t.Errorf("Expected ErrNotAuthor, got %v", err)
	}
	if store.MessageCount() != 1 {
		t.Error("A refused delete must not remove anything")
	}
	if _, err := p.Delete(context.Background(), "ada", "missing"); err != ErrMessageNotFound {
		t.Errorf("Expected ErrMessageNotFound, got %v", err)
	}
	if _, err := p.Delete(context.Background(), "ada", ""); err != types.ErrInvalidMessageID {
		t.Errorf("Expected ErrInvalidMessageID, got %v", err)
	}
}

func TestReplyCounts(t *testing.T) {
	id := func(s string) *string { return &s }
	msgs := []*types.Message{
		{ID: "a"},
		{ID: "b", ParentID: id("a")},
		{ID: "c", ParentID: id("b")},
		{ID: "d", ParentID: id("a")},
		{ID: "e"},
		{ID: "f", ParentID: id("gone")},
	}

	counts := ReplyCounts(msgs)
	want := map[string]int{"a": 3, "b": 1, "c": 0, "d": 0, "e": 0, "f": 0}
	for k, v := range want {
		if counts[k] != v {
			t.Errorf("ReplyCounts[%s] = %d, want %d", k, counts[k], v)
		}
	}
}
