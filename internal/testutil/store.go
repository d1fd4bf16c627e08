package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"localboard/pkg/interfaces"
	"localboard/pkg/types"
)

// MemoryStore is an in-memory interfaces.Store with failure injection
type MemoryStore struct {
	mu           sync.Mutex
	messages     map[string]*types.Message
	order        []string
	interactions []*types.Interaction
	flagged      map[string]*types.Flagged
	flagOrder    []string
	users        map[string]types.Region
	seq          int64

	// Errors returned by the next calls of the named operations when set
	InsertMessageErr     error
	InsertInteractionErr error
	InsertFlaggedErr     error
	SetUserRegionErr     error

	// SetUserRegionCalls counts persisted region updates per user
	SetUserRegionCalls map[string]int
}

var _ interfaces.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:           make(map[string]*types.Message),
		flagged:            make(map[string]*types.Flagged),
		users:              make(map[string]types.Region),
		SetUserRegionCalls: make(map[string]int),
	}
}

func cloneMessage(m *types.Message) *types.Message {
	c := *m
	if m.ParentID != nil {
		p := *m.ParentID
		c.ParentID = &p
	}
	if m.Attachment != nil {
		a := *m.Attachment
		c.Attachment = &a
	}
	return &c
}

func (s *MemoryStore) InsertMessage(ctx context.Context, message *types.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertMessageErr != nil {
		return "", s.InsertMessageErr
	}
	s.seq++
	message.ID = uuid.NewString()
	// Monotonic timestamps keep history ordering deterministic in tests
	message.CreatedAt = time.Unix(0, 0).Add(time.Duration(s.seq) * time.Millisecond).UTC()
	s.messages[message.ID] = cloneMessage(message)
	s.order = append(s.order, message.ID)
	return message.ID, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *MemoryStore) ReplyIDs(ctx context.Context, parentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, id := range s.order {
		m, ok := s.messages[id]
		if ok && m.ParentID != nil && *m.ParentID == parentID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(id)
	return nil
}

func (s *MemoryStore) DeleteMessagesByParent(ctx context.Context, parentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.messages {
		if m.ParentID != nil && *m.ParentID == parentID {
			s.deleteLocked(id)
		}
	}
	return nil
}

func (s *MemoryStore) deleteLocked(id string) {
	delete(s.messages, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	kept := s.interactions[:0]
	for _, in := range s.interactions {
		if in.MessageID != id {
			kept = append(kept, in)
		}
	}
	s.interactions = kept
}

func (s *MemoryStore) GetMessageRegion(ctx context.Context, id string) (types.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return types.Region{}, interfaces.ErrNotFound
	}
	return m.Region, nil
}

func (s *MemoryStore) RoomHistory(ctx context.Context, region types.Region, limit int) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	region = region.Normalize()
	var out []*types.Message
	for _, id := range s.order {
		if m := s.messages[id]; m.Region == region {
			out = append(out, cloneMessage(m))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) SearchRoom(ctx context.Context, region types.Region, query string, limit int) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	region = region.Normalize()
	q := strings.ToLower(query)
	var out []*types.Message
	for i := len(s.order) - 1; i >= 0; i-- {
		m := s.messages[s.order[i]]
		if m.Region == region && !m.IsReply() && strings.Contains(strings.ToLower(m.Body), q) {
			out = append(out, cloneMessage(m))
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertInteraction(ctx context.Context, interaction *types.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertInteractionErr != nil {
		return s.InsertInteractionErr
	}
	c := *interaction
	c.ID = int64(len(s.interactions) + 1)
	c.CreatedAt = time.Now().UTC()
	s.interactions = append(s.interactions, &c)
	return nil
}

// UserInteractions walks interactions newest first, skipping deleted messages
func (s *MemoryStore) UserInteractions(ctx context.Context, userID string, limit int) ([]*types.InteractionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.InteractionRecord
	for i := len(s.interactions) - 1; i >= 0; i-- {
		in := s.interactions[i]
		if in.UserID != userID {
			continue
		}
		m, ok := s.messages[in.MessageID]
		if !ok {
			continue
		}
		out = append(out, &types.InteractionRecord{
			ID:        in.ID,
			Type:      in.Type,
			CreatedAt: in.CreatedAt,
			Message:   *cloneMessage(m),
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertFlagged(ctx context.Context, flagged *types.Flagged) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertFlaggedErr != nil {
		return s.InsertFlaggedErr
	}
	flagged.ID = uuid.NewString()
	flagged.CreatedAt = time.Now().UTC()
	c := *flagged
	s.flagged[c.ID] = &c
	s.flagOrder = append(s.flagOrder, c.ID)
	return nil
}

func (s *MemoryStore) GetFlagged(ctx context.Context, id string) (*types.Flagged, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flagged[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	c := *f
	return &c, nil
}

func (s *MemoryStore) ListFlagged(ctx context.Context, status string, limit int) ([]*types.Flagged, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Flagged
	for i := len(s.flagOrder) - 1; i >= 0; i-- {
		f := s.flagged[s.flagOrder[i]]
		if status == "" || f.Status == status {
			c := *f
			out = append(out, &c)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateFlaggedStatus(ctx context.Context, id, status, reviewer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flagged[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	now := time.Now().UTC()
	f.Status = status
	f.ReviewedBy = &reviewer
	f.ReviewedAt = &now
	return nil
}

func (s *MemoryStore) GetUserRegion(ctx context.Context, userID string) (types.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID], nil
}

func (s *MemoryStore) SetUserRegion(ctx context.Context, userID string, region types.Region) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetUserRegionErr != nil {
		return s.SetUserRegionErr
	}
	s.users[userID] = region.Normalize()
	s.SetUserRegionCalls[userID]++
	return nil
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                          { return nil }

// MessageCount returns the number of stored messages
func (s *MemoryStore) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Interactions returns a copy of the recorded interactions
func (s *MemoryStore) Interactions() []types.Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Interaction, len(s.interactions))
	for i, in := range s.interactions {
		out[i] = *in
	}
	return out
}

// FlaggedEntries returns ledger entries in insertion order
func (s *MemoryStore) FlaggedEntries() []types.Flagged {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Flagged, 0, len(s.flagOrder))
	for _, id := range s.flagOrder {
		out = append(out, *s.flagged[id])
	}
	return out
}

// MessageIDs returns the stored message IDs sorted
func (s *MemoryStore) MessageIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.messages))
	for id := range s.messages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
