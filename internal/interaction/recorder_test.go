package interaction

import (
	"context"
	"errors"
	"testing"

	"localboard/internal/testutil"
	"localboard/internal/websocket"
	"localboard/pkg/types"
)

var (
	ikeja = types.NewRegion("Lagos", "Ikeja")
	garki = types.NewRegion("FCT", "Garki")
)

type recordingSink struct {
	events []types.RelocationEvent
	err    error
}

func (s *recordingSink) OnRelocation(ctx context.Context, event types.RelocationEvent) error {
	s.events = append(s.events, event)
	return s.err
}

func seedMessage(t *testing.T, store *testutil.MemoryStore, region types.Region) string {
	t.Helper()
	id, err := store.InsertMessage(context.Background(), &types.Message{
		Author: "zed", Region: region, Body: "I need a welder", Status: types.StatusAccepted,
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return id
}

func TestRecord_SameRegionEmitsNothing(t *testing.T) {
	store := testutil.NewMemoryStore()
	sink := &recordingSink{}
	rec := NewRecorder(store, nil, nil)
	rec.SetSink(sink)

	_ = store.SetUserRegion(context.Background(), "ada", ikeja)
	msg := seedMessage(t, store, ikeja)

	ev, err := rec.Record(context.Background(), "ada", msg, types.InteractionShare)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if ev != nil || len(sink.events) != 0 {
		t.Error("No relocation expected within the same region")
	}
	if got := store.Interactions(); len(got) != 1 || got[0].Type != types.InteractionShare || got[0].MessageID != msg {
		t.Errorf("Unexpected interactions: %+v", got)
	}
}

func TestRecord_OtherRegionEmitsEvent(t *testing.T) {
	store := testutil.NewMemoryStore()
	sink := &recordingSink{}
	rec := NewRecorder(store, nil, nil)
	rec.SetSink(sink)

	_ = store.SetUserRegion(context.Background(), "ada", ikeja)
	msg := seedMessage(t, store, garki)

	ev, err := rec.Record(context.Background(), "ada", msg, types.InteractionShare)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if ev == nil {
		t.Fatal("Expected a relocation event")
	}
	if ev.From != ikeja || ev.To != garki || ev.Cause != "interaction:share" {
		t.Errorf("Unexpected event %+v", ev)
	}
	if len(sink.events) != 1 {
		t.Errorf("Sink should receive exactly one event, got %d", len(sink.events))
	}
}

func TestRecord_PrefersLiveConnectionRegion(t *testing.T) {
	store := testutil.NewMemoryStore()
	sessions := websocket.NewRegistry()
	rec := NewRecorder(store, sessions, nil)

	// Profile is stale; the connection already moved to Garki
	_ = store.SetUserRegion(context.Background(), "ada", ikeja)
	conn := testutil.NewFakeConnection("ada")
	conn.SetRegion(garki)
	_ = sessions.Register(conn)

	msg := seedMessage(t, store, garki)
	ev, err := rec.Record(context.Background(), "ada", msg, types.InteractionReply)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if ev != nil {
		t.Errorf("Expected no relocation, got %+v", ev)
	}
}

func TestRecord_UnknownMessage(t *testing.T) {
	rec := NewRecorder(testutil.NewMemoryStore(), nil, nil)

	if _, err := rec.Record(context.Background(), "ada", "missing", types.InteractionShare); err != ErrMessageNotFound {
		t.Errorf("Expected ErrMessageNotFound, got %v", err)
	}
}

func TestRecord_Validation(t *testing.T) {
	rec := NewRecorder(testutil.NewMemoryStore(), nil, nil)
	ctx := context.Background()

	if _, err := rec.Record(ctx, "bad user!", "m1", "share"); err != types.ErrInvalidUserID {
		t.Errorf("Expected ErrInvalidUserID, got %v", err)
	}
	if _, err := rec.Record(ctx, "ada", "", "share"); err != types.ErrInvalidMessageID {
		t.Errorf("Expected ErrInvalidMessageID, got %v", err)
	}
	if _, err := rec.Record(ctx, "ada", "m1", "Share It"); err != types.ErrInvalidInteractionType {
		t.Errorf("Expected ErrInvalidInteractionType, got %v", err)
	}
}

func TestRecord_InsertFailure(t *testing.T) {
	store := testutil.NewMemoryStore()
	sink := &recordingSink{}
	rec := NewRecorder(store, nil, nil)
	rec.SetSink(sink)

	msg := seedMessage(t, store, garki)
	store.InsertInteractionErr = errors.New("locked")

	if _, err := rec.Record(context.Background(), "ada", msg, types.InteractionShare); err == nil {
		t.Fatal("Expected the insert error")
	}
	if len(sink.events) != 0 {
		t.Error("No relocation may be emitted for an unrecorded interaction")
	}
}

func TestRecord_SinkFailureReturnsEvent(t *testing.T) {
	store := testutil.NewMemoryStore()
	sink := &recordingSink{err: errors.New("boom")}
	rec := NewRecorder(store, nil, nil)
	rec.SetSink(sink)

	msg := seedMessage(t, store, garki)
	ev, err := rec.Record(context.Background(), "ada", msg, types.InteractionShare)
	if err == nil || ev == nil {
		t.Errorf("Expected both the event and the sink error, got %v / %v", ev, err)
	}
}
