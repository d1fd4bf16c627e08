package router

import (
	"fmt"
	"sync"
	"testing"

	"localboard/internal/testutil"
	"localboard/pkg/types"
)

var (
	ikeja    = types.NewRegion("Lagos", "Ikeja")
	surulere = types.NewRegion("Lagos", "Surulere")
	garki    = types.NewRegion("FCT", "Garki")
)

func TestRouter_JoinValidation(t *testing.T) {
	r := NewRouter()

	if err := r.Join(nil, ikeja); err != ErrNilConnection {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}
	if err := r.Join(testutil.NewFakeConnection("ada"), types.Region{}); err == nil {
		t.Error("Expected an error for the zero region")
	}
}

func TestRouter_JoinAndMembers(t *testing.T) {
	r := NewRouter()
	ada := testutil.NewFakeConnection("ada")
	bob := testutil.NewFakeConnection("bob")

	if err := r.Join(ada, ikeja); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	_ = r.Join(bob, types.Region{State: " Lagos", LGA: "Ikeja "})

	if got := len(r.MembersOf(ikeja)); got != 2 {
		t.Errorf("Expected 2 members after normalized joins, got %d", got)
	}
	region, ok := r.RegionOf(ada)
	if !ok || region != ikeja {
		t.Errorf("RegionOf = %v/%v, want %v", region, ok, ikeja)
	}
	if bob.Region() != ikeja {
		t.Errorf("Join should record the normalized region on the connection, got %v", bob.Region())
	}
}

func TestRouter_JoinSameRoomIsIdempotent(t *testing.T) {
	r := NewRouter()
	ada := testutil.NewFakeConnection("ada")

	_ = r.Join(ada, ikeja)
	_ = r.Join(ada, ikeja)

	if got := len(r.MembersOf(ikeja)); got != 1 {
		t.Errorf("Expected 1 member, got %d", got)
	}
}

func TestRouter_MigrationMovesMembership(t *testing.T) {
	r := NewRouter()
	ada := testutil.NewFakeConnection("ada")
	bob := testutil.NewFakeConnection("bob")

	_ = r.Join(ada, ikeja)
	_ = r.Join(bob, ikeja)
	_ = r.Join(ada, surulere)

	if len(r.MembersOf(ikeja)) != 1 {
		t.Error("Ada should have left Ikeja")
	}
	if len(r.MembersOf(surulere)) != 1 {
		t.Error("Ada should be in Surulere")
	}
	if region, _ := r.RegionOf(ada); region != surulere {
		t.Errorf("Expected Surulere, got %v", region)
	}
}

func TestRouter_RegionsWithCollidingKeysStaySeparate(t *testing.T) {
	r := NewRouter()
	left := types.NewRegion("a_b", "c")
	right := types.NewRegion("a", "b_c")
	if left.Key() != right.Key() {
		t.Fatalf("Expected colliding keys, got %q and %q", left.Key(), right.Key())
	}

	ada := testutil.NewFakeConnection("ada")
	bob := testutil.NewFakeConnection("bob")
	if err := r.Join(ada, left); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := r.Join(bob, right); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	for _, tc := range []struct {
		region types.Region
		conn   *testutil.FakeConnection
	}{
		{left, ada},
		{right, bob},
	} {
		members := r.MembersOf(tc.region)
		if len(members) != 1 || members[0].ID() != tc.conn.ID() {
			t.Errorf("Expected only %s in %+v, got %d members", tc.conn.UserID(), tc.region, len(members))
		}
		if got, ok := r.RegionOf(tc.conn); !ok || got != tc.region {
			t.Errorf("Expected %+v for %s, got %+v", tc.region, tc.conn.UserID(), got)
		}
		if tc.conn.Region() != tc.region {
			t.Errorf("Connection region not recorded: %+v", tc.conn.Region())
		}
	}

	n := r.Broadcast(left, types.Event{Type: types.EventMessagePosted, Payload: types.MessagePosted{ID: "m1"}})
	if n != 1 || len(bob.Frames()) != 0 {
		t.Errorf("Broadcast leaked across colliding rooms: delivered=%d bobFrames=%d", n, len(bob.Frames()))
	}

	// Moving between the two rooms must take both locks without deadlock
	if err := r.Join(ada, right); err != nil {
		t.Fatalf("Migration failed: %v", err)
	}
	if len(r.MembersOf(left)) != 0 || len(r.MembersOf(right)) != 2 {
		t.Errorf("Unexpected membership after migration: left=%d right=%d",
			len(r.MembersOf(left)), len(r.MembersOf(right)))
	}
	if stats := r.GetStats(); stats["rooms"] != 1 {
		t.Errorf("Expected the vacated room to be collected, got %v", stats)
	}
}

func TestRouter_EmptyRoomsAreCollected(t *testing.T) {
	r := NewRouter()
	ada := testutil.NewFakeConnection("ada")

	_ = r.Join(ada, ikeja)
	_ = r.Join(ada, garki)
	if rooms := r.Rooms(); len(rooms) != 1 || rooms[0] != garki.Key() {
		t.Errorf("Expected only %s, got %v", garki.Key(), rooms)
	}

	r.Leave(ada)
	if len(r.Rooms()) != 0 {
		t.Errorf("Expected no rooms, got %v", r.Rooms())
	}
	if _, ok := r.RegionOf(ada); ok {
		t.Error("Left connection should have no region")
	}
	r.Leave(ada)
}

func TestRouter_DeadConnectionCannotJoin(t *testing.T) {
	r := NewRouter()
	ada := testutil.NewFakeConnection("ada")
	_ = ada.Close()

	if err := r.Join(ada, ikeja); err != ErrConnectionDead {
		t.Errorf("Expected ErrConnectionDead, got %v", err)
	}
	if len(r.Rooms()) != 0 {
		t.Error("A rejected join must not leave an empty room behind")
	}
}

func TestRouter_BroadcastSkipsDeadAndFailing(t *testing.T) {
	r := NewRouter()
	ada := testutil.NewFakeConnection("ada")
	bob := testutil.NewFakeConnection("bob")
	cy := testutil.NewFakeConnection("cy")
	dee := testutil.NewFakeConnection("dee")

	for _, c := range []*testutil.FakeConnection{ada, bob, cy} {
		_ = r.Join(c, ikeja)
	}
	_ = r.Join(dee, garki)

	_ = bob.Close()
	cy.FailWrites()

	n := r.Broadcast(ikeja, types.Event{Type: types.EventMessagePosted, Payload: types.MessagePosted{ID: "m1"}})
	if n != 1 {
		t.Errorf("Expected 1 delivery, got %d", n)
	}
	if len(ada.FramesOfType(types.EventMessagePosted)) != 1 {
		t.Error("Ada should receive the broadcast")
	}
	if len(dee.Frames()) != 0 {
		t.Error("Members of other rooms must not receive the broadcast")
	}
}

func TestRouter_BroadcastToMissingRoom(t *testing.T) {
	r := NewRouter()
	if n := r.Broadcast(garki, types.Event{Type: types.EventMessagePosted}); n != 0 {
		t.Errorf("Expected 0 deliveries, got %d", n)
	}
}

// Interleaved joins and leaves across rooms must leave every connection in
// exactly one room and no empty rooms behind
func TestRouter_ConcurrentJoinLeave(t *testing.T) {
	r := NewRouter()
	regions := []types.Region{ikeja, surulere, garki}

	const users = 40
	conns := make([]*testutil.FakeConnection, users)
	for i := range conns {
		conns[i] = testutil.NewFakeConnection(fmt.Sprintf("user%d", i))
	}

	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *testutil.FakeConnection) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = r.Join(c, regions[(i+j)%len(regions)])
				if j%7 == 0 {
					r.Leave(c)
				}
			}
			_ = r.Join(c, regions[i%len(regions)])
		}(i, c)
	}

	wg.Wait()

	total := 0
	for _, region := range regions {
		total += len(r.MembersOf(region))
	}
	if total != users {
		t.Errorf("Expected %d memberships, got %d", users, total)
	}
	for i, c := range conns {
		region, ok := r.RegionOf(c)
		if !ok || region != regions[i%len(regions)] {
			t.Errorf("user%d in %v, want %v", i, region, regions[i%len(regions)])
		}
	}
	stats := r.GetStats()
	if stats["members"] != users || stats["rooms"] != len(regions) {
		t.Errorf("Unexpected stats %v", stats)
	}
}

// An evicted connection racing its own join never ends up subscribed
func TestRouter_EvictionRacingJoin(t *testing.T) {
	for i := 0; i < 100; i++ {
		r := NewRouter()
		c := testutil.NewFakeConnection("ada")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.Join(c, ikeja)
		}()
		go func() {
			defer wg.Done()
			_ = c.Close()
			r.Leave(c)
		}()
		wg.Wait()

		for _, m := range r.MembersOf(ikeja) {
			if m.ID() == c.ID() {
				t.Fatal("Dead connection remained in a room")
			}
		}
	}
}
