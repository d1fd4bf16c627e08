package websocket

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"localboard/internal/testutil"
	"localboard/pkg/interfaces"
)

func TestRegistry_NewRegistryInitialization(t *testing.T) {
	registry := NewRegistry()

	stats := registry.GetStats()
	if stats["total_connections"] != 0 || stats["evictions"] != 0 {
		t.Errorf("Expected empty stats, got %v", stats)
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(nil); err != ErrNilConnection {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}
	if err := registry.Register(testutil.NewFakeConnection("")); err != ErrConnectionNotAuthenticated {
		t.Errorf("Expected ErrConnectionNotAuthenticated, got %v", err)
	}

	dead := testutil.NewFakeConnection("ada")
	_ = dead.Close()
	if err := registry.Register(dead); err != ErrConnectionDead {
		t.Errorf("Expected ErrConnectionDead, got %v", err)
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	registry := NewRegistry()
	conn := testutil.NewFakeConnection("ada")

	if err := registry.Register(conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	got, ok := registry.Lookup("ada")
	if !ok || got.ID() != conn.ID() {
		t.Error("Lookup did not return the registered connection")
	}
	if _, ok := registry.Lookup("bob"); ok {
		t.Error("Lookup of an unknown user should fail")
	}
}

func TestRegistry_SecondRegistrationEvictsFirst(t *testing.T) {
	registry := NewRegistry()

	var evicted []interfaces.Connection
	registry.SetEvictionHandler(func(old interfaces.Connection) {
		if old.IsAlive() {
			t.Error("Evicted connection must be dead before the hook runs")
		}
		evicted = append(evicted, old)
	})

	first := testutil.NewFakeConnection("ada")
	second := testutil.NewFakeConnection("ada")
	_ = registry.Register(first)
	_ = registry.Register(second)

	if first.IsAlive() {
		t.Error("First connection should be dead after eviction")
	}
	if len(evicted) != 1 || evicted[0].ID() != first.ID() {
		t.Fatalf("Expected exactly the first connection evicted, got %v", evicted)
	}
	got, ok := registry.Lookup("ada")
	if !ok || got.ID() != second.ID() {
		t.Error("Second connection should be the registered one")
	}
	if registry.GetStats()["evictions"] != 1 {
		t.Errorf("Expected 1 eviction, got %d", registry.GetStats()["evictions"])
	}
}

func TestRegistry_ReRegisterSameConnectionIsNoop(t *testing.T) {
	registry := NewRegistry()
	calls := 0
	registry.SetEvictionHandler(func(interfaces.Connection) { calls++ })

	conn := testutil.NewFakeConnection("ada")
	_ = registry.Register(conn)
	_ = registry.Register(conn)

	if calls != 0 || !conn.IsAlive() {
		t.Error("Registering the same connection twice must not evict it")
	}
}

func TestRegistry_StaleUnregisterIgnored(t *testing.T) {
	registry := NewRegistry()

	first := testutil.NewFakeConnection("ada")
	second := testutil.NewFakeConnection("ada")
	_ = registry.Register(first)
	_ = registry.Register(second)

	// The evicted connection's cleanup runs late
	registry.Unregister(first)

	got, ok := registry.Lookup("ada")
	if !ok || got.ID() != second.ID() {
		t.Fatal("Stale unregister removed the newer registration")
	}

	registry.Unregister(second)
	if _, ok := registry.Lookup("ada"); ok {
		t.Error("Unregister of the current connection should remove it")
	}
	registry.Unregister(second)
	registry.Unregister(nil)
}

func TestRegistry_LookupSkipsDeadConnection(t *testing.T) {
	registry := NewRegistry()
	conn := testutil.NewFakeConnection("ada")
	_ = registry.Register(conn)
	_ = conn.Close()

	if _, ok := registry.Lookup("ada"); ok {
		t.Error("Lookup should not return a dead connection")
	}
}

func TestRegistry_EvictionMarksRealConnectionDeadSynchronously(t *testing.T) {
	registry := NewRegistry()

	first := NewConnection(createTestWebSocketConnection(t), "ada", ConnectionOptions{})
	second := NewConnection(createTestWebSocketConnection(t), "ada", ConnectionOptions{})
	defer second.Close()

	_ = registry.Register(first)
	_ = registry.Register(second)

	if first.IsAlive() {
		t.Error("Evicted connection must be dead as soon as Register returns")
	}
	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Error("Evicted connection was not shut down")
	}
}

// At most one live registered connection per user under concurrent registration
func TestRegistry_ConcurrentRegistrationSameUser(t *testing.T) {
	registry := NewRegistry()

	const n = 50
	conns := make([]*testutil.FakeConnection, n)
	for i := range conns {
		conns[i] = testutil.NewFakeConnection("ada")
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *testutil.FakeConnection) {
			defer wg.Done()
			_ = registry.Register(c)
		}(c)
	}
	wg.Wait()

	alive := 0
	for _, c := range conns {
		if c.IsAlive() {
			alive++
		}
	}
	if alive != 1 {
		t.Errorf("Expected exactly one live connection, got %d", alive)
	}
	got, ok := registry.Lookup("ada")
	if !ok || !got.IsAlive() {
		t.Error("Registered connection should be the live one")
	}
	if registry.GetStats()["evictions"] != n-1 {
		t.Errorf("Expected %d evictions, got %d", n-1, registry.GetStats()["evictions"])
	}
}

func TestRegistry_ConcurrentDistinctUsers(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := testutil.NewFakeConnection(fmt.Sprintf("user%d", i))
			_ = registry.Register(c)
			if i%2 == 0 {
				registry.Unregister(c)
			}
		}(i)
	}
	wg.Wait()

	if registry.Count() != 50 {
		t.Errorf("Expected 50 connections, got %d", registry.Count())
	}
}
