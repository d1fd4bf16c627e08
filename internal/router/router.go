package router

import (
	"log/slog"
	"sort"
	"sync"

	"localboard/pkg/interfaces"
	"localboard/pkg/logger"
	"localboard/pkg/types"
)

// room is the set of connections subscribed to one region
type room struct {
	mu      sync.Mutex
	region  types.Region
	members map[string]interfaces.Connection // connection ID -> Connection
	// closed is set when the room was garbage-collected; holders of a stale
	// pointer must look the room up again
	closed bool
}

// Router implements interfaces.RoomRouter
// ARCHITECTURAL DISCOVERY: Each room has its own lock so traffic in one
// region never contends with another. The rooms map and the membership
// index share r.mu, which is only ever taken after room locks. Rooms are
// keyed by the normalized Region itself; Region.Key() is only a label.
type Router struct {
	mu    sync.Mutex
	rooms map[types.Region]*room
	index map[string]types.Region // connection ID -> room region

	log *slog.Logger
}

var _ interfaces.RoomRouter = (*Router)(nil)

// NewRouter creates a router with no rooms
func NewRouter() *Router {
	return &Router{
		rooms: make(map[types.Region]*room),
		index: make(map[string]types.Region),
		log:   logger.With("component", "router"),
	}
}

func (r *Router) roomFor(region types.Region) *room {
	region = region.Normalize()
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[region]
	if !ok {
		rm = &room{region: region, members: make(map[string]interfaces.Connection)}
		r.rooms[region] = rm
	}
	return rm
}

// lookup returns the region conn is indexed under and its room
func (r *Router) lookup(connID string) (types.Region, bool, *room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	region, ok := r.index[connID]
	if !ok {
		return types.Region{}, false, nil
	}
	return region, true, r.rooms[region]
}

func (r *Router) indexed(connID string) (types.Region, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	region, ok := r.index[connID]
	return region, ok
}

// stillIndexed reports whether conn's index entry is unchanged since it
// was read as (region, ok)
func (r *Router) stillIndexed(connID string, region types.Region, ok bool) bool {
	cur, present := r.indexed(connID)
	return present == ok && cur == region
}

// dropIfEmpty garbage-collects rm. Caller holds rm.mu.
func (r *Router) dropIfEmpty(rm *room) {
	if len(rm.members) > 0 || rm.closed {
		return
	}
	rm.closed = true
	r.mu.Lock()
	if r.rooms[rm.region] == rm {
		delete(r.rooms, rm.region)
	}
	r.mu.Unlock()
}

// before orders regions by (State, LGA) for lock acquisition
func before(a, b types.Region) bool {
	if a.State != b.State {
		return a.State < b.State
	}
	return a.LGA < b.LGA
}

// lockPair locks two distinct rooms in region order
func lockPair(a, b *room) func() {
	if before(b.region, a.region) {
		a, b = b, a
	}
	a.mu.Lock()
	b.mu.Lock()
	return func() {
		b.mu.Unlock()
		a.mu.Unlock()
	}
}

// Join subscribes conn to region, leaving its previous room, and records the
// region on the connection. A move between rooms holds both room locks so
// observers see the connection in exactly one of them.
func (r *Router) Join(conn interfaces.Connection, region types.Region) error {
	if conn == nil {
		return ErrNilConnection
	}
	region = region.Normalize()
	if err := region.Validate(); err != nil {
		return err
	}
	connID := conn.ID()
	if !conn.IsAlive() {
		return ErrConnectionDead
	}

	for {
		target := r.roomFor(region)
		current, wasIndexed, src := r.lookup(connID)

		if src == target {
			target.mu.Lock()
			if target.closed {
				target.mu.Unlock()
				continue
			}
			target.mu.Unlock()
			return nil
		}

		var unlock func()
		if src != nil {
			unlock = lockPair(src, target)
		} else {
			target.mu.Lock()
			unlock = target.mu.Unlock
		}

		// Retry when a room was collected or the connection moved while we
		// were waiting for the locks
		if target.closed || (src != nil && src.closed) || !r.stillIndexed(connID, current, wasIndexed) {
			unlock()
			continue
		}

		if src != nil {
			delete(src.members, connID)
		}
		target.members[connID] = conn
		r.mu.Lock()
		r.index[connID] = region
		r.mu.Unlock()

		// Liveness is checked after the index is published: an eviction
		// that missed the index must have happened before this check
		dead := !conn.IsAlive()
		if dead {
			delete(target.members, connID)
			r.mu.Lock()
			delete(r.index, connID)
			r.mu.Unlock()
			r.dropIfEmpty(target)
		}
		if src != nil {
			r.dropIfEmpty(src)
		}
		if !dead {
			conn.SetRegion(region)
		}
		unlock()

		if dead {
			return ErrConnectionDead
		}

		r.log.Debug("room_joined", "user", conn.UserID(), "conn", connID, "room", region.Key(), "from", current.Key())
		return nil
	}
}

// Leave removes conn from whatever room it is in
func (r *Router) Leave(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	connID := conn.ID()

	for {
		region, ok, rm := r.lookup(connID)
		if !ok {
			return
		}
		if rm == nil {
			r.mu.Lock()
			if cur, still := r.index[connID]; still && cur == region {
				delete(r.index, connID)
			}
			r.mu.Unlock()
			return
		}

		rm.mu.Lock()
		if rm.closed || !r.stillIndexed(connID, region, true) {
			rm.mu.Unlock()
			continue
		}
		delete(rm.members, connID)
		r.mu.Lock()
		delete(r.index, connID)
		r.mu.Unlock()
		r.dropIfEmpty(rm)
		rm.mu.Unlock()

		r.log.Debug("room_left", "user", conn.UserID(), "conn", connID, "room", region.Key())
		return
	}
}

// RegionOf returns the region conn is joined to
func (r *Router) RegionOf(conn interfaces.Connection) (types.Region, bool) {
	if conn == nil {
		return types.Region{}, false
	}
	_, _, rm := r.lookup(conn.ID())
	if rm == nil {
		return types.Region{}, false
	}
	return rm.region, true
}

// MembersOf returns a snapshot of the connections in region's room
func (r *Router) MembersOf(region types.Region) []interfaces.Connection {
	r.mu.Lock()
	rm := r.rooms[region.Normalize()]
	r.mu.Unlock()
	if rm == nil {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	members := make([]interfaces.Connection, 0, len(rm.members))
	for _, c := range rm.members {
		members = append(members, c)
	}
	return members
}

// Broadcast writes event to every live member of region's room. It iterates
// a snapshot and keeps going after individual write failures; the return
// value is the number of successful deliveries.
func (r *Router) Broadcast(region types.Region, event interface{}) int {
	delivered := 0
	for _, conn := range r.MembersOf(region) {
		if !conn.IsAlive() {
			continue
		}
		if err := conn.WriteJSON(event); err != nil {
			r.log.Debug("broadcast_write_failed", "user", conn.UserID(), "room", region.Key(), "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Rooms returns the keys of all live rooms, sorted
func (r *Router) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.rooms))
	for region := range r.rooms {
		keys = append(keys, region.Key())
	}
	sort.Strings(keys)
	return keys
}

// GetStats returns router statistics for monitoring and debugging
func (r *Router) GetStats() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]int{
		"rooms":   len(r.rooms),
		"members": len(r.index),
	}
}
