package interfaces

import "localboard/pkg/types"

// RoomRouter maps regions to the live connections subscribed to them
// ARCHITECTURAL DISCOVERY: Membership is the only shared mutable state on the
// delivery path; callers never touch the underlying maps
type RoomRouter interface {
	// Join subscribes conn to region, leaving its previous room if different
	Join(conn Connection, region types.Region) error

	// Leave removes conn from whatever room it is in
	Leave(conn Connection)

	// RegionOf returns the region conn is currently joined to
	RegionOf(conn Connection) (types.Region, bool)

	// MembersOf returns a snapshot of the connections in region's room
	MembersOf(region types.Region) []Connection

	// Broadcast delivers event to every live member of region's room and
	// returns the number of successful deliveries
	Broadcast(region types.Region, event interface{}) int
}
