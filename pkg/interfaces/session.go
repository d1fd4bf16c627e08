package interfaces

// SessionRegistry enforces one live connection per user identity
type SessionRegistry interface {
	// Register installs conn for its user, evicting any previous connection
	Register(conn Connection) error

	// Unregister removes conn only if it is the connection currently on file
	// for its user; stale callbacks from evicted connections are ignored
	Unregister(conn Connection)

	// Lookup returns the live connection for a user
	Lookup(userID string) (Connection, bool)
}
