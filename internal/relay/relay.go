// Package relay implements best-effort fan-out of server events to live
// connections. Delivery is at-most-once and fire-and-forget: an offline
// target is a no-op, not an error. Callers that need durability must
// persist their own state.
package relay

import (
	"log"

	"github.com/jinfei29/mychat-realtime/internal/presence"
)

type Relay struct {
	dir *presence.Directory
}

func New(dir *presence.Directory) *Relay {
	return &Relay{dir: dir}
}

// Deliver pushes (event, data) to the target's live connection. The
// return value reports whether the event was handed to a connection, so
// callers can log or count drops; it is not an error signal.
func (r *Relay) Deliver(userID, event string, data any) bool {
	conn, ok := r.dir.Lookup(userID)
	if !ok {
		return false
	}
	if !conn.Push(event, data) {
		log.Printf("Dropped %s event for user %s: send buffer full", event, userID)
		return false
	}
	return true
}
