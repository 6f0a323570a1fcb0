package presence

import (
	"sort"
	"sync"

	"github.com/jinfei29/mychat-realtime/internal/models"
)

// Conn is one live realtime connection. Push hands an event to the
// connection's outbound queue and reports whether it was accepted
// (false means the buffer was full and the event was dropped).
type Conn interface {
	Push(event string, data any) bool
}

// Directory maps each online user to their single live connection.
// A reconnect replaces the previous entry (last-connect-wins); there is
// no multi-device fan-out. The directory is process-local state with no
// persistence.
type Directory struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewDirectory() *Directory {
	return &Directory{conns: make(map[string]Conn)}
}

// Register stores conn as the user's live connection, replacing any
// existing one, and broadcasts the updated online set to everyone.
func (d *Directory) Register(userID string, conn Conn) {
	d.mu.Lock()
	d.conns[userID] = conn
	users, targets := d.snapshotLocked()
	d.mu.Unlock()

	broadcastOnline(users, targets)
}

// Unregister removes the user's entry only if conn is still the stored
// handle. A disconnect event for a connection that has already been
// replaced by a reconnect must not remove the newer entry.
func (d *Directory) Unregister(userID string, conn Conn) {
	d.mu.Lock()
	cur, ok := d.conns[userID]
	if !ok || cur != conn {
		d.mu.Unlock()
		return
	}
	delete(d.conns, userID)
	users, targets := d.snapshotLocked()
	d.mu.Unlock()

	broadcastOnline(users, targets)
}

// Lookup returns the user's live connection, if any. An absent entry is
// the normal offline case, not an error.
func (d *Directory) Lookup(userID string) (Conn, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conn, ok := d.conns[userID]
	return conn, ok
}

// Online returns the sorted set of currently connected user ids.
func (d *Directory) Online() []string {
	d.mu.RLock()
	users, _ := d.snapshotLocked()
	d.mu.RUnlock()
	return users
}

func (d *Directory) snapshotLocked() ([]string, []Conn) {
	users := make([]string, 0, len(d.conns))
	targets := make([]Conn, 0, len(d.conns))
	for id, conn := range d.conns {
		users = append(users, id)
		targets = append(targets, conn)
	}
	sort.Strings(users)
	return users, targets
}

// Every presence change pushes the complete online set to every
// connection, not a diff. Pushes happen outside the directory lock.
func broadcastOnline(users []string, targets []Conn) {
	for _, conn := range targets {
		conn.Push(models.EventOnlineUsers, users)
	}
}
