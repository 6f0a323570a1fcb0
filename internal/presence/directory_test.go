package presence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jinfei29/mychat-realtime/internal/models"
)

type pushed struct {
	Event string
	Data  any
}

type fakeConn struct {
	mu     sync.Mutex
	full   bool
	events []pushed
}

func (f *fakeConn) Push(event string, data any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.events = append(f.events, pushed{Event: event, Data: data})
	return true
}

func (f *fakeConn) lastOnline(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Event == models.EventOnlineUsers {
			return f.events[i].Data.([]string)
		}
	}
	return nil
}

func TestRegisterAndLookup(t *testing.T) {
	dir := NewDirectory()
	conn := &fakeConn{}

	_, ok := dir.Lookup("alice")
	require.False(t, ok)

	dir.Register("alice", conn)
	got, ok := dir.Lookup("alice")
	require.True(t, ok)
	require.Same(t, conn, got.(*fakeConn))
}

func TestReconnectReplacesEntry(t *testing.T) {
	dir := NewDirectory()
	first := &fakeConn{}
	second := &fakeConn{}

	dir.Register("alice", first)
	dir.Register("alice", second)

	got, ok := dir.Lookup("alice")
	require.True(t, ok)
	require.Same(t, second, got.(*fakeConn))
	require.Equal(t, []string{"alice"}, dir.Online())
}

func TestStaleDisconnectDoesNotRemoveReconnect(t *testing.T) {
	dir := NewDirectory()
	first := &fakeConn{}
	second := &fakeConn{}

	dir.Register("alice", first)
	dir.Register("alice", second)

	// The old connection's disconnect arrives after the reconnect.
	dir.Unregister("alice", first)

	got, ok := dir.Lookup("alice")
	require.True(t, ok)
	require.Same(t, second, got.(*fakeConn))

	dir.Unregister("alice", second)
	_, ok = dir.Lookup("alice")
	require.False(t, ok)
}

func TestBroadcastsFullOnlineSet(t *testing.T) {
	dir := NewDirectory()
	alice := &fakeConn{}
	bob := &fakeConn{}

	dir.Register("alice", alice)
	dir.Register("bob", bob)

	require.Equal(t, []string{"alice", "bob"}, alice.lastOnline(t))
	require.Equal(t, []string{"alice", "bob"}, bob.lastOnline(t))

	dir.Unregister("bob", bob)
	require.Equal(t, []string{"alice"}, alice.lastOnline(t))
}

func TestOnlineSnapshotSorted(t *testing.T) {
	dir := NewDirectory()
	dir.Register("carol", &fakeConn{})
	dir.Register("alice", &fakeConn{})
	dir.Register("bob", &fakeConn{})

	require.Equal(t, []string{"alice", "bob", "carol"}, dir.Online())
}
