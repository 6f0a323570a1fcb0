package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jinfei29/mychat-realtime/internal/models"
)

func newSession(id, caller, receiver string, createdAt time.Time) *models.CallSession {
	return &models.CallSession{
		ID:         id,
		CallerID:   caller,
		ReceiverID: receiver,
		Type:       models.CallTypeAudio,
		Status:     models.CallStatusPending,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sess := newSession("c1", "alice", "bob", time.Now())
	require.NoError(t, s.Create(ctx, sess, []string{"alice", "bob"}))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, sess, got)

	// The returned session is a copy; mutating it must not leak back.
	got.Status = models.CallStatusEnded
	again, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, models.CallStatusPending, again.Status)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.ErrorIs(t, s.Update(ctx, newSession("c1", "a", "b", time.Now())), ErrNotFound)

	sess := newSession("c1", "alice", "bob", time.Now())
	require.NoError(t, s.Create(ctx, sess, []string{"alice", "bob"}))

	sess.Status = models.CallStatusAccepted
	require.NoError(t, s.Update(ctx, sess))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, models.CallStatusAccepted, got.Status)
}

func TestMemoryStoreListByUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()

	require.NoError(t, s.Create(ctx, newSession("c1", "alice", "bob", base), []string{"alice", "bob"}))
	require.NoError(t, s.Create(ctx, newSession("c2", "carol", "alice", base.Add(time.Minute)), []string{"carol", "alice"}))
	require.NoError(t, s.Create(ctx, newSession("c3", "carol", "dave", base.Add(2*time.Minute)), []string{"carol", "dave"}))

	calls, err := s.ListByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, calls, 2)
	// Newest first
	require.Equal(t, "c2", calls[0].ID)
	require.Equal(t, "c1", calls[1].ID)

	calls, err = s.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, calls)
}

func TestMemoryStoreListByUserGroupMembers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sess := newSession("g1", "alice", "", time.Now())
	sess.IsGroupCall = true
	sess.GroupID = "team"
	require.NoError(t, s.Create(ctx, sess, []string{"alice", "bob", "carol"}))

	// Members who never answered still see the session.
	for _, userID := range []string{"alice", "bob", "carol"} {
		calls, err := s.ListByUser(ctx, userID)
		require.NoError(t, err)
		require.Len(t, calls, 1)
		require.Equal(t, "g1", calls[0].ID)
	}

	calls, err := s.ListByUser(ctx, "dave")
	require.NoError(t, err)
	require.Empty(t, calls)
}
