// Package call owns the call-session state machine: who may move a
// session between pending, accepted, rejected, ended and missed, and
// which realtime events each transition emits.
package call

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jinfei29/mychat-realtime/internal/group"
	"github.com/jinfei29/mychat-realtime/internal/models"
	"github.com/jinfei29/mychat-realtime/internal/presence"
	"github.com/jinfei29/mychat-realtime/internal/relay"
	"github.com/jinfei29/mychat-realtime/internal/store"
)

type Registry struct {
	// mu serializes every load-check-save transition span. Handlers run
	// on separate goroutines, so a racing accept and end on the same
	// call would otherwise both pass their status check.
	mu sync.Mutex

	store       store.CallStore
	groups      group.Directory
	relay       *relay.Relay
	presence    *presence.Directory
	ringTimeout time.Duration
}

func NewRegistry(st store.CallStore, groups group.Directory, rly *relay.Relay, dir *presence.Directory, ringTimeout time.Duration) *Registry {
	return &Registry{
		store:       st,
		groups:      groups,
		relay:       rly,
		presence:    dir,
		ringTimeout: ringTimeout,
	}
}

// Initiate creates a pending session and rings the receiver (or every
// group member except the caller). A private call to an offline
// receiver fails with ErrPeerUnreachable before anything is persisted.
func (r *Registry) Initiate(ctx context.Context, callerID string, req models.InitiateCallRequest) (*models.CallSession, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown call type %q", ErrInvalidTransition, req.Type)
	}

	now := time.Now()
	sess := &models.CallSession{
		ID:          uuid.NewString(),
		CallerID:    callerID,
		IsGroupCall: req.IsGroupCall,
		Type:        req.Type,
		Status:      models.CallStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if req.IsGroupCall {
		g, err := r.groups.Get(ctx, req.GroupID)
		if err == group.ErrNotFound {
			return nil, fmt.Errorf("%w: group %s", ErrNotFound, req.GroupID)
		}
		if err != nil {
			return nil, err
		}
		if !g.Contains(callerID) {
			return nil, fmt.Errorf("%w: caller is not a member of group %s", ErrUnauthorized, g.ID)
		}

		sess.GroupID = g.ID
		// Every member is a participant; members who never pick up
		// still see the call in their history.
		if err := r.store.Create(ctx, sess, participants(g.Members, callerID)); err != nil {
			return nil, err
		}

		ring := models.IncomingCallPayload{
			CallID:      sess.ID,
			CallerID:    callerID,
			Type:        sess.Type,
			GroupID:     g.ID,
			IsGroupCall: true,
		}
		for _, member := range g.Members {
			if member != callerID {
				r.relay.Deliver(member, models.EventIncomingCall, ring)
			}
		}
	} else {
		if _, online := r.presence.Lookup(req.ReceiverID); !online {
			return nil, fmt.Errorf("%w: %s", ErrPeerUnreachable, req.ReceiverID)
		}

		sess.ReceiverID = req.ReceiverID
		if err := r.store.Create(ctx, sess, []string{callerID, req.ReceiverID}); err != nil {
			return nil, err
		}

		r.relay.Deliver(req.ReceiverID, models.EventIncomingCall, models.IncomingCallPayload{
			CallID:      sess.ID,
			CallerID:    callerID,
			Type:        sess.Type,
			IsGroupCall: false,
		})
	}

	r.scheduleRingTimeout(sess.ID)
	return sess, nil
}

// Accept transitions pending→accepted and notifies the caller. Only the
// stored receiver may accept; for group calls, any member except the
// caller. Later group accepts while the session is already accepted are
// valid and open further 1:1 legs without touching the record again.
func (r *Registry) Accept(ctx context.Context, callID, userID string) (*models.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if err := r.authorizeAnswer(ctx, sess, userID); err != nil {
		return nil, err
	}

	switch sess.Status {
	case models.CallStatusPending:
		now := time.Now()
		sess.Status = models.CallStatusAccepted
		sess.StartTime = &now
		sess.UpdatedAt = now
		if err := r.store.Update(ctx, sess); err != nil {
			return nil, err
		}
	case models.CallStatusAccepted:
		// Additional group legs join an already-accepted session.
		if !sess.IsGroupCall {
			return nil, fmt.Errorf("%w: call is %s", ErrInvalidTransition, sess.Status)
		}
	default:
		return nil, fmt.Errorf("%w: call is %s", ErrInvalidTransition, sess.Status)
	}

	r.relay.Deliver(sess.CallerID, models.EventCallAccepted, models.CallAnsweredPayload{
		CallID:     sess.ID,
		ReceiverID: userID,
	})
	return sess, nil
}

// Reject notifies the caller that userID declined. A private call
// transitions pending→rejected; a group member's reject leaves the
// shared session alone so other members can still pick up.
func (r *Registry) Reject(ctx context.Context, callID, userID string) (*models.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if err := r.authorizeAnswer(ctx, sess, userID); err != nil {
		return nil, err
	}

	if sess.IsGroupCall {
		if sess.Status.Terminal() {
			return nil, fmt.Errorf("%w: call is %s", ErrInvalidTransition, sess.Status)
		}
	} else {
		if sess.Status != models.CallStatusPending {
			return nil, fmt.Errorf("%w: call is %s", ErrInvalidTransition, sess.Status)
		}
		sess.Status = models.CallStatusRejected
		sess.UpdatedAt = time.Now()
		if err := r.store.Update(ctx, sess); err != nil {
			return nil, err
		}
	}

	r.relay.Deliver(sess.CallerID, models.EventCallRejected, models.CallAnsweredPayload{
		CallID:     sess.ID,
		ReceiverID: userID,
	})
	return sess, nil
}

// End moves any non-terminal session to ended and notifies the other
// participant(s). Ending a still-pending call cancels it. Either
// participant may end; a second end is an invalid transition and leaves
// endTime untouched.
func (r *Registry) End(ctx context.Context, callID, userID string) (*models.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if err := r.authorizeParticipant(ctx, sess, userID); err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, fmt.Errorf("%w: call is %s", ErrInvalidTransition, sess.Status)
	}

	now := time.Now()
	sess.Status = models.CallStatusEnded
	sess.EndTime = &now
	sess.UpdatedAt = now
	if err := r.store.Update(ctx, sess); err != nil {
		return nil, err
	}

	ended := models.CallEndedPayload{CallID: sess.ID, UserID: userID}
	if sess.IsGroupCall {
		// The caller is a member too; track who was told so nobody is
		// notified twice.
		notified := map[string]bool{userID: true}
		if g, err := r.groups.Get(ctx, sess.GroupID); err == nil {
			for _, member := range g.Members {
				if !notified[member] {
					r.relay.Deliver(member, models.EventCallEnded, ended)
					notified[member] = true
				}
			}
		}
		if !notified[sess.CallerID] {
			r.relay.Deliver(sess.CallerID, models.EventCallEnded, ended)
		}
	} else {
		r.relay.Deliver(sess.OtherParty(userID), models.EventCallEnded, ended)
	}
	return sess, nil
}

// RelaySignal forwards one opaque signaling blob to the target's live
// connection. The payload is never inspected and never queued on the
// server; buffering ahead of peer creation is the receiving client's
// concern. An offline target is a hard failure so the sender's peer
// layer can stop negotiating.
func (r *Registry) RelaySignal(senderID string, req models.SignalRequest) error {
	delivered := r.relay.Deliver(req.ReceiverID, models.EventSignalingData, models.SignalingPayload{
		Signal:   req.Signal,
		CallID:   req.CallID,
		SenderID: senderID,
	})
	if !delivered {
		return fmt.Errorf("%w: %s", ErrPeerUnreachable, req.ReceiverID)
	}
	return nil
}

// History returns the user's call records, newest first.
func (r *Registry) History(ctx context.Context, userID string) ([]models.CallSession, error) {
	return r.store.ListByUser(ctx, userID)
}

func (r *Registry) load(ctx context.Context, callID string) (*models.CallSession, error) {
	sess, err := r.store.Get(ctx, callID)
	if err == store.ErrNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	return sess, err
}

// authorizeAnswer checks that userID may accept or reject: the stored
// receiver for private calls, any member except the caller for group
// calls.
func (r *Registry) authorizeAnswer(ctx context.Context, sess *models.CallSession, userID string) error {
	if sess.IsGroupCall {
		g, err := r.groups.Get(ctx, sess.GroupID)
		if err != nil {
			return fmt.Errorf("%w: group %s", ErrNotFound, sess.GroupID)
		}
		if userID == sess.CallerID || !g.Contains(userID) {
			return fmt.Errorf("%w: user %s may not answer call %s", ErrUnauthorized, userID, sess.ID)
		}
		return nil
	}
	if sess.ReceiverID != userID {
		return fmt.Errorf("%w: user %s may not answer call %s", ErrUnauthorized, userID, sess.ID)
	}
	return nil
}

func (r *Registry) authorizeParticipant(ctx context.Context, sess *models.CallSession, userID string) error {
	if sess.IsGroupCall {
		if userID == sess.CallerID {
			return nil
		}
		g, err := r.groups.Get(ctx, sess.GroupID)
		if err != nil {
			return fmt.Errorf("%w: group %s", ErrNotFound, sess.GroupID)
		}
		if !g.Contains(userID) {
			return fmt.Errorf("%w: user %s is not a participant of call %s", ErrUnauthorized, userID, sess.ID)
		}
		return nil
	}
	if userID != sess.CallerID && userID != sess.ReceiverID {
		return fmt.Errorf("%w: user %s is not a participant of call %s", ErrUnauthorized, userID, sess.ID)
	}
	return nil
}

// scheduleRingTimeout is the only path that produces the missed status:
// if nobody answered within the ring window, the session is closed out
// and both sides are told. A zero timeout disables the policy.
func (r *Registry) scheduleRingTimeout(callID string) {
	if r.ringTimeout <= 0 {
		return
	}
	time.AfterFunc(r.ringTimeout, func() { r.expire(callID) })
}

// participants returns the member list with the caller guaranteed
// present and duplicates removed.
func participants(members []string, callerID string) []string {
	seen := map[string]bool{callerID: true}
	out := []string{callerID}
	for _, m := range members {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func (r *Registry) expire(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx := context.Background()
	sess, err := r.store.Get(ctx, callID)
	if err != nil {
		log.Printf("Ring timeout for call %s: %v", callID, err)
		return
	}
	if sess.Status != models.CallStatusPending {
		return
	}

	sess.Status = models.CallStatusMissed
	sess.UpdatedAt = time.Now()
	if err := r.store.Update(ctx, sess); err != nil {
		log.Printf("Failed to mark call %s missed: %v", callID, err)
		return
	}
	log.Printf("Call %s missed after %s ring timeout", callID, r.ringTimeout)

	missed := models.CallMissedPayload{CallID: sess.ID}
	r.relay.Deliver(sess.CallerID, models.EventCallMissed, missed)
	if sess.IsGroupCall {
		if g, err := r.groups.Get(ctx, sess.GroupID); err == nil {
			for _, member := range g.Members {
				if member != sess.CallerID {
					r.relay.Deliver(member, models.EventCallMissed, missed)
				}
			}
		}
	} else {
		r.relay.Deliver(sess.ReceiverID, models.EventCallMissed, missed)
	}
}
