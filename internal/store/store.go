// Package store persists call sessions. Sessions survive process
// restarts and are never deleted; terminal states remain queryable as
// call history.
package store

import (
	"context"
	"errors"

	"github.com/jinfei29/mychat-realtime/internal/models"
)

// ErrNotFound is returned when no session exists for the given id.
var ErrNotFound = errors.New("call session not found")

type CallStore interface {
	// Create persists the session and indexes it for each participant.
	// For a private call the participants are caller and receiver; for
	// a group call, every member of the group at initiation time.
	Create(ctx context.Context, call *models.CallSession, participants []string) error
	Get(ctx context.Context, id string) (*models.CallSession, error)
	Update(ctx context.Context, call *models.CallSession) error
	// ListByUser returns every session the user participated in,
	// newest first.
	ListByUser(ctx context.Context, userID string) ([]models.CallSession, error)
}
