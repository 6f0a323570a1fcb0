// Package group resolves group-chat membership for group calls. Group
// content (messages, announcements) lives in the excluded chat layer;
// this core only needs existence and the member set.
package group

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("group not found")

type Group struct {
	ID        string    `json:"groupId"`
	Name      string    `json:"name,omitempty"`
	CreatorID string    `json:"creatorId"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

// Contains reports whether userID is a member of the group.
func (g *Group) Contains(userID string) bool {
	for _, id := range g.Members {
		if id == userID {
			return true
		}
	}
	return false
}

type Directory interface {
	Create(ctx context.Context, g *Group) error
	Get(ctx context.Context, id string) (*Group, error)
}
