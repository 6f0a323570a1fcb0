package models

import (
	"encoding/json"
	"time"
)

// CallType is the media type negotiated for a call
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether the type is one of the supported media types
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallStatus is the lifecycle status of a call session
type CallStatus string

const (
	CallStatusPending  CallStatus = "pending"
	CallStatusAccepted CallStatus = "accepted"
	CallStatusRejected CallStatus = "rejected"
	CallStatusEnded    CallStatus = "ended"
	CallStatusMissed   CallStatus = "missed"
)

// Terminal reports whether the status allows no further transitions
func (s CallStatus) Terminal() bool {
	return s == CallStatusRejected || s == CallStatusEnded || s == CallStatusMissed
}

// CallSession is the durable record of one call attempt. Exactly one of
// ReceiverID and GroupID is set, depending on IsGroupCall. Sessions are
// never deleted; terminal states are retained for history.
type CallSession struct {
	ID          string     `json:"callId" gorm:"primaryKey;column:id"`
	CallerID    string     `json:"callerId" gorm:"index"`
	ReceiverID  string     `json:"receiverId,omitempty" gorm:"index"`
	GroupID     string     `json:"groupId,omitempty" gorm:"index"`
	IsGroupCall bool       `json:"isGroupCall"`
	Type        CallType   `json:"type"`
	Status      CallStatus `json:"status"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// OtherParty returns the private-call counterpart of userID. For group
// calls there is no single counterpart and the empty string is returned.
func (s *CallSession) OtherParty(userID string) string {
	if s.IsGroupCall {
		return ""
	}
	if s.CallerID == userID {
		return s.ReceiverID
	}
	return s.CallerID
}

// InitiateCallRequest is the body of POST /api/calls/initiate
type InitiateCallRequest struct {
	ReceiverID  string   `json:"receiverId"`
	GroupID     string   `json:"groupId"`
	Type        CallType `json:"type" binding:"required"`
	IsGroupCall bool     `json:"isGroupCall"`
}

// SignalRequest is the body of POST /api/calls/signal. The signal blob is
// produced and consumed by the peer-connection layer; the server never
// inspects it.
type SignalRequest struct {
	ReceiverID string          `json:"receiverId" binding:"required"`
	Signal     json.RawMessage `json:"signal" binding:"required"`
	CallID     string          `json:"callId" binding:"required"`
}

// CreateGroupRequest is the body of POST /api/groups
type CreateGroupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"memberIds" binding:"required,min=1"`
}
