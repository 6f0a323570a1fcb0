package models

import "encoding/json"

// Realtime event names pushed to clients over the websocket
const (
	EventOnlineUsers   = "getOnlineUsers"
	EventIncomingCall  = "incomingCall"
	EventCallAccepted  = "callAccepted"
	EventCallRejected  = "callRejected"
	EventCallEnded     = "callEnded"
	EventCallMissed    = "callMissed"
	EventSignalingData = "signalingData"
)

// Event is the wire frame for every server-to-client push
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IncomingCallPayload rings a receiver (or each group member)
type IncomingCallPayload struct {
	CallID      string   `json:"callId"`
	CallerID    string   `json:"callerId"`
	Type        CallType `json:"type"`
	GroupID     string   `json:"groupId,omitempty"`
	IsGroupCall bool     `json:"isGroupCall"`
}

// CallAnsweredPayload notifies the caller of an accept or reject
type CallAnsweredPayload struct {
	CallID     string `json:"callId"`
	ReceiverID string `json:"receiverId"`
}

// CallEndedPayload notifies the remaining participant(s); UserID is whoever
// hung up
type CallEndedPayload struct {
	CallID string `json:"callId"`
	UserID string `json:"userId"`
}

// CallMissedPayload notifies both parties of a ring timeout
type CallMissedPayload struct {
	CallID string `json:"callId"`
}

// SignalingPayload carries one relayed signaling blob
type SignalingPayload struct {
	Signal   json.RawMessage `json:"signal"`
	CallID   string          `json:"callId"`
	SenderID string          `json:"senderId"`
}
