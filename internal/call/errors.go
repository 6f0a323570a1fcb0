package call

import "errors"

// The registry reports failures through these sentinels so the HTTP
// layer can map them to distinct status codes: a wrong actor must be
// distinguishable from a missing call and from a call in the wrong
// state.
var (
	ErrNotFound          = errors.New("call not found")
	ErrUnauthorized      = errors.New("not a permitted actor for this call")
	ErrPeerUnreachable   = errors.New("peer is not online")
	ErrInvalidTransition = errors.New("call is not in a state that allows this action")
)
