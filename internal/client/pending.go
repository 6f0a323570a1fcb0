package client

import (
	"encoding/json"
	"log"
	"sync"
)

// SignalSink consumes relayed signaling blobs, normally a *Peer.
type SignalSink interface {
	Signal(payload json.RawMessage) error
}

type peerState int

const (
	stateNoPeer peerState = iota
	statePeerReady
)

// pendingSignalQueue absorbs the race between the server relaying
// signals and the local peer connection being constructed: the caller's
// offer can arrive before the receiver has even accepted. Until a sink
// is attached the queue buffers in arrival order; Attach drains the
// buffer exactly once and every later signal flows straight through.
type pendingSignalQueue struct {
	mu    sync.Mutex
	state peerState
	sink  SignalSink
	buf   []json.RawMessage
}

func newPendingSignalQueue() *pendingSignalQueue {
	return &pendingSignalQueue{}
}

// Deliver feeds the payload to the sink, or buffers it while no sink
// exists. A sink error is logged and dropped per-message; it must not
// stop later payloads for the same call.
func (q *pendingSignalQueue) Deliver(payload json.RawMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == stateNoPeer {
		q.buf = append(q.buf, payload)
		return
	}
	q.feed(payload)
}

// Attach transitions NoPeer→PeerReady, replaying the buffer in FIFO
// order. The transition and drain happen under one lock acquisition so
// a concurrent Deliver cannot slip a newer signal ahead of a buffered
// one.
func (q *pendingSignalQueue) Attach(sink SignalSink) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.sink = sink
	q.state = statePeerReady
	for _, payload := range q.buf {
		q.feed(payload)
	}
	q.buf = nil
}

// Buffered returns how many signals are waiting for a peer.
func (q *pendingSignalQueue) Buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

func (q *pendingSignalQueue) feed(payload json.RawMessage) {
	if err := q.sink.Signal(payload); err != nil {
		log.Printf("Dropping signal: %v", err)
	}
}
