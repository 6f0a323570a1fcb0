package client

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	received []string
	failOn   string
}

func (f *fakeSink) Signal(payload json.RawMessage) error {
	s := string(payload)
	if s == f.failOn {
		return errors.New("bad payload")
	}
	f.received = append(f.received, s)
	return nil
}

func TestQueueReplaysInArrivalOrder(t *testing.T) {
	q := newPendingSignalQueue()

	// offer and candidates arrive before the peer exists
	q.Deliver(json.RawMessage(`"offer"`))
	q.Deliver(json.RawMessage(`"ice1"`))
	q.Deliver(json.RawMessage(`"ice2"`))
	require.Equal(t, 3, q.Buffered())

	sink := &fakeSink{}
	q.Attach(sink)

	require.Equal(t, []string{`"offer"`, `"ice1"`, `"ice2"`}, sink.received)
	require.Equal(t, 0, q.Buffered())
}

func TestQueueDrainsExactlyOnce(t *testing.T) {
	q := newPendingSignalQueue()
	q.Deliver(json.RawMessage(`"offer"`))

	sink := &fakeSink{}
	q.Attach(sink)
	require.Equal(t, []string{`"offer"`}, sink.received)

	// Later signals flow straight through, no replay of the buffer.
	q.Deliver(json.RawMessage(`"ice1"`))
	require.Equal(t, []string{`"offer"`, `"ice1"`}, sink.received)
}

func TestQueueEmptyAttach(t *testing.T) {
	q := newPendingSignalQueue()
	sink := &fakeSink{}
	q.Attach(sink)
	require.Empty(t, sink.received)

	q.Deliver(json.RawMessage(`"ice1"`))
	require.Equal(t, []string{`"ice1"`}, sink.received)
}

func TestQueueSinkErrorDoesNotBlockLaterSignals(t *testing.T) {
	q := newPendingSignalQueue()
	q.Deliver(json.RawMessage(`"offer"`))
	q.Deliver(json.RawMessage(`"bad"`))
	q.Deliver(json.RawMessage(`"ice2"`))

	sink := &fakeSink{failOn: `"bad"`}
	q.Attach(sink)

	// The failing payload is dropped, everything else is fed in order.
	require.Equal(t, []string{`"offer"`, `"ice2"`}, sink.received)

	q.Deliver(json.RawMessage(`"ice3"`))
	require.Equal(t, []string{`"offer"`, `"ice2"`, `"ice3"`}, sink.received)
}
