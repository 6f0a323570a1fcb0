// Package client is a headless counterpart to the browser frontend: it
// consumes the realtime event stream, drives call setup over REST and
// owns the per-call signaling queue and peer connection.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"github.com/jinfei29/mychat-realtime/internal/models"
)

// Callbacks surfaces call lifecycle changes to the embedding
// application. All callbacks are optional and run on the event-loop
// goroutine, so they must not block.
type Callbacks struct {
	OnOnlineUsers  func(users []string)
	OnIncomingCall func(models.IncomingCallPayload)
	OnCallAccepted func(models.CallAnsweredPayload)
	OnCallRejected func(models.CallAnsweredPayload)
	OnCallEnded    func(models.CallEndedPayload)
	OnCallMissed   func(models.CallMissedPayload)
}

type Client struct {
	baseURL   string
	userID    string
	token     string
	http      *http.Client
	ws        *websocket.Conn
	rtcConfig webrtc.Configuration
	callbacks Callbacks

	mu           sync.Mutex
	current      *models.CallSession
	incoming     *models.IncomingCallPayload
	queue        *pendingSignalQueue
	peer         *Peer
	signalTarget string
	acceptedAt   time.Time
	online       []string

	done chan struct{}
}

// Dial logs the websocket in with the given token and starts the event
// loop. baseURL is the http(s) root of the realtime server.
func Dial(ctx context.Context, baseURL, userID, token string, rtcConfig webrtc.Configuration, cb Callbacks) (*Client, error) {
	wsURL, err := websocketURL(baseURL, token)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect realtime socket: %w", err)
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userID:    userID,
		token:     token,
		http:      &http.Client{Timeout: 10 * time.Second},
		ws:        conn,
		rtcConfig: rtcConfig,
		callbacks: cb,
		done:      make(chan struct{}),
	}
	go c.eventLoop()
	return c, nil
}

func websocketURL(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = "token=" + url.QueryEscape(token)
	return u.String(), nil
}

// Close terminates the realtime connection. Any active call should be
// hung up first.
func (c *Client) Close() error {
	return c.ws.Close()
}

// Done is closed when the event loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// UserID returns the identity this client authenticated as.
func (c *Client) UserID() string {
	return c.userID
}

// Online returns the last online-user snapshot the server pushed.
func (c *Client) Online() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.online...)
}

// InitiateCall starts a private call. The peer connection is created
// immediately, so any answer signals that beat the callAccepted event
// are consumed rather than queued indefinitely.
func (c *Client) InitiateCall(ctx context.Context, receiverID string, callType models.CallType) (*models.CallSession, error) {
	var sess models.CallSession
	err := c.post(ctx, "/api/calls/initiate", models.InitiateCallRequest{
		ReceiverID: receiverID,
		Type:       callType,
	}, &sess)
	if err != nil {
		return nil, err
	}

	if err := c.startLeg(&sess, true, receiverID); err != nil {
		return nil, err
	}
	return &sess, nil
}

// InitiateGroupCall rings every member of the group. The signaling
// target is resolved when the first member accepts.
func (c *Client) InitiateGroupCall(ctx context.Context, groupID string, callType models.CallType) (*models.CallSession, error) {
	var sess models.CallSession
	err := c.post(ctx, "/api/calls/initiate", models.InitiateCallRequest{
		GroupID:     groupID,
		IsGroupCall: true,
		Type:        callType,
	}, &sess)
	if err != nil {
		return nil, err
	}

	if err := c.startLeg(&sess, true, ""); err != nil {
		return nil, err
	}
	return &sess, nil
}

// AcceptCall answers the currently ringing call and attaches a peer,
// draining any signals that arrived while the user decided.
func (c *Client) AcceptCall(ctx context.Context) (*models.CallSession, error) {
	c.mu.Lock()
	incoming := c.incoming
	c.mu.Unlock()
	if incoming == nil {
		return nil, fmt.Errorf("no incoming call to accept")
	}

	var sess models.CallSession
	if err := c.post(ctx, "/api/calls/"+incoming.CallID+"/accept", nil, &sess); err != nil {
		return nil, err
	}

	if err := c.startLeg(&sess, false, incoming.CallerID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.acceptedAt = time.Now()
	c.mu.Unlock()
	return &sess, nil
}

// RejectCall declines the currently ringing call.
func (c *Client) RejectCall(ctx context.Context) error {
	c.mu.Lock()
	incoming := c.incoming
	c.mu.Unlock()
	if incoming == nil {
		return fmt.Errorf("no incoming call to reject")
	}

	var sess models.CallSession
	if err := c.post(ctx, "/api/calls/"+incoming.CallID+"/reject", nil, &sess); err != nil {
		return err
	}
	c.teardown()
	return nil
}

// Hangup ends the active call (or cancels one still ringing out).
func (c *Client) Hangup(ctx context.Context) error {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()
	if current == nil {
		return fmt.Errorf("no active call")
	}

	var sess models.CallSession
	if err := c.post(ctx, "/api/calls/"+current.ID+"/end", nil, &sess); err != nil {
		return err
	}
	c.teardown()
	return nil
}

// Duration reports how long the current call has been connected; zero
// before accept.
func (c *Client) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.acceptedAt.IsZero() {
		return 0
	}
	return time.Since(c.acceptedAt)
}

// History fetches the user's call records.
func (c *Client) History(ctx context.Context) ([]models.CallSession, error) {
	var calls []models.CallSession
	if err := c.get(ctx, "/api/calls/history", &calls); err != nil {
		return nil, err
	}
	return calls, nil
}

// startLeg installs the session, builds the peer and attaches it to the
// signal queue (draining anything already buffered). When the target is
// not known yet (a group call nobody has accepted) negotiation waits;
// the event that pins the counterpart starts the peer so the offer goes
// somewhere instead of being dropped.
func (c *Client) startLeg(sess *models.CallSession, initiator bool, target string) error {
	peer, err := NewPeer(initiator, sess.Type, c.rtcConfig, c.outboundSignal(sess.ID))
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.current = sess
	c.signalTarget = target
	c.peer = peer
	if c.queue == nil {
		c.queue = newPendingSignalQueue()
	}
	queue := c.queue
	c.mu.Unlock()

	queue.Attach(peer)
	if target == "" {
		return nil
	}
	if err := peer.Start(); err != nil {
		c.teardown()
		return err
	}
	return nil
}

// outboundSignal posts locally produced signals to the relay endpoint.
// Send failures are logged and dropped; one lost candidate must not
// abort the negotiation.
func (c *Client) outboundSignal(callID string) func(payload json.RawMessage) {
	return func(payload json.RawMessage) {
		c.mu.Lock()
		target := c.signalTarget
		c.mu.Unlock()
		if target == "" {
			log.Printf("No signaling target yet for call %s, dropping outbound signal", callID)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := c.post(ctx, "/api/calls/signal", models.SignalRequest{
			ReceiverID: target,
			Signal:     payload,
			CallID:     callID,
		}, nil)
		if err != nil {
			log.Printf("Failed to send signal for call %s: %v", callID, err)
		}
	}
}

func (c *Client) eventLoop() {
	defer close(c.done)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("Malformed event frame: %v", err)
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev models.Event) {
	switch ev.Name {
	case models.EventOnlineUsers:
		var users []string
		if err := json.Unmarshal(ev.Data, &users); err != nil {
			log.Printf("Malformed %s payload: %v", ev.Name, err)
			return
		}
		c.mu.Lock()
		c.online = users
		c.mu.Unlock()
		if c.callbacks.OnOnlineUsers != nil {
			c.callbacks.OnOnlineUsers(users)
		}

	case models.EventIncomingCall:
		var p models.IncomingCallPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			log.Printf("Malformed %s payload: %v", ev.Name, err)
			return
		}
		c.mu.Lock()
		c.incoming = &p
		// The queue exists from the moment the call rings; signals may
		// arrive before the user accepts and the peer exists.
		c.queue = newPendingSignalQueue()
		c.mu.Unlock()
		if c.callbacks.OnIncomingCall != nil {
			c.callbacks.OnIncomingCall(p)
		}

	case models.EventCallAccepted:
		var p models.CallAnsweredPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			log.Printf("Malformed %s payload: %v", ev.Name, err)
			return
		}
		c.mu.Lock()
		c.acceptedAt = time.Now()
		// For a group call the first accepting member becomes the
		// signaling counterpart; negotiation was held back until now.
		var startPeer *Peer
		if c.signalTarget == "" {
			c.signalTarget = p.ReceiverID
			startPeer = c.peer
		}
		c.mu.Unlock()
		if startPeer != nil {
			if err := startPeer.Start(); err != nil {
				log.Printf("Failed to start negotiation for call %s: %v", p.CallID, err)
			}
		}
		if c.callbacks.OnCallAccepted != nil {
			c.callbacks.OnCallAccepted(p)
		}

	case models.EventCallRejected:
		var p models.CallAnsweredPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			log.Printf("Malformed %s payload: %v", ev.Name, err)
			return
		}
		c.teardown()
		if c.callbacks.OnCallRejected != nil {
			c.callbacks.OnCallRejected(p)
		}

	case models.EventCallEnded:
		var p models.CallEndedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			log.Printf("Malformed %s payload: %v", ev.Name, err)
			return
		}
		c.teardown()
		if c.callbacks.OnCallEnded != nil {
			c.callbacks.OnCallEnded(p)
		}

	case models.EventCallMissed:
		var p models.CallMissedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			log.Printf("Malformed %s payload: %v", ev.Name, err)
			return
		}
		c.teardown()
		if c.callbacks.OnCallMissed != nil {
			c.callbacks.OnCallMissed(p)
		}

	case models.EventSignalingData:
		var p models.SignalingPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			log.Printf("Malformed %s payload: %v", ev.Name, err)
			return
		}
		c.handleSignal(p)

	default:
		log.Printf("Unknown event: %s", ev.Name)
	}
}

// handleSignal routes a relayed signal to the current call's queue.
// Signals for any other call id are dropped: they belong to a call that
// already ended or was never ours.
func (c *Client) handleSignal(p models.SignalingPayload) {
	c.mu.Lock()
	activeID := ""
	if c.current != nil {
		activeID = c.current.ID
	} else if c.incoming != nil {
		activeID = c.incoming.CallID
	}
	queue := c.queue
	var startPeer *Peer
	if queue != nil && p.CallID == activeID && c.signalTarget == "" {
		// First signal from a group member pins the counterpart.
		c.signalTarget = p.SenderID
		startPeer = c.peer
	}
	c.mu.Unlock()

	if startPeer != nil {
		if err := startPeer.Start(); err != nil {
			log.Printf("Failed to start negotiation for call %s: %v", p.CallID, err)
		}
	}
	if queue == nil || p.CallID != activeID {
		log.Printf("Dropping signal for call %s (active: %q)", p.CallID, activeID)
		return
	}
	queue.Deliver(p.Signal)
}

// teardown resets all per-call state and closes the peer.
func (c *Client) teardown() {
	c.mu.Lock()
	peer := c.peer
	c.current = nil
	c.incoming = nil
	c.queue = nil
	c.peer = nil
	c.signalTarget = ""
	c.acceptedAt = time.Time{}
	c.mu.Unlock()

	if peer != nil {
		peer.Close()
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", req.Method, req.URL.Path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
