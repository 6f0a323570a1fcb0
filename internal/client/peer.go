package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/jinfei29/mychat-realtime/internal/models"
)

// signalBlob is the wire form of one signaling payload: either a
// session description or an ICE candidate. The server relays these
// blobs untouched; only the two peer layers read them.
type signalBlob struct {
	Type      string                   `json:"type,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// Peer wraps one pion PeerConnection for a single call leg. Signals the
// connection produces go out through sendSignal (which posts them to
// the relay); signals from the remote side come in through Signal.
type Peer struct {
	pc         *webrtc.PeerConnection
	initiator  bool
	sendSignal func(payload json.RawMessage)

	mu      sync.Mutex
	started bool
	// Candidates that arrived before the remote description; pion
	// rejects AddICECandidate until one is set.
	earlyCandidates []webrtc.ICECandidateInit
}

// NewPeer creates the peer connection with transceivers matching the
// call's media type. The initiator produces the offer in Start; the
// answerer responds from inside Signal when the offer arrives.
func NewPeer(initiator bool, callType models.CallType, cfg webrtc.Configuration, send func(payload json.RawMessage)) (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to add audio transceiver: %w", err)
	}
	if callType == models.CallTypeVideo {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo); err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to add video transceiver: %w", err)
		}
	}

	p := &Peer{pc: pc, initiator: initiator, sendSignal: send}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		p.emit(signalBlob{Candidate: &init})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Printf("Peer connection state: %s", s)
	})

	return p, nil
}

// Start kicks off negotiation on the initiating side. Calling it again
// once negotiation is underway is a no-op, so the client may invoke it
// from whichever event resolves the counterpart first.
func (p *Peer) Start() error {
	if !p.initiator {
		return nil
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	p.emit(signalBlob{Type: offer.Type.String(), SDP: offer.SDP})
	return nil
}

// Signal feeds one relayed blob into the peer connection. Implements
// SignalSink.
func (p *Peer) Signal(payload json.RawMessage) error {
	var blob signalBlob
	if err := json.Unmarshal(payload, &blob); err != nil {
		return fmt.Errorf("malformed signal payload: %w", err)
	}

	switch {
	case blob.Candidate != nil:
		return p.addCandidate(*blob.Candidate)
	case blob.Type != "":
		return p.setRemoteDescription(blob)
	default:
		return errors.New("empty signal payload")
	}
}

// OnTrack registers a handler for incoming remote media.
func (p *Peer) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.pc.OnTrack(f)
}

func (p *Peer) Close() error {
	return p.pc.Close()
}

func (p *Peer) addCandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if p.pc.RemoteDescription() == nil {
		p.earlyCandidates = append(p.earlyCandidates, c)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

func (p *Peer) setRemoteDescription(blob signalBlob) error {
	desc := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(blob.Type),
		SDP:  blob.SDP,
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	p.mu.Lock()
	early := p.earlyCandidates
	p.earlyCandidates = nil
	p.mu.Unlock()
	for _, c := range early {
		if err := p.pc.AddICECandidate(c); err != nil {
			log.Printf("Failed to add buffered ICE candidate: %v", err)
		}
	}

	if desc.Type == webrtc.SDPTypeOffer {
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("failed to create answer: %w", err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("failed to set local description: %w", err)
		}
		p.emit(signalBlob{Type: answer.Type.String(), SDP: answer.SDP})
	}
	return nil
}

func (p *Peer) emit(blob signalBlob) {
	data, err := json.Marshal(blob)
	if err != nil {
		log.Printf("Failed to marshal signal: %v", err)
		return
	}
	p.sendSignal(data)
}
