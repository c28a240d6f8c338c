// Package pion is the webrtc transport behind the peer orchestrator: one
// RTCPeerConnection per remote participant, negotiated over the relay's
// signal endpoint.
package pion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/teamhive/signal-relay/internal/models"
	"github.com/teamhive/signal-relay/internal/peer"
)

// SignalSender delivers negotiation events (offer/answer/ice-candidate)
// to the relay. Implemented by the relay HTTP client.
type SignalSender interface {
	Send(ctx context.Context, event models.SignalEvent) error
}

// NegotiationPayload is the opaque payload the relay passes through
// unmodified. Targeting lives inside the payload since the relay
// broadcasts room-wide; non-addressees drop the event client-side.
type NegotiationPayload struct {
	To        string                     `json:"to"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Dialer creates and tracks peer connections. It implements peer.Dialer
// for the outbound side and routes inbound answers, offers and candidates
// to the right connection.
type Dialer struct {
	selfID string
	sender SignalSender
	media  *Media
	config webrtc.Configuration

	// OnIncoming receives connections initiated by the remote side.
	OnIncoming func(userID, peerID string, conn peer.Connection)

	// OnStateChange receives connection-level state changes for
	// connections the remote side initiated. Outbound dials report
	// through the Dial transition callback instead.
	OnStateChange func(userID string, s peer.Status)

	mu    sync.Mutex
	conns map[string]*Conn // keyed by remote userID
}

func NewDialer(selfID string, sender SignalSender, media *Media) *Dialer {
	return &Dialer{
		selfID: selfID,
		sender: sender,
		media:  media,
		config: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		},
		conns: make(map[string]*Conn),
	}
}

// Dial implements peer.Dialer: builds a connection, attaches local media
// and sends the offer through the relay.
func (d *Dialer) Dial(ctx context.Context, remoteUserID, remotePeerID string, transition func(peer.Status)) (peer.Connection, error) {
	conn, err := d.newConn(remoteUserID, transition)
	if err != nil {
		return nil, err
	}

	offer, err := conn.pc.CreateOffer(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := conn.pc.SetLocalDescription(offer); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	if err := d.sendNegotiation(ctx, models.EventOffer, remoteUserID, &offer, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send offer: %w", err)
	}
	return conn, nil
}

// HandleSignal routes an inbound negotiation event. Events addressed to
// another user, or authored by us, are ignored.
func (d *Dialer) HandleSignal(ctx context.Context, event models.SignalEvent) error {
	if event.UserID == d.selfID || len(event.Payload) == 0 {
		return nil
	}
	var payload NegotiationPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("negotiation payload: %w", err)
	}
	if payload.To != d.selfID {
		return nil
	}

	switch event.Type {
	case models.EventOffer:
		return d.handleOffer(ctx, event, payload)
	case models.EventAnswer:
		return d.handleAnswer(event.UserID, payload)
	case models.EventICECandidate:
		return d.handleCandidate(event.UserID, payload)
	}
	return nil
}

func (d *Dialer) handleOffer(ctx context.Context, event models.SignalEvent, payload NegotiationPayload) error {
	if payload.SDP == nil {
		return fmt.Errorf("offer without sdp from %s", event.UserID)
	}

	// The answering side runs the same state machine as the dialing
	// side: connected/failed transitions flow to the orchestrator so the
	// peer is visible and reconnectable from both ends of the pair.
	conn, err := d.newConn(event.UserID, func(s peer.Status) {
		if d.OnStateChange != nil {
			d.OnStateChange(event.UserID, s)
		}
	})
	if err != nil {
		return err
	}
	if err := conn.pc.SetRemoteDescription(*payload.SDP); err != nil {
		conn.Close()
		return fmt.Errorf("set remote offer: %w", err)
	}

	answer, err := conn.pc.CreateAnswer(nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("create answer: %w", err)
	}
	if err := conn.pc.SetLocalDescription(answer); err != nil {
		conn.Close()
		return fmt.Errorf("set local answer: %w", err)
	}
	if err := d.sendNegotiation(ctx, models.EventAnswer, event.UserID, &answer, nil); err != nil {
		conn.Close()
		return fmt.Errorf("send answer: %w", err)
	}

	if d.OnIncoming != nil {
		d.OnIncoming(event.UserID, event.PeerID, conn)
	}
	return nil
}

func (d *Dialer) handleAnswer(fromUserID string, payload NegotiationPayload) error {
	if payload.SDP == nil {
		return fmt.Errorf("answer without sdp from %s", fromUserID)
	}
	conn := d.lookup(fromUserID)
	if conn == nil {
		return fmt.Errorf("answer from %s with no pending offer", fromUserID)
	}
	return conn.pc.SetRemoteDescription(*payload.SDP)
}

func (d *Dialer) handleCandidate(fromUserID string, payload NegotiationPayload) error {
	if payload.Candidate == nil {
		return fmt.Errorf("ice event without candidate from %s", fromUserID)
	}
	conn := d.lookup(fromUserID)
	if conn == nil {
		// Candidate raced ahead of the offer; dropping is safe, ICE
		// keeps generating candidates.
		return nil
	}
	return conn.pc.AddICECandidate(*payload.Candidate)
}

// newConn builds a peer connection with local media attached and the
// relay-bound ICE and state callbacks installed.
func (d *Dialer) newConn(remoteUserID string, transition func(peer.Status)) (*Conn, error) {
	pc, err := webrtc.NewPeerConnection(d.config)
	if err != nil {
		return nil, fmt.Errorf("peer connection: %w", err)
	}

	conn := &Conn{pc: pc}

	if d.media != nil {
		if _, err := pc.AddTrack(d.media.Audio()); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add audio track: %w", err)
		}
		videoSender, err := pc.AddTrack(d.media.camera)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("add video track: %w", err)
		}
		conn.video = videoSender
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		if err := d.sendNegotiation(context.Background(), models.EventICECandidate, remoteUserID, nil, &init); err != nil {
			log.Warn().Err(err).Str("peer", remoteUserID).Msg("candidate send failed")
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("peer", remoteUserID).Str("state", state.String()).Msg("connection state change")
		if transition == nil {
			return
		}
		switch state {
		case webrtc.PeerConnectionStateConnected:
			transition(peer.StatusConnected)
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			transition(peer.StatusFailed)
		}
	})

	conn.onClose = func() { d.forget(remoteUserID, conn) }

	d.mu.Lock()
	d.conns[remoteUserID] = conn
	d.mu.Unlock()
	return conn, nil
}

func (d *Dialer) lookup(userID string) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[userID]
}

// forget drops the routing entry for a closed connection so late answers
// and candidates are not fed to it. The conn comparison keeps a reconnect
// that replaced the entry from being unregistered by the old close.
func (d *Dialer) forget(userID string, conn *Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conns[userID] == conn {
		delete(d.conns, userID)
	}
}

func (d *Dialer) sendNegotiation(ctx context.Context, eventType models.EventType, to string, sdp *webrtc.SessionDescription, candidate *webrtc.ICECandidateInit) error {
	payload, err := json.Marshal(NegotiationPayload{To: to, SDP: sdp, Candidate: candidate})
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, models.SignalEvent{
		Type:    eventType,
		UserID:  d.selfID,
		Payload: payload,
	})
}

// Conn wraps one RTCPeerConnection. Implements peer.Connection.
type Conn struct {
	pc      *webrtc.PeerConnection
	video   *webrtc.RTPSender
	onClose func()
}

// ReplaceVideo swaps the outgoing video track without renegotiating audio.
func (c *Conn) ReplaceVideo(v peer.VideoSource) error {
	if c.video == nil {
		return fmt.Errorf("connection has no video sender")
	}
	track, ok := v.(webrtc.TrackLocal)
	if !ok {
		return fmt.Errorf("video source %T is not a local track", v)
	}
	return c.video.ReplaceTrack(track)
}

func (c *Conn) Close() error {
	if c.onClose != nil {
		c.onClose()
	}
	return c.pc.Close()
}

var _ peer.Dialer = (*Dialer)(nil)
var _ peer.Connection = (*Conn)(nil)
