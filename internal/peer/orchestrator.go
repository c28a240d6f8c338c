// Package peer implements the client-side call orchestration: one
// connection state machine per remote participant, deterministic initiator
// selection, and guaranteed teardown. The actual transport lives behind
// the Dialer interface (see the pion subpackage).
package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/teamhive/signal-relay/internal/models"
)

// Status is the lifecycle of one remote peer connection:
// connecting -> connected, or connecting -> failed -> (manual reconnect).
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusFailed     Status = "failed"
)

// Connection is an established or in-progress link to one remote peer.
type Connection interface {
	// ReplaceVideo swaps the outgoing video track (camera to screen and
	// back) without touching audio.
	ReplaceVideo(v VideoSource) error
	Close() error
}

// VideoSource is an outgoing video feed. The pion implementation satisfies
// this with its local tracks.
type VideoSource interface {
	ID() string
}

// Media is the local capture session, acquired once per call and shared by
// every peer connection.
type Media interface {
	Video() VideoSource
	Close() error
}

// Dialer initiates a connection to a remote peer. transition is invoked on
// every connection-level state change, possibly from transport goroutines.
type Dialer interface {
	Dial(ctx context.Context, remoteUserID, remotePeerID string, transition func(Status)) (Connection, error)
}

// RemotePeer is the visible state of one remote participant's connection.
type RemotePeer struct {
	UserID string
	PeerID string
	Status Status
}

var (
	ErrClosed      = errors.New("call session closed")
	ErrUnknownPeer = errors.New("unknown peer")
	ErrNotFailed   = errors.New("peer connection is not in the failed state")
)

type peerState struct {
	userID string
	peerID string
	status Status
	conn   Connection
	cancel context.CancelFunc
}

// Orchestrator maintains one peer connection per remote participant in a
// call. All exported methods are safe for concurrent use; each dial runs
// in its own goroutine so connecting to N peers proceeds in parallel.
type Orchestrator struct {
	selfID string
	dialer Dialer
	media  Media
	leave  func(ctx context.Context) error

	mu     sync.Mutex
	peers  map[string]*peerState
	closed bool
}

// New builds an orchestrator for the local identity. leave is the
// best-effort user-left signal emitted once on Close; it may be nil.
func New(selfID string, dialer Dialer, media Media, leave func(ctx context.Context) error) *Orchestrator {
	return &Orchestrator{
		selfID: selfID,
		dialer: dialer,
		media:  media,
		leave:  leave,
		peers:  make(map[string]*peerState),
	}
}

// ShouldInitiate reports whether the local side dials the given remote.
// Exactly one side of every pair initiates: the one whose identity
// compares lexicographically greater. This is a fixed tie-break, not a
// negotiation; both sides must agree on the comparison or both (or
// neither) will dial.
func (o *Orchestrator) ShouldInitiate(remoteUserID string) bool {
	return o.selfID > remoteUserID
}

// HandleRoster reconciles the connection set against a full roster
// snapshot: new participants are dialed (when we are the initiator) and
// connections to absent participants are torn down.
func (o *Orchestrator) HandleRoster(ctx context.Context, participants []models.Participant) {
	present := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		if p.UserID == o.selfID {
			continue
		}
		present[p.UserID] = struct{}{}
		o.HandleJoined(ctx, p)
	}

	o.mu.Lock()
	var gone []string
	for userID := range o.peers {
		if _, ok := present[userID]; !ok {
			gone = append(gone, userID)
		}
	}
	o.mu.Unlock()

	for _, userID := range gone {
		o.HandleLeft(userID)
	}
}

// HandleJoined reacts to one participant appearing: if this side is the
// initiator and no connection exists yet, a dial starts. The non-initiator
// side records nothing and waits for the inbound offer.
func (o *Orchestrator) HandleJoined(ctx context.Context, p models.Participant) {
	if p.UserID == o.selfID || !o.ShouldInitiate(p.UserID) {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if _, ok := o.peers[p.UserID]; ok {
		// Duplicate announcement; the existing state machine stands.
		return
	}
	o.startDialLocked(ctx, p.UserID, p.PeerID)
}

// startDialLocked registers a connecting peer and launches the dial
// goroutine. Caller holds o.mu.
func (o *Orchestrator) startDialLocked(ctx context.Context, userID, peerID string) {
	dialCtx, cancel := context.WithCancel(ctx)
	state := &peerState{
		userID: userID,
		peerID: peerID,
		status: StatusConnecting,
		cancel: cancel,
	}
	o.peers[userID] = state

	go func() {
		conn, err := o.dialer.Dial(dialCtx, userID, peerID, func(s Status) {
			o.transition(userID, s)
		})

		o.mu.Lock()
		defer o.mu.Unlock()
		current, ok := o.peers[userID]
		if !ok || current != state {
			// Peer left or session closed while dialing.
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			log.Warn().Err(err).Str("peer", userID).Msg("dial failed")
			current.status = StatusFailed
			return
		}
		if current.status == StatusFailed {
			// The transport reported failure before the dial returned;
			// don't hand a live connection to a failed entry.
			conn.Close()
			return
		}
		current.conn = conn
	}()
}

// AcceptIncoming registers a connection initiated by the remote side.
func (o *Orchestrator) AcceptIncoming(userID, peerID string, conn Connection) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		conn.Close()
		return ErrClosed
	}
	if existing, ok := o.peers[userID]; ok && existing.conn != nil {
		existing.conn.Close()
	}
	o.peers[userID] = &peerState{
		userID: userID,
		peerID: peerID,
		status: StatusConnecting,
		conn:   conn,
		cancel: func() {},
	}
	return nil
}

// UpdateStatus records a connection-level state change for one peer.
// Outbound connections report through the Dial transition callback; the
// answering side reports here via the dialer's state-change hook.
func (o *Orchestrator) UpdateStatus(userID string, s Status) {
	o.transition(userID, s)
}

func (o *Orchestrator) transition(userID string, s Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	state, ok := o.peers[userID]
	if !ok {
		return
	}
	state.status = s
	if s == StatusFailed && state.conn != nil {
		// Failure is per-peer, never fatal to the session: tear this
		// connection down and leave the entry for a manual reconnect.
		state.conn.Close()
		state.conn = nil
	}
}

// HandleLeft tears down the connection to a departed participant.
func (o *Orchestrator) HandleLeft(userID string) {
	o.mu.Lock()
	state, ok := o.peers[userID]
	if ok {
		delete(o.peers, userID)
	}
	o.mu.Unlock()

	if !ok {
		return
	}
	state.cancel()
	if state.conn != nil {
		state.conn.Close()
	}
	log.Debug().Str("peer", userID).Msg("peer connection torn down")
}

// Reconnect re-dials a failed peer using its last known roster entry.
func (o *Orchestrator) Reconnect(ctx context.Context, userID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	state, ok := o.peers[userID]
	if !ok {
		return ErrUnknownPeer
	}
	if state.status != StatusFailed {
		return ErrNotFailed
	}
	o.startDialLocked(ctx, state.userID, state.peerID)
	return nil
}

// SetVideoSource swaps the outgoing video track on every live connection.
// Audio is untouched. Errors on individual connections are logged and do
// not stop the swap on the rest.
func (o *Orchestrator) SetVideoSource(v VideoSource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for userID, state := range o.peers {
		if state.conn == nil {
			continue
		}
		if err := state.conn.ReplaceVideo(v); err != nil {
			log.Warn().Err(err).Str("peer", userID).Msg("video track swap failed")
		}
	}
}

// Peers returns a snapshot of all tracked remote peers.
func (o *Orchestrator) Peers() []RemotePeer {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]RemotePeer, 0, len(o.peers))
	for _, s := range o.peers {
		out = append(out, RemotePeer{UserID: s.userID, PeerID: s.peerID, Status: s.status})
	}
	return out
}

// Close ends the call session: it emits one best-effort user-left signal,
// then cancels in-flight dials, closes every connection and releases local
// media. Cleanup always runs, whether or not the leave signal goes out.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	peers := make([]*peerState, 0, len(o.peers))
	for _, s := range o.peers {
		peers = append(peers, s)
	}
	o.peers = make(map[string]*peerState)
	o.mu.Unlock()

	defer func() {
		for _, s := range peers {
			s.cancel()
			if s.conn != nil {
				s.conn.Close()
			}
		}
		if o.media != nil {
			if err := o.media.Close(); err != nil {
				log.Warn().Err(err).Msg("media release failed")
			}
		}
	}()

	if o.leave != nil {
		if err := o.leave(ctx); err != nil {
			log.Warn().Err(err).Msg("leave signal failed, proceeding with teardown")
			return fmt.Errorf("leave signal: %w", err)
		}
	}
	return nil
}
