package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/teamhive/signal-relay/internal/models"
	"github.com/teamhive/signal-relay/internal/peer"
	"github.com/teamhive/signal-relay/internal/peer/pion"
)

// CallSession wires the relay client, the peer orchestrator and the pion
// dialer into one call: announce, consume the event feed, dial peers,
// leave cleanly.
type CallSession struct {
	selfID string
	peerID string
	client *Client
	dialer *pion.Dialer
	orc    *peer.Orchestrator
}

func NewCallSession(selfID, peerID string, c *Client, media *pion.Media) *CallSession {
	dialer := pion.NewDialer(selfID, c, media)
	orc := peer.New(selfID, dialer, media, func(ctx context.Context) error {
		return c.Send(ctx, models.SignalEvent{Type: models.EventUserLeft, UserID: selfID})
	})
	dialer.OnIncoming = func(userID, peerID string, conn peer.Connection) {
		if err := orc.AcceptIncoming(userID, peerID, conn); err != nil {
			log.Warn().Err(err).Str("peer", userID).Msg("incoming connection rejected")
		}
	}
	dialer.OnStateChange = orc.UpdateStatus
	return &CallSession{selfID: selfID, peerID: peerID, client: c, dialer: dialer, orc: orc}
}

// Join announces this participant to the room.
func (s *CallSession) Join(ctx context.Context, displayName string) error {
	return s.client.Send(ctx, models.SignalEvent{
		Type:     models.EventUserJoined,
		UserID:   s.selfID,
		UserName: displayName,
		PeerID:   s.peerID,
	})
}

// Run polls the event feed until ctx is canceled.
func (s *CallSession) Run(ctx context.Context, interval time.Duration) {
	s.client.Run(ctx, interval, s.HandleEvent)
}

// HandleEvent dispatches one feed event: roster snapshots and joins drive
// dialing, leaves drive teardown, negotiation events go to the dialer.
func (s *CallSession) HandleEvent(ctx context.Context, event models.SignalEvent) {
	switch event.Type {
	case models.EventParticipantsUpdate:
		var roster models.RosterPayload
		if err := json.Unmarshal(event.Payload, &roster); err != nil {
			log.Warn().Err(err).Msg("bad roster payload")
			return
		}
		s.orc.HandleRoster(ctx, roster.Participants)

	case models.EventUserJoined:
		if event.UserID != "" && event.UserID != s.selfID {
			s.orc.HandleJoined(ctx, models.Participant{
				UserID:      event.UserID,
				DisplayName: event.UserName,
				PeerID:      event.PeerID,
			})
		}

	case models.EventUserLeft:
		if event.UserID != "" {
			s.orc.HandleLeft(event.UserID)
		}

	case models.EventOffer, models.EventAnswer, models.EventICECandidate:
		if err := s.dialer.HandleSignal(ctx, event); err != nil {
			log.Warn().Err(err).Str("type", string(event.Type)).Msg("negotiation event failed")
		}
	}
}

// Heartbeat sends one liveness touch.
func (s *CallSession) Heartbeat(ctx context.Context) error {
	return s.client.Send(ctx, models.SignalEvent{Type: models.EventHeartbeat, UserID: s.selfID})
}

// Peers reports the current per-peer connection states.
func (s *CallSession) Peers() []peer.RemotePeer { return s.orc.Peers() }

// Reconnect re-dials one failed peer.
func (s *CallSession) Reconnect(ctx context.Context, userID string) error {
	return s.orc.Reconnect(ctx, userID)
}

// Leave ends the session with guaranteed resource cleanup.
func (s *CallSession) Leave(ctx context.Context) error {
	return s.orc.Close(ctx)
}
