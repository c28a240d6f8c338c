package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of a signaling event
type EventType string

const (
	EventUserJoined   EventType = "user-joined"
	EventUserLeft     EventType = "user-left"
	EventHeartbeat    EventType = "heartbeat"
	EventOffer        EventType = "offer"
	EventAnswer       EventType = "answer"
	EventICECandidate EventType = "ice-candidate"

	// EventParticipantsUpdate is server-emitted only: a full roster
	// snapshot sent after every join and leave so that clients which
	// missed the original event heal on the next snapshot.
	EventParticipantsUpdate EventType = "participants-update"
)

// SignalEvent is the canonical form of a signaling event after boundary
// normalization. Events are append-only: never mutated once created.
type SignalEvent struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	RoomID    string          `json:"roomId"`
	UserID    string          `json:"userId,omitempty"`
	UserName  string          `json:"userName,omitempty"`
	PeerID    string          `json:"peerId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"` // epoch milliseconds
}

// InboundSignal is the wire shape accepted by the signal endpoint. The
// userId/from and userName/fromName pairs are aliases kept for client
// compatibility; Normalize resolves them to one canonical identity.
type InboundSignal struct {
	Type     string          `json:"type" binding:"required"`
	UserID   string          `json:"userId"`
	From     string          `json:"from"`
	UserName string          `json:"userName"`
	FromName string          `json:"fromName"`
	PeerID   string          `json:"peerId"`
	Payload  json.RawMessage `json:"payload"`
}

// Normalize converts an inbound signal into a canonical event, preferring
// userId/userName over the from/fromName aliases. Events with no resolvable
// actor are still valid (opaque passthrough payloads like ICE candidates);
// they just produce no presence mutation.
func (in InboundSignal) Normalize(roomID string) SignalEvent {
	userID := in.UserID
	if userID == "" {
		userID = in.From
	}
	userName := in.UserName
	if userName == "" {
		userName = in.FromName
	}

	return SignalEvent{
		ID:        uuid.New().String(),
		Type:      EventType(in.Type),
		RoomID:    roomID,
		UserID:    userID,
		UserName:  userName,
		PeerID:    in.PeerID,
		Payload:   in.Payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// HasActor reports whether the event carries a resolvable actor identity.
func (e SignalEvent) HasActor() bool {
	return e.UserID != ""
}

// Participant is one member of a room's live roster
type Participant struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	PeerID      string    `json:"peerId,omitempty"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// RosterPayload is the payload of a participants-update event
type RosterPayload struct {
	Participants []Participant `json:"participants"`
}

// NewRosterEvent builds the synthetic full-roster event broadcast after
// join and leave signals.
func NewRosterEvent(roomID string, participants []Participant) SignalEvent {
	payload, _ := json.Marshal(RosterPayload{Participants: participants})
	return SignalEvent{
		ID:        uuid.New().String(),
		Type:      EventParticipantsUpdate,
		RoomID:    roomID,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}
