// Package relay is the single entry point for a room's signaling traffic:
// it authorizes the caller, applies presence mutations by event type and
// hands every accepted event to the dual-transport broadcaster.
package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/teamhive/signal-relay/internal/broadcast"
	"github.com/teamhive/signal-relay/internal/membership"
	"github.com/teamhive/signal-relay/internal/models"
	"github.com/teamhive/signal-relay/internal/presence"
)

// ErrNotMember is returned when the caller is not a member of the room's
// backing project. Nothing is mutated or buffered in that case.
var ErrNotMember = errors.New("caller is not a room member")

type Relay struct {
	members     membership.Checker
	store       presence.Store
	broadcaster *broadcast.Broadcaster
}

func New(members membership.Checker, store presence.Store, broadcaster *broadcast.Broadcaster) *Relay {
	return &Relay{members: members, store: store, broadcaster: broadcaster}
}

// Handle processes one signal for a room on behalf of callerID.
//
// Presence handling by type: user-joined upserts, user-left removes, and
// any other event with an actor counts as a liveness touch. Events without
// an actor (opaque negotiation payloads) skip presence entirely but are
// still broadcast, so ICE candidates and the like are never dropped for
// lacking an identity. Join and leave additionally trigger a synthetic
// full-roster broadcast so clients that missed the original push heal on
// the next snapshot.
//
// Side effects are deliberately not transactional: a push failure inside
// Broadcast rolls nothing back. The caller only learns about authorization
// and persistence failures.
func (r *Relay) Handle(ctx context.Context, roomID, callerID string, event models.SignalEvent) error {
	ok, err := r.members.IsMember(ctx, roomID, callerID)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return ErrNotMember
	}

	resync := false
	switch {
	case event.Type == models.EventUserJoined:
		if event.HasActor() {
			if err := r.store.Upsert(ctx, roomID, event.UserID, event.UserName, event.PeerID); err != nil {
				return fmt.Errorf("presence upsert: %w", err)
			}
			resync = true
		}
	case event.Type == models.EventUserLeft:
		if event.HasActor() {
			if err := r.store.Remove(ctx, roomID, event.UserID); err != nil {
				return fmt.Errorf("presence remove: %w", err)
			}
			resync = true
		}
	case event.HasActor():
		// Liveness touch: heartbeats and any actor-bearing passthrough
		// refresh lastSeenAt, no roster broadcast.
		if err := r.store.Upsert(ctx, roomID, event.UserID, event.UserName, event.PeerID); err != nil {
			return fmt.Errorf("presence touch: %w", err)
		}
	default:
		log.Debug().Str("room", roomID).Str("type", string(event.Type)).
			Msg("actorless signal buffered without presence mutation")
	}

	r.broadcaster.Broadcast(ctx, roomID, event)

	if resync {
		participants, err := r.store.List(ctx, roomID)
		if err != nil {
			// The original event already went out; skip the snapshot and
			// let the next join/leave emit a fresh one.
			log.Warn().Err(err).Str("room", roomID).Msg("roster read failed, skipping resync broadcast")
			return nil
		}
		r.broadcaster.Broadcast(ctx, roomID, models.NewRosterEvent(roomID, participants))
	}
	return nil
}

// Roster returns the room's current participants in first-join order.
func (r *Relay) Roster(ctx context.Context, roomID string) ([]models.Participant, error) {
	return r.store.List(ctx, roomID)
}

// Poll returns buffered events newer than since for polling clients.
func (r *Relay) Poll(roomID string, since int64) []models.SignalEvent {
	return r.broadcaster.Poll(roomID, since)
}
