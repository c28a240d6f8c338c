package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamhive/signal-relay/internal/broadcast"
	"github.com/teamhive/signal-relay/internal/buffer"
	"github.com/teamhive/signal-relay/internal/membership"
	"github.com/teamhive/signal-relay/internal/models"
	"github.com/teamhive/signal-relay/internal/presence"
)

func newTestRelay(t *testing.T) (*Relay, *membership.MemoryMembers, *broadcast.Broadcaster) {
	t.Helper()
	members := membership.NewMemoryMembers()
	store := presence.NewMemoryStore(time.Minute)
	broadcaster := broadcast.New(nil, buffer.NewRing(100))
	return New(members, store, broadcaster), members, broadcaster
}

func join(userID, userName, peerID string) models.SignalEvent {
	return models.InboundSignal{
		Type:   string(models.EventUserJoined),
		UserID: userID, UserName: userName, PeerID: peerID,
	}.Normalize("R")
}

func TestNonMemberRejectedWithoutSideEffects(t *testing.T) {
	r, _, b := newTestRelay(t)

	err := r.Handle(context.Background(), "R", "intruder", join("intruder", "Mallory", ""))
	require.ErrorIs(t, err, ErrNotMember)

	assert.Empty(t, b.Poll("R", 0), "rejected signals must not be buffered")
	roster, err := r.Roster(context.Background(), "R")
	require.NoError(t, err)
	assert.Empty(t, roster)
}

func TestJoinUpsertsAndBroadcastsRoster(t *testing.T) {
	r, members, b := newTestRelay(t)
	ctx := context.Background()
	require.NoError(t, members.Add(ctx, "R", "X"))

	require.NoError(t, r.Handle(ctx, "R", "X", join("X", "Alice", "peer-1")))

	roster, err := r.Roster(ctx, "R")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "X", roster[0].UserID)
	assert.Equal(t, "Alice", roster[0].DisplayName)

	events := b.Poll("R", 0)
	require.Len(t, events, 2, "join should produce the event plus a roster snapshot")
	assert.Equal(t, models.EventUserJoined, events[0].Type)
	assert.Equal(t, models.EventParticipantsUpdate, events[1].Type)

	var payload models.RosterPayload
	require.NoError(t, json.Unmarshal(events[1].Payload, &payload))
	require.Len(t, payload.Participants, 1)
	assert.Equal(t, "X", payload.Participants[0].UserID)
}

func TestLeaveRemovesAndBroadcastsRoster(t *testing.T) {
	r, members, b := newTestRelay(t)
	ctx := context.Background()
	require.NoError(t, members.Add(ctx, "R", "X"))
	require.NoError(t, members.Add(ctx, "R", "Y"))

	require.NoError(t, r.Handle(ctx, "R", "X", join("X", "Alice", "")))
	require.NoError(t, r.Handle(ctx, "R", "Y", join("Y", "Yuri", "")))

	left := models.InboundSignal{Type: string(models.EventUserLeft), UserID: "X"}.Normalize("R")
	require.NoError(t, r.Handle(ctx, "R", "X", left))

	roster, err := r.Roster(ctx, "R")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "Y", roster[0].UserID)

	events := b.Poll("R", 0)
	last := events[len(events)-1]
	require.Equal(t, models.EventParticipantsUpdate, last.Type)
	var payload models.RosterPayload
	require.NoError(t, json.Unmarshal(last.Payload, &payload))
	require.Len(t, payload.Participants, 1)
	assert.Equal(t, "Y", payload.Participants[0].UserID)
}

func TestHeartbeatTouchesWithoutResync(t *testing.T) {
	r, members, b := newTestRelay(t)
	ctx := context.Background()
	require.NoError(t, members.Add(ctx, "R", "X"))

	hb := models.InboundSignal{Type: string(models.EventHeartbeat), UserID: "X"}.Normalize("R")
	require.NoError(t, r.Handle(ctx, "R", "X", hb))

	roster, err := r.Roster(ctx, "R")
	require.NoError(t, err)
	require.Len(t, roster, 1, "a heartbeat from an unknown user creates their presence entry")

	events := b.Poll("R", 0)
	require.Len(t, events, 1, "liveness touches must not emit roster snapshots")
	assert.Equal(t, models.EventHeartbeat, events[0].Type)
}

func TestActorlessPayloadBufferedWithoutPresence(t *testing.T) {
	r, members, b := newTestRelay(t)
	ctx := context.Background()
	require.NoError(t, members.Add(ctx, "R", "X"))

	candidate := models.InboundSignal{
		Type:    string(models.EventICECandidate),
		Payload: json.RawMessage(`{"candidate":"..."}`),
	}.Normalize("R")
	require.NoError(t, r.Handle(ctx, "R", "X", candidate))

	roster, err := r.Roster(ctx, "R")
	require.NoError(t, err)
	assert.Empty(t, roster, "no actor means no presence mutation")
	assert.Len(t, b.Poll("R", 0), 1, "the payload must still reach polling consumers")
}

func TestUnknownActorBearingTypeIsLivenessTouch(t *testing.T) {
	r, members, _ := newTestRelay(t)
	ctx := context.Background()
	require.NoError(t, members.Add(ctx, "R", "X"))

	ev := models.InboundSignal{Type: "screen-share-started", UserID: "X"}.Normalize("R")
	require.NoError(t, r.Handle(ctx, "R", "X", ev))

	roster, err := r.Roster(ctx, "R")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "X", roster[0].UserID)
}
