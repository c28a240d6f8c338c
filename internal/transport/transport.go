// Package transport implements the push side of event delivery. The relay
// treats push as fire-and-forget: an error from Trigger is logged by the
// broadcaster and never surfaced to the signaling caller.
package transport

import (
	"context"

	"github.com/teamhive/signal-relay/internal/models"
)

// PushChannel delivers an event to every live subscriber of a room.
// Implementations: Hub (in-process websockets), RedisChannel (pub/sub
// fan-out across instances) and Noop (polling-only mode).
type PushChannel interface {
	Trigger(ctx context.Context, roomID string, event models.SignalEvent) error
}

// Noop is the absent push transport: clients fall back to polling.
type Noop struct{}

func (Noop) Trigger(context.Context, string, models.SignalEvent) error { return nil }
