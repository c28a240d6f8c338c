// Package broadcast delivers signal events over two transports at once:
// best-effort push, and a bounded per-room backlog served to polling
// clients. Push failure never fails a broadcast; the backlog append is
// unconditional.
package broadcast

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/teamhive/signal-relay/internal/buffer"
	"github.com/teamhive/signal-relay/internal/models"
	"github.com/teamhive/signal-relay/internal/transport"
)

type Broadcaster struct {
	push transport.PushChannel
	ring *buffer.Ring
}

// New builds a broadcaster. A nil push channel means polling-only mode.
func New(push transport.PushChannel, ring *buffer.Ring) *Broadcaster {
	if push == nil {
		push = transport.Noop{}
	}
	return &Broadcaster{push: push, ring: ring}
}

// Broadcast appends the event to the room backlog and fires it at the push
// channel. Push errors are logged and swallowed: every consumer has the
// polling fallback and joins/leaves are healed by roster snapshots, so a
// lost push is staleness, not data loss.
func (b *Broadcaster) Broadcast(ctx context.Context, roomID string, event models.SignalEvent) {
	b.ring.Append(roomID, event)

	if err := b.push.Trigger(ctx, roomID, event); err != nil {
		log.Warn().Err(err).
			Str("room", roomID).
			Str("type", string(event.Type)).
			Msg("push delivery failed, polling clients unaffected")
	}
}

// Poll returns the room's retained events newer than since (strict).
func (b *Broadcaster) Poll(roomID string, since int64) []models.SignalEvent {
	return b.ring.Since(roomID, since)
}
