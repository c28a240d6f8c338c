// Package buffer holds the per-room polling backlog: a bounded FIFO of
// recent signal events for clients without a working push transport.
package buffer

import (
	"sync"

	"github.com/teamhive/signal-relay/internal/models"
)

// Ring retains the most recent events per room, oldest evicted first.
// Overflow is defined behavior, not an error: pollers that fall behind the
// window rely on the periodic roster snapshot to resynchronize, never on
// full event replay.
type Ring struct {
	mu       sync.RWMutex
	capacity int
	rooms    map[string][]models.SignalEvent
}

func NewRing(capacity int) *Ring {
	return &Ring{
		capacity: capacity,
		rooms:    make(map[string][]models.SignalEvent),
	}
}

// Append adds an event to the room's backlog, evicting the oldest entry
// once the backlog exceeds capacity.
func (r *Ring) Append(roomID string, event models.SignalEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := append(r.rooms[roomID], event)
	if len(events) > r.capacity {
		events = events[len(events)-r.capacity:]
	}
	r.rooms[roomID] = events
}

// Since returns the room's retained events with timestamp strictly greater
// than since, in insertion order.
func (r *Ring) Since(roomID string, since int64) []models.SignalEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.rooms[roomID]
	out := make([]models.SignalEvent, 0, len(events))
	for _, e := range events {
		if e.Timestamp > since {
			out = append(out, e)
		}
	}
	return out
}

// DropRoom discards a room's backlog. Called when the room is deleted.
func (r *Ring) DropRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
}
