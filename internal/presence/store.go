// Package presence tracks which users are currently in a room's call.
//
// The default implementation is an in-process map, which is only correct
// for a single-instance deployment; the Redis implementation in redis.go
// is the multi-instance variant. Both are reconstructible from client
// re-announcement, so losing the store on restart is recoverable.
package presence

import (
	"context"

	"github.com/teamhive/signal-relay/internal/models"
)

// Store is the roster of live call participants per room.
//
// Upsert on an unknown (room, user) pair creates the participant; on a
// known pair it refreshes displayName/peerId/lastSeenAt only, never
// identity. Remove is idempotent. List returns participants in first-join
// order with stale entries evicted.
type Store interface {
	Upsert(ctx context.Context, roomID, userID, displayName, peerID string) error
	Remove(ctx context.Context, roomID, userID string) error
	List(ctx context.Context, roomID string) ([]models.Participant, error)
}
