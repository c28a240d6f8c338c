// Package membership answers the one question the relay asks of the
// backing application: is this user a member of the room's project?
package membership

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Checker is the persistence collaborator behind the relay's authorization
// precondition. A lookup error denies signaling; the relay fails fast
// rather than guessing.
type Checker interface {
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
}

const memberKeyTTL = 24 * time.Hour

// RedisMembers keeps room membership in a Redis set, written by the room
// handlers and read by the relay on every signal.
type RedisMembers struct {
	client *redis.Client
}

func NewRedisMembers(client *redis.Client) *RedisMembers {
	return &RedisMembers{client: client}
}

func membersKey(roomID string) string { return "room:" + roomID + ":members" }

func (m *RedisMembers) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	return m.client.SIsMember(ctx, membersKey(roomID), userID).Result()
}

func (m *RedisMembers) Add(ctx context.Context, roomID, userID string) error {
	pipe := m.client.Pipeline()
	pipe.SAdd(ctx, membersKey(roomID), userID)
	pipe.Expire(ctx, membersKey(roomID), memberKeyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (m *RedisMembers) Count(ctx context.Context, roomID string) (int64, error) {
	return m.client.SCard(ctx, membersKey(roomID)).Result()
}

func (m *RedisMembers) Drop(ctx context.Context, roomID string) error {
	return m.client.Del(ctx, membersKey(roomID)).Err()
}

// MemoryMembers is the in-process Checker used in tests and when running
// without Redis.
type MemoryMembers struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

func NewMemoryMembers() *MemoryMembers {
	return &MemoryMembers{rooms: make(map[string]map[string]struct{})}
}

func (m *MemoryMembers) IsMember(_ context.Context, roomID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[roomID][userID]
	return ok, nil
}

func (m *MemoryMembers) Add(_ context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		room = make(map[string]struct{})
		m.rooms[roomID] = room
	}
	room[userID] = struct{}{}
	return nil
}

var _ Checker = (*RedisMembers)(nil)
var _ Checker = (*MemoryMembers)(nil)
