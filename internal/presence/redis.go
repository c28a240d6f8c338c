package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teamhive/signal-relay/internal/models"
)

const roomKeyTTL = 24 * time.Hour

// RedisStore is the multi-instance Store: one hash per room for participant
// data and one sorted set for first-join ordering. Key TTLs keep abandoned
// rooms from lingering.
type RedisStore struct {
	client     *redis.Client
	staleAfter time.Duration
	now        func() time.Time
}

func NewRedisStore(client *redis.Client, staleAfter time.Duration) *RedisStore {
	return &RedisStore{client: client, staleAfter: staleAfter, now: time.Now}
}

func dataKey(roomID string) string  { return "presence:" + roomID }
func orderKey(roomID string) string { return "presence:" + roomID + ":order" }

func (s *RedisStore) Upsert(ctx context.Context, roomID, userID, displayName, peerID string) error {
	existing, err := s.client.HGet(ctx, dataKey(roomID), userID).Result()
	p := models.Participant{UserID: userID}
	if err == nil {
		if uerr := json.Unmarshal([]byte(existing), &p); uerr != nil {
			p = models.Participant{UserID: userID}
		}
	} else if err != redis.Nil {
		return fmt.Errorf("presence lookup: %w", err)
	}

	if displayName != "" {
		p.DisplayName = displayName
	}
	if peerID != "" {
		p.PeerID = peerID
	}
	p.LastSeenAt = s.now()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("presence marshal: %w", err)
	}

	pipe := s.client.Pipeline()
	// NX keeps the original first-join score for order stability.
	pipe.ZAddNX(ctx, orderKey(roomID), redis.Z{Score: float64(p.LastSeenAt.UnixMilli()), Member: userID})
	pipe.HSet(ctx, dataKey(roomID), userID, data)
	pipe.Expire(ctx, dataKey(roomID), roomKeyTTL)
	pipe.Expire(ctx, orderKey(roomID), roomKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence upsert: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, roomID, userID string) error {
	pipe := s.client.Pipeline()
	pipe.ZRem(ctx, orderKey(roomID), userID)
	pipe.HDel(ctx, dataKey(roomID), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence remove: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, roomID string) ([]models.Participant, error) {
	userIDs, err := s.client.ZRange(ctx, orderKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("presence order: %w", err)
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	values, err := s.client.HMGet(ctx, dataKey(roomID), userIDs...).Result()
	if err != nil {
		return nil, fmt.Errorf("presence data: %w", err)
	}

	cutoff := s.now().Add(-s.staleAfter)
	out := make([]models.Participant, 0, len(userIDs))
	var stale []string
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, userIDs[i])
			continue
		}
		var p models.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			stale = append(stale, userIDs[i])
			continue
		}
		if s.staleAfter > 0 && p.LastSeenAt.Before(cutoff) {
			stale = append(stale, userIDs[i])
			continue
		}
		out = append(out, p)
	}

	if len(stale) > 0 {
		members := make([]interface{}, len(stale))
		for i, id := range stale {
			members[i] = id
		}
		pipe := s.client.Pipeline()
		pipe.ZRem(ctx, orderKey(roomID), members...)
		pipe.HDel(ctx, dataKey(roomID), stale...)
		_, _ = pipe.Exec(ctx)
	}
	return out, nil
}
