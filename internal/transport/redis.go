package transport

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/teamhive/signal-relay/internal/models"
)

const channelPrefix = "signal:"

// RedisChannel fans events out across relay instances via Redis pub/sub.
// Trigger only publishes; local websocket delivery happens in Run when the
// published message comes back on the subscription, so an event is pushed
// to each subscriber exactly once regardless of which instance received it.
type RedisChannel struct {
	client *redis.Client
	local  *Hub
}

func NewRedisChannel(client *redis.Client, local *Hub) *RedisChannel {
	return &RedisChannel{client: client, local: local}
}

// Trigger implements PushChannel.
func (c *RedisChannel) Trigger(ctx context.Context, roomID string, event models.SignalEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, channelPrefix+roomID, data).Err()
}

// Run forwards subscribed messages to the local hub until ctx is canceled.
func (c *RedisChannel) Run(ctx context.Context) {
	sub := c.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	log.Info().Msg("redis push channel subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("redis push channel stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			roomID := strings.TrimPrefix(msg.Channel, channelPrefix)
			c.local.deliver(roomID, []byte(msg.Payload))
		}
	}
}

var _ PushChannel = (*RedisChannel)(nil)
var _ PushChannel = (*Hub)(nil)
