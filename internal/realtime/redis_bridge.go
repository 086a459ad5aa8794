package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"shopfloor/api/internal/backend"
)

const DefaultRedisChannel = "shopfloor:changes"

type bridgeMessage struct {
	Origin string              `json:"origin"`
	Event  backend.ChangeEvent `json:"event"`
}

// RedisBridge relays hub events between replicas. Events published on the
// local hub are sent to Redis; events from other replicas are delivered to
// local subscribers only, so nothing echoes back.
type RedisBridge struct {
	client  *redis.Client
	hub     *Hub
	channel string
	origin  string
	logger  *zap.Logger
}

func NewRedisBridge(client *redis.Client, hub *Hub, logger *zap.Logger) *RedisBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &RedisBridge{
		client:  client,
		hub:     hub,
		channel: DefaultRedisChannel,
		origin:  uuid.NewString(),
		logger:  logger.Named("redis_bridge"),
	}
	hub.OnPublish(b.forward)
	return b
}

func (b *RedisBridge) forward(ev backend.ChangeEvent) {
	payload, err := json.Marshal(bridgeMessage{Origin: b.origin, Event: ev})
	if err != nil {
		b.logger.Warn("marshal change event", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.Warn("publish change event", zap.String("table", ev.Table), zap.Error(err))
	}
}

// Run consumes the Redis channel until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m bridgeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				b.logger.Warn("ignoring malformed bridge message", zap.Error(err))
				continue
			}
			if m.Origin == b.origin {
				continue
			}
			b.hub.Deliver(m.Event)
		}
	}
}
