package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lyzr/flowrunner/common/redis"
	"github.com/lyzr/flowrunner/engine/event"
)

// RedisPublisher pushes execution events into Redis PubSub so relays on
// other instances can fan them out to their own subscribers.
type RedisPublisher struct {
	redis  *redis.Client
	prefix string
	logger Logger
}

// NewRedisPublisher creates a publisher for channels named prefix + execution id.
func NewRedisPublisher(client *redis.Client, prefix string, logger Logger) *RedisPublisher {
	return &RedisPublisher{
		redis:  client,
		prefix: prefix,
		logger: logger,
	}
}

// Sink adapts the publisher into an event sink for the runner. Publish
// failures are logged and dropped; event delivery is best-effort.
func (p *RedisPublisher) Sink() event.Sink {
	return func(ev event.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			p.logger.Error("failed to encode event", "type", ev.Type, "error", err)
			return
		}

		channel := p.prefix + ev.ExecutionID
		if err := p.redis.PublishEvent(context.Background(), channel, string(data)); err != nil {
			p.logger.Error("failed to publish event",
				"channel", channel,
				"type", ev.Type,
				"error", err)
		}
	}
}

// RedisSubscriber listens to Redis PubSub and forwards events to the Hub
type RedisSubscriber struct {
	redis  *redis.Client
	hub    *Hub
	prefix string
	logger Logger
}

// NewRedisSubscriber creates a new RedisSubscriber instance
func NewRedisSubscriber(client *redis.Client, hub *Hub, prefix string, logger Logger) *RedisSubscriber {
	return &RedisSubscriber{
		redis:  client,
		hub:    hub,
		prefix: prefix,
		logger: logger,
	}
}

// Start begins listening to Redis PubSub channels; it blocks until ctx is
// cancelled or the subscription breaks.
func (s *RedisSubscriber) Start(ctx context.Context) error {
	pattern := s.prefix + "*"
	pubsub := s.redis.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	// Wait for confirmation that the subscription was established
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to redis: %w", err)
	}

	s.logger.Info("redis subscriber started", "pattern", pattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("redis subscriber stopping")
			return nil

		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription channel closed")
			}

			// Channel format: prefix + execution id
			executionID := strings.TrimPrefix(msg.Channel, s.prefix)
			if executionID == msg.Channel {
				s.logger.Warn("unexpected channel format", "channel", msg.Channel)
				continue
			}

			s.hub.Broadcast(executionID, []byte(msg.Payload))
		}
	}
}
