// README: Bus: fan-out transport between publishers and hub groups, in-process or over Redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"quickassist/internal/logging"
)

const DefaultRedisChannel = "quickassist:realtime"

type Bus interface {
	Publish(ctx context.Context, env Envelope) error
}

// LocalBus delivers straight into this process's hub.
type LocalBus struct {
	Hub *Hub
}

func (b LocalBus) Publish(_ context.Context, env Envelope) error {
	b.Hub.Deliver(env)
	return nil
}

// RedisBus lets several API replicas share one logical group per booking.
// Every replica runs Run, which delivers envelopes to its local hub.
type RedisBus struct {
	client  *redis.Client
	channel string
	hub     *Hub
	log     logrus.FieldLogger
}

func NewRedisBus(client *redis.Client, channel string, hub *Hub, log logrus.FieldLogger) *RedisBus {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisBus{client: client, channel: channel, hub: hub, log: logging.Component(log, "realtime_bus")}
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run subscribes and delivers until ctx is cancelled. Envelopes are handled on
// one goroutine, preserving the order Redis delivers them in.
func (b *RedisBus) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}
	b.log.WithField("channel", b.channel).Info("realtime bus subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.WithError(err).Warn("dropping malformed envelope")
				continue
			}
			b.hub.Deliver(env)
		}
	}
}
