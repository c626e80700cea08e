package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"realtime-chat-be/internal/pkg/logger"
	"realtime-chat-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

// Bus carries envelopes between the hubs of the pool. Subscribe returns
// once the subscription is live; handler then runs for every envelope
// until ctx is done or the bus is closed.
type Bus interface {
	Publish(ctx context.Context, env events.Envelope) error
	Subscribe(ctx context.Context, handler func(events.Envelope)) error
	Close() error
}

// RedisBus fans envelopes out over one Redis pub/sub channel.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	logger  logger.ILogger

	mu   sync.Mutex
	subs []*redis.PubSub
}

func NewRedisBus(rdb *redis.Client, channel string, log logger.ILogger) *RedisBus {
	return &RedisBus{rdb: rdb, channel: channel, logger: log}
}

func (b *RedisBus) Publish(ctx context.Context, env events.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", b.channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, handler func(events.Envelope)) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	// wait for the subscription confirmation so nothing published after
	// Subscribe returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, pubsub)
	b.mu.Unlock()

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env events.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.logger.Warn("BUS", "Dropping malformed envelope", map[string]interface{}{"error": err.Error()})
					continue
				}
				handler(env)
			}
		}
	}()
	return nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		_ = s.Close()
	}
	b.subs = nil
	return nil
}

// LocalBus runs the pool inside one process on a watermill go channel.
// Every subscriber sees every envelope.
type LocalBus struct {
	pubSub *gochannel.GoChannel
	topic  string
	logger logger.ILogger
}

func NewLocalBus(topic string, log logger.ILogger) *LocalBus {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			BlockPublishUntilSubscriberAck: true, // keeps per-publisher order
		},
		watermill.NewStdLogger(false, false),
	)
	return &LocalBus{pubSub: pubSub, topic: topic, logger: log}
}

func (b *LocalBus) Publish(ctx context.Context, env events.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	return b.pubSub.Publish(b.topic, msg)
}

func (b *LocalBus) Subscribe(ctx context.Context, handler func(events.Envelope)) error {
	messages, err := b.pubSub.Subscribe(ctx, b.topic)
	if err != nil {
		return err
	}
	go func() {
		for msg := range messages {
			var env events.Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				b.logger.Warn("BUS", "Dropping malformed envelope", map[string]interface{}{"error": err.Error()})
				msg.Ack()
				continue
			}
			handler(env)
			msg.Ack()
		}
	}()
	return nil
}

func (b *LocalBus) Close() error {
	return b.pubSub.Close()
}
