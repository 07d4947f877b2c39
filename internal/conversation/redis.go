// ABOUTME: Redis pub/sub broadcaster for gateways running more than one instance
// ABOUTME: Messages are JSON encoded on "{prefix}chat/{conversationId}" channels

package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/2389/jobchat/internal/metrics"
	"github.com/2389/jobchat/internal/store"
)

// DefaultRedisPrefix namespaces jobchat channels on a shared Redis.
const DefaultRedisPrefix = "jobchat:"

// RedisBroadcaster implements Broadcaster over Redis PUBLISH/SUBSCRIBE.
type RedisBroadcaster struct {
	client  *redis.Client
	prefix  string
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu   sync.Mutex
	subs map[string]*redisSub // subID -> subscription
}

type redisSub struct {
	topic  string
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisBroadcaster connects to the Redis at url and verifies it with a PING.
func NewRedisBroadcaster(ctx context.Context, url, prefix string, logger *slog.Logger, m *metrics.Metrics) (*RedisBroadcaster, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return NewRedisBroadcasterWithClient(client, prefix, logger, m), nil
}

// NewRedisBroadcasterWithClient wraps an existing client. The broadcaster
// takes ownership and closes it in Close.
func NewRedisBroadcasterWithClient(client *redis.Client, prefix string, logger *slog.Logger, m *metrics.Metrics) *RedisBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBroadcaster{
		client:  client,
		prefix:  prefix,
		metrics: m,
		logger:  logger.With("component", "redis_broadcaster"),
		subs:    make(map[string]*redisSub),
	}
}

func (b *RedisBroadcaster) channel(topic string) string {
	return b.prefix + topic
}

// Subscribe opens a Redis subscription for topic and waits for the server to
// confirm it, so a Publish issued after Subscribe returns is not missed.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, topic string) (<-chan *store.Message, string, error) {
	subCtx, cancel := context.WithCancel(ctx)
	pubsub := b.client.Subscribe(subCtx, b.channel(topic))
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, "", fmt.Errorf("redis: subscribe %s: %w", topic, err)
	}

	subID := uuid.New().String()
	out := make(chan *store.Message, subscriberBufferSize)
	sub := &redisSub{topic: topic, pubsub: pubsub, cancel: cancel, done: make(chan struct{})}

	b.mu.Lock()
	b.subs[subID] = sub
	b.mu.Unlock()

	go b.forward(subCtx, subID, sub, out)

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)
	return out, subID, nil
}

func (b *RedisBroadcaster) forward(ctx context.Context, subID string, sub *redisSub, out chan<- *store.Message) {
	defer close(sub.done)
	defer close(out)
	defer b.remove(subID)

	in := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-in:
			if !ok {
				return
			}
			msg, err := decodeMessage([]byte(raw.Payload))
			if err != nil {
				b.logger.Warn("discarding undecodable message", "topic", sub.topic, "error", err)
				continue
			}
			select {
			case out <- msg:
			default:
				b.metrics.DeliveryDropped()
				b.logger.Debug("dropped message for slow subscriber",
					"topic", sub.topic,
					"sub_id", subID,
					"message_id", msg.ID)
			}
		}
	}
}

func (b *RedisBroadcaster) remove(subID string) {
	b.mu.Lock()
	sub, ok := b.subs[subID]
	delete(b.subs, subID)
	b.mu.Unlock()

	if ok {
		sub.cancel()
		_ = sub.pubsub.Close()
	}
}

// Publish sends msg to every gateway subscribed to topic.
func (b *RedisBroadcaster) Publish(ctx context.Context, topic string, msg *store.Message) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe stops a subscription and waits for its channel to close.
func (b *RedisBroadcaster) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	sub, ok := b.subs[subID]
	b.mu.Unlock()
	if !ok || sub.topic != topic {
		return
	}

	sub.cancel()
	<-sub.done
	b.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// Close ends all subscriptions and closes the client.
func (b *RedisBroadcaster) Close() error {
	b.mu.Lock()
	subs := make([]*redisSub, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.cancel()
		<-s.done
	}
	return b.client.Close()
}

// Ping checks the Redis connection.
func (b *RedisBroadcaster) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func encodeMessage(msg *store.Message) ([]byte, error) {
	out := msg.Clone()
	out.Optimistic = false
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return data, nil
}

func decodeMessage(data []byte) (*store.Message, error) {
	var msg store.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}
	if msg.ConversationID == "" {
		return nil, fmt.Errorf("decoding message: missing conversation_id")
	}
	return &msg, nil
}
