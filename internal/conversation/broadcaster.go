// ABOUTME: In-memory fan-out broadcaster for conversation topics
// ABOUTME: Publishes persisted messages to every subscriber of "chat/{conversationId}"

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/jobchat/internal/metrics"
	"github.com/2389/jobchat/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Broadcaster fans persisted messages out to topic subscribers.
type Broadcaster interface {
	// Subscribe registers for messages on topic. The returned channel is
	// closed after Unsubscribe, when ctx ends, or when the broadcaster closes.
	Subscribe(ctx context.Context, topic string) (<-chan *store.Message, string, error)
	Publish(ctx context.Context, topic string, msg *store.Message) error
	Unsubscribe(topic, subID string)
	Close() error
}

// EventBroadcaster provides in-memory pub/sub for a single gateway process.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.Message // topic -> subID -> ch
	closed      bool
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger, m *metrics.Metrics) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[string]map[string]chan *store.Message),
		metrics:     m,
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for topic. The subscription is
// automatically cleaned up when ctx is cancelled.
func (b *EventBroadcaster) Subscribe(ctx context.Context, topic string) (<-chan *store.Message, string, error) {
	subID := uuid.New().String()
	ch := make(chan *store.Message, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID, nil
	}
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan *store.Message)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()

	return ch, subID, nil
}

// Publish delivers msg to all subscribers of topic. Non-blocking: the
// message is dropped for subscribers whose channels are full.
func (b *EventBroadcaster) Publish(_ context.Context, topic string, msg *store.Message) error {
	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send; they never block.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[topic] {
		select {
		case ch <- msg:
		default:
			b.metrics.DeliveryDropped()
			b.logger.Debug("dropped message for slow subscriber",
				"topic", topic,
				"sub_id", subID,
				"message_id", msg.ID)
		}
	}
	return nil
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}

	b.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// SubscriberCount returns the number of subscribers on topic.
func (b *EventBroadcaster) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *EventBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, topic)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
	return nil
}
