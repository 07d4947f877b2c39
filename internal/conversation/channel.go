// ABOUTME: In-process push channel for views running inside the gateway process
// ABOUTME: Adapts a Broadcaster subscription to the handler-based chatview.Channel

package conversation

import (
	"context"
	"sync"

	"github.com/2389/jobchat/internal/chatview"
	"github.com/2389/jobchat/internal/metrics"
	"github.com/2389/jobchat/internal/store"
)

// LocalChannel implements chatview.Channel directly on a Broadcaster.
type LocalChannel struct {
	broadcaster Broadcaster
	metrics     *metrics.Metrics
}

// NewLocalChannel creates a channel over b.
func NewLocalChannel(b Broadcaster, m *metrics.Metrics) *LocalChannel {
	return &LocalChannel{broadcaster: b, metrics: m}
}

// Subscribe delivers every message published on topic to handler, one at a
// time, on a dedicated goroutine.
func (c *LocalChannel) Subscribe(ctx context.Context, topic string, handler func(*store.Message)) (chatview.Subscription, error) {
	ch, subID, err := c.broadcaster.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	c.metrics.SubscriberAdded("local")

	sub := &localSubscription{
		done: make(chan struct{}),
		unsubscribe: func() {
			c.broadcaster.Unsubscribe(topic, subID)
		},
	}

	go func() {
		defer close(sub.done)
		defer c.metrics.SubscriberRemoved("local")
		for msg := range ch {
			if sub.cancelled() {
				continue
			}
			handler(msg)
		}
	}()

	return sub, nil
}

type localSubscription struct {
	mu          sync.Mutex
	stopped     bool
	once        sync.Once
	unsubscribe func()
	done        chan struct{}
}

func (s *localSubscription) cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Cancel stops deliveries and waits for the delivery goroutine to finish. It
// must not be called from inside the handler.
func (s *localSubscription) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.unsubscribe()
	})
	<-s.done
}
