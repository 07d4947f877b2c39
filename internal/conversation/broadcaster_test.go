// ABOUTME: Tests for EventBroadcaster fan-out pub/sub
// ABOUTME: Covers subscribe, publish, unsubscribe, context cancellation, slow subscribers, concurrency

package conversation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/jobchat/internal/metrics"
	"github.com/2389/jobchat/internal/store"
)

func makeMessage(id, conversationID string) *store.Message {
	return &store.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       "owner-1",
		ReceiverID:     "worker-1",
		Body:           "hello from " + id,
		SentAt:         time.Now(),
		SenderRole:     store.RoleOwner,
		CorrelationID:  id,
	}
}

func receive(t *testing.T, ch <-chan *store.Message) *store.Message {
	t.Helper()
	select {
	case m, ok := <-ch:
		require.True(t, ok, "channel closed")
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestBroadcaster_SingleSubscriberReceivesMessage(t *testing.T) {
	b := NewEventBroadcaster(nil, nil)
	defer b.Close()

	ch, _, err := b.Subscribe(t.Context(), "chat/app-1")
	require.NoError(t, err)

	require.NoError(t, b.Publish(t.Context(), "chat/app-1", makeMessage("m1", "app-1")))
	assert.Equal(t, "m1", receive(t, ch).ID)
}

func TestBroadcaster_MultipleSubscribersReceiveSameMessage(t *testing.T) {
	b := NewEventBroadcaster(nil, nil)
	defer b.Close()

	ch1, _, _ := b.Subscribe(t.Context(), "chat/app-1")
	ch2, _, _ := b.Subscribe(t.Context(), "chat/app-1")
	ch3, _, _ := b.Subscribe(t.Context(), "chat/app-1")

	require.NoError(t, b.Publish(t.Context(), "chat/app-1", makeMessage("m2", "app-1")))

	for _, ch := range []<-chan *store.Message{ch1, ch2, ch3} {
		assert.Equal(t, "m2", receive(t, ch).ID)
	}
}

func TestBroadcaster_TopicIsolation(t *testing.T) {
	b := NewEventBroadcaster(nil, nil)
	defer b.Close()

	chA, _, _ := b.Subscribe(t.Context(), "chat/app-a")
	chB, _, _ := b.Subscribe(t.Context(), "chat/app-b")

	require.NoError(t, b.Publish(t.Context(), "chat/app-a", makeMessage("a1", "app-a")))

	assert.Equal(t, "a1", receive(t, chA).ID)
	select {
	case m := <-chB:
		t.Fatalf("unexpected message on other topic: %v", m.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_PublishWithNoSubscribers(t *testing.T) {
	b := NewEventBroadcaster(nil, nil)
	defer b.Close()

	assert.NoError(t, b.Publish(t.Context(), "chat/nobody", makeMessage("m1", "nobody")))
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewEventBroadcaster(nil, nil)
	defer b.Close()

	ch, subID, _ := b.Subscribe(t.Context(), "chat/app-1")
	b.Unsubscribe("chat/app-1", subID)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount("chat/app-1"))

	// Second unsubscribe is a no-op
	b.Unsubscribe("chat/app-1", subID)
}

func TestBroadcaster_ContextCancellationUnsubscribes(t *testing.T) {
	b := NewEventBroadcaster(nil, nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(t.Context())
	ch, _, _ := b.Subscribe(ctx, "chat/app-1")
	cancel()

	require.Eventually(t, func() bool {
		return b.SubscriberCount("chat/app-1") == 0
	}, time.Second, 5*time.Millisecond)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroadcaster_SlowSubscriberDropsAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := NewEventBroadcaster(nil, metrics.New(reg))
	defer b.Close()

	slow, _, _ := b.Subscribe(t.Context(), "chat/app-1")

	for range subscriberBufferSize + 10 {
		require.NoError(t, b.Publish(t.Context(), "chat/app-1", makeMessage("m", "app-1")))
	}

	assert.Len(t, slow, subscriberBufferSize, "slow subscriber keeps only what fits")

	expected := `
# HELP jobchat_push_dropped_total Deliveries dropped because a subscriber was not keeping up.
# TYPE jobchat_push_dropped_total counter
jobchat_push_dropped_total 10
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "jobchat_push_dropped_total"))
}

func TestBroadcaster_CloseClosesAllAndRejectsNew(t *testing.T) {
	b := NewEventBroadcaster(nil, nil)

	ch1, _, _ := b.Subscribe(t.Context(), "chat/app-1")
	ch2, _, _ := b.Subscribe(t.Context(), "chat/app-2")
	require.NoError(t, b.Close())

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)

	ch3, _, err := b.Subscribe(t.Context(), "chat/app-1")
	require.NoError(t, err)
	_, ok3 := <-ch3
	assert.False(t, ok3)
}

func TestBroadcaster_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := NewEventBroadcaster(nil, nil)
	defer b.Close()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		ctx, cancel := context.WithCancel(t.Context())
		ch, subID, _ := b.Subscribe(ctx, "chat/app-1")
		go func() {
			defer wg.Done()
			for range 50 {
				_ = b.Publish(t.Context(), "chat/app-1", makeMessage("m", "app-1"))
			}
		}()
		go func(n int) {
			defer wg.Done()
			defer cancel()
			if n%2 == 0 {
				b.Unsubscribe("chat/app-1", subID)
			} else {
				cancel()
			}
			for range ch {
			}
		}(i)
	}
	wg.Wait()
}
