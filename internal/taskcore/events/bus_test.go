package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestBusLocalDelivery(t *testing.T) {
	bus := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := bus.Subscribe(ctx)
	bus.Publish(ctx, Message{Topic: TopicTaskEnqueued, TaskID: "task-1"})

	select {
	case ev := <-sub:
		require.Equal(t, TopicTaskEnqueued, ev.Payload.Topic)
		require.Equal(t, "task-1", ev.Payload.TaskID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for locally published message")
	}
}

func TestBusRelayDeliversCrossProcessMessages(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	publisher := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	subscriber := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := subscriber.Subscribe(ctx)
	go subscriber.Relay(ctx)

	// Give the relay goroutine time to establish its Redis subscription
	// before the publish, same as any pub/sub client has to.
	time.Sleep(50 * time.Millisecond)

	publisher.Publish(ctx, Message{Topic: TopicReviewerSuspended, ReviewerID: "rev-1"})

	select {
	case ev := <-sub:
		require.Equal(t, TopicReviewerSuspended, ev.Payload.Topic)
		require.Equal(t, "rev-1", ev.Payload.ReviewerID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed cross-process message")
	}
}

func TestBusDroppedCountIncrementsOnFullSubscriber(t *testing.T) {
	bus := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = bus.Subscribe(ctx) // unread subscriber, buffer will fill

	before := bus.DroppedCount()
	for i := 0; i < 200; i++ {
		bus.Publish(ctx, Message{Topic: TopicTaskEnqueued})
	}
	require.Greater(t, bus.DroppedCount(), before)
}
