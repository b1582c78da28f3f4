package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	coreerrors "github.com/zjrosen/taskcore/internal/errors"
	"github.com/zjrosen/taskcore/internal/log"
	"github.com/zjrosen/taskcore/internal/pubsub"
	"github.com/zjrosen/taskcore/internal/retry"
)

// redisChannel is the single Redis pub/sub channel cross-process
// instances publish every Message on; Topic discriminates on receipt.
const redisChannel = "taskcore:events"

// Bus is the task dispatch core's Event Bus (C2). It layers Redis
// pub/sub for cross-process fan-out under the generic in-process
// broker adapted from the pack's pubsub.Broker[T], exactly as
// SPEC_FULL.md §11 describes.
type Bus struct {
	local *pubsub.Broker[Message]
	rdb   *redis.Client // nil in single-process / test mode
}

// New constructs a Bus. rdb may be nil to run in local-only mode
// (tests, single-instance deployments).
func New(rdb *redis.Client) *Bus {
	return &Bus{
		local: pubsub.NewBroker[Message](),
		rdb:   rdb,
	}
}

// Subscribe returns a channel of all messages published locally or
// relayed from Redis. Ordering guarantee per spec §4.2: per task id,
// the local broker delivers in commit order; no global order is
// promised.
func (b *Bus) Subscribe(ctx context.Context) <-chan pubsub.Event[Message] {
	return b.local.Subscribe(ctx)
}

// Publish delivers msg to local subscribers immediately (non-blocking,
// at-least-once, may drop on a full subscriber channel per spec §5) and
// asynchronously relays it to Redis for other processes, best-effort.
func (b *Bus) Publish(ctx context.Context, msg Message) {
	b.local.Publish(pubsub.CreatedEvent, msg)

	if b.rdb == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.ErrorErr(log.CatBus, "marshal event for redis relay", err, "topic", msg.Topic)
		return
	}
	go func() {
		err := retry.DoVoid(context.WithoutCancel(ctx), func(ctx context.Context) error {
			if err := b.rdb.Publish(ctx, redisChannel, payload).Err(); err != nil {
				return &coreerrors.Transient{Operation: "bus.publish_redis", Cause: err}
			}
			return nil
		})
		if err != nil {
			log.ErrorErr(log.CatBus, "redis publish failed after retries, local delivery still succeeded", err, "topic", msg.Topic)
		}
	}()
}

// Relay subscribes to the Redis channel and re-publishes every message
// received from another process onto the local broker, so C7 sessions
// and other local subscribers see cross-process events the same way
// they see local ones. Runs until ctx is cancelled.
func (b *Bus) Relay(ctx context.Context) error {
	if b.rdb == nil {
		return nil
	}
	sub := b.rdb.Subscribe(ctx, redisChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				log.ErrorErr(log.CatBus, "unmarshal relayed event", err)
				continue
			}
			b.local.Publish(pubsub.CreatedEvent, msg)
		}
	}
}

// SubscriberCount reports the number of local subscribers.
func (b *Bus) SubscriberCount() int {
	return b.local.SubscriberCount()
}

// DroppedCount reports the cumulative number of messages dropped
// because a local subscriber's channel was full, exposed for the
// /metrics event-bus drop counter.
func (b *Bus) DroppedCount() int64 {
	return b.local.DroppedCount()
}

// Close shuts the local broker down.
func (b *Bus) Close() {
	b.local.Close()
}
