package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/taskcore/internal/taskcore/events"
)

type fakePoster struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakePoster) PostMessage(channelID string, options ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, channelID)
	return "", "", f.err
}

func (f *fakePoster) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestNotifier(p poster) *SlackNotifier {
	return &SlackNotifier{
		client:  p,
		channel: "#ops",
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 3 },
		}),
	}
}

func TestRunOnlyNotifiesOnSuspensionTopic(t *testing.T) {
	p := &fakePoster{}
	n := newTestNotifier(p)
	bus := events.New(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx, bus)

	bus.Publish(ctx, events.Message{Topic: events.TopicTaskEnqueued, TaskID: "task-1"})
	bus.Publish(ctx, events.Message{Topic: events.TopicReviewerStrike, ReviewerID: "rev-1"})
	bus.Publish(ctx, events.Message{Topic: events.TopicReviewerSuspended, ReviewerID: "rev-2"})

	require.Eventually(t, func() bool { return p.callCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestNotifySuspensionLogsFailureWithoutPanicking(t *testing.T) {
	p := &fakePoster{err: errors.New("slack unavailable")}
	n := newTestNotifier(p)

	require.NotPanics(t, func() { n.notifySuspension("rev-1") })
	require.Equal(t, 1, p.callCount())
}
