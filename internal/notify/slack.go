// Package notify subscribes to the Event Bus and pushes ops-facing
// alerts to Slack for reviewer suspensions (reviewer.suspended); no
// other topic or error produces an alert.
// It is a plain consumer of C2, exercising at-least-once delivery like
// any other subscriber — it never writes to the Task Store.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/slack-go/slack"
	"github.com/sony/gobreaker"

	"github.com/zjrosen/taskcore/internal/log"
	"github.com/zjrosen/taskcore/internal/taskcore/events"
)

// poster is the subset of *slack.Client this notifier needs, narrowed
// to an interface so tests can substitute a fake instead of hitting
// the real Slack API.
type poster interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts suspension alerts to an ops channel, behind a
// circuit breaker so a Slack outage never backs up event delivery.
type SlackNotifier struct {
	client  poster
	channel string
	cb      *gobreaker.CircuitBreaker
}

// NewSlackNotifier builds a SlackNotifier posting to channel with the
// given bot token.
func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(token),
		channel: channel,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "slack-notify",
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn(log.CatNotify, "circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Run subscribes to bus and posts an alert for every
// reviewer.suspended event, until ctx is cancelled.
func (n *SlackNotifier) Run(ctx context.Context, bus *events.Bus) {
	sub := bus.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Payload.Topic != events.TopicReviewerSuspended {
				continue
			}
			n.notifySuspension(ev.Payload.ReviewerID)
		}
	}
}

func (n *SlackNotifier) notifySuspension(reviewerID string) {
	text := fmt.Sprintf(":rotating_light: reviewer `%s` suspended after 3 violations — admin reset required", reviewerID)
	_, err := n.cb.Execute(func() (any, error) {
		_, _, err := n.client.PostMessage(n.channel, slack.MsgOptionText(text, false))
		return nil, err
	})
	if err != nil {
		log.ErrorErr(log.CatNotify, "slack suspension alert failed", err, "reviewer_id", reviewerID)
	}
}
