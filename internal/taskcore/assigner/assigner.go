// Package assigner implements the Assigner (C4): a cooperative loop
// that drains the queued-task backlog onto eligible reviewers under
// the fairness policy from spec §4.3, atomically, via the Task
// Store's skip-locked claim.
package assigner

import (
	"context"
	"errors"
	"time"

	coreerrors "github.com/zjrosen/taskcore/internal/errors"
	"github.com/zjrosen/taskcore/internal/log"
	"github.com/zjrosen/taskcore/internal/metrics"
	"github.com/zjrosen/taskcore/internal/retry"
	"github.com/zjrosen/taskcore/internal/taskcore/cache"
	"github.com/zjrosen/taskcore/internal/taskcore/domain"
	"github.com/zjrosen/taskcore/internal/taskcore/events"
	"github.com/zjrosen/taskcore/internal/tracing"
)

// Config holds the Assigner's tunables, all named in spec §6.
type Config struct {
	Tick       time.Duration
	SLA        time.Duration
	MaxRetries int
}

// Assigner runs the periodic + event-woken assignment loop.
type Assigner struct {
	store    domain.Store
	bus      *events.Bus
	cfg      Config
	m        *metrics.Registry
	presence *cache.PresenceCache
}

// New builds an Assigner. m and presence may both be nil: without m,
// assignment latency is not observed; without presence, every
// candidate is re-validated against the store even if it was just
// found stale.
func New(store domain.Store, bus *events.Bus, cfg Config, m *metrics.Registry, presence *cache.PresenceCache) *Assigner {
	return &Assigner{store: store, bus: bus, cfg: cfg, m: m, presence: presence}
}

// Run drives the assignment loop until ctx is cancelled. It wakes on
// its own tick and whenever the bus publishes task.enqueued or
// reviewer.presence=available, per spec §4.3.
func (a *Assigner) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Tick)
	defer ticker.Stop()

	wake := a.bus.Subscribe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.drainOneTick(ctx) {
				return
			}
			a.reportQueueDepth(ctx)
		case ev, ok := <-wake:
			if !ok {
				return
			}
			if shouldWake(ev.Payload) {
				if a.drainOneTick(ctx) {
					return
				}
			}
		}
	}
}

// reportQueueDepth samples the current backlog size into the queue
// depth gauge. It runs once per tick rather than per-assignment since
// it is a point-in-time gauge, not a counter.
func (a *Assigner) reportQueueDepth(ctx context.Context) {
	if a.m == nil {
		return
	}
	queued, err := a.store.ListTasks(ctx, domain.TaskFilter{Status: []domain.TaskStatus{domain.TaskQueued}})
	if err != nil {
		return
	}
	a.m.QueueDepth.Set(float64(len(queued)))
}

func shouldWake(msg events.Message) bool {
	if msg.Topic == events.TopicTaskEnqueued {
		return true
	}
	return msg.Topic == events.TopicReviewerPresence && msg.Presence == string(domain.PresenceAvailable)
}

// drainOneTick repeatedly claims and assigns until the store reports
// no queued task or no candidate reviewer, so a single wake event
// drains as much backlog as currently possible rather than assigning
// one task per tick. Returns true if a Fatal store error halted the
// assigner; the caller's Run loop exits without scheduling more work.
func (a *Assigner) drainOneTick(ctx context.Context) bool {
	ctx, span := tracing.StartSpan(ctx, "assigner.tick")
	defer span.End()

	for {
		assigned, err := a.assignOne(ctx)
		if err != nil {
			if errors.Is(err, coreerrors.ErrNoQueuedTask) || errors.Is(err, coreerrors.ErrNoCandidateReviewer) {
				return false
			}
			if coreerrors.IsFatal(err) {
				log.ErrorErr(log.CatAssign, "fatal error, halting assigner; orchestrator restart required", err)
				return true
			}
			log.ErrorErr(log.CatAssign, "assign tick failed, will retry next tick", err)
			return false
		}
		if !assigned {
			return false
		}
	}
}

// assignOne scans the eligible reviewer list, already ordered fewest-
// tasks_completed, oldest-heartbeat by the store query, and claims the
// oldest queued task for the first candidate the store still accepts.
// A candidate whose heartbeat went stale between the read and the
// claim is marked offline and skipped in favor of the next candidate,
// all within this one tick (spec §4.3).
func (a *Assigner) assignOne(ctx context.Context) (bool, error) {
	reviewers, err := retry.Do(ctx, func(ctx context.Context) ([]*domain.Reviewer, error) {
		return a.store.ListReviewers(ctx, true)
	})
	if err != nil {
		return false, err
	}

	for _, candidate := range reviewers {
		if a.presence != nil {
			if entry, found := a.presence.Get(candidate.ID()); found && entry.Presence == string(domain.PresenceOffline) {
				continue
			}
		}

		task, err := retry.Do(ctx, func(ctx context.Context) (*domain.Task, error) {
			return a.store.ClaimNextTaskFor(ctx, candidate.ID(), a.cfg.SLA, a.cfg.MaxRetries)
		})
		if err != nil {
			if errors.Is(err, coreerrors.ErrNoCandidateReviewer) {
				log.Warn(log.CatAssign, "candidate reviewer no longer eligible, marking offline", "reviewer_id", candidate.ID())
				if _, offErr := a.store.MarkReviewerOffline(ctx, candidate.ID()); offErr != nil {
					log.ErrorErr(log.CatAssign, "failed to mark stale reviewer offline", offErr, "reviewer_id", candidate.ID())
				}
				if a.presence != nil {
					a.presence.Set(candidate.ID(), cache.PresenceEntry{Presence: string(domain.PresenceOffline), LastHeartbeatAt: time.Now()})
				}
				continue
			}
			return false, err
		}

		now := time.Now()
		a.bus.Publish(ctx, events.Message{
			Topic:      events.TopicTaskAssigned,
			Timestamp:  now,
			TaskID:     task.ID(),
			ReviewerID: candidate.ID(),
			DeadlineAt: task.DeadlineAt(),
		})
		if a.m != nil {
			a.m.AssignmentLatency.Observe(now.Sub(task.CreatedAt()).Seconds())
		}
		log.Info(log.CatAssign, "task assigned", "task_id", task.ID(), "reviewer_id", candidate.ID())
		return true, nil
	}

	return false, coreerrors.ErrNoCandidateReviewer
}
