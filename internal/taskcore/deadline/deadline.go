// Package deadline implements the Deadline Monitor (C5) and the
// Pre-warning Emitter (C6) as a single sweep loop, per spec §4.4/§4.5:
// C6 rides along on the same tick since both scan the same held-task
// set.
package deadline

import (
	"context"
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

// Config holds the sweep's tunables, all named in spec §6.
type Config struct {
	Tick         time.Duration
	WarningMarks []int
}

// Monitor runs the periodic expiry + pre-warning sweep.
type Monitor struct {
	store domain.Store
	bus   *events.Bus
	locks cache.WarningLock
	cfg   Config
	m     *metrics.Registry
}

// New builds a Monitor. m may be nil, in which case strike/suspension
// counters are not reported.
func New(store domain.Store, bus *events.Bus, locks cache.WarningLock, cfg Config, m *metrics.Registry) *Monitor {
	return &Monitor{store: store, bus: bus, locks: locks, cfg: cfg, m: m}
}

// expireResult bundles store.Expire's multi-value return so it can
// flow through retry.Do's single generic result type.
type expireResult struct {
	strike   *domain.StrikeResult
	incident *domain.Incident
}

// Run drives the sweep loop until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.sweep(ctx) {
				return
			}
		}
	}
}

// sweep returns true if a Fatal store error halted the monitor; the
// caller's Run loop exits without scheduling another tick.
func (m *Monitor) sweep(ctx context.Context) bool {
	ctx, span := tracing.StartSpan(ctx, "deadline.sweep")
	defer span.End()

	now := time.Now()
	halt := m.sweepExpired(ctx, now)
	return m.sweepWarnings(ctx, now) || halt
}

// sweepExpired implements C5: requeue every task whose deadline has
// passed, applying the strike machine to the holding reviewer.
func (m *Monitor) sweepExpired(ctx context.Context, now time.Time) bool {
	expired, err := retry.Do(ctx, func(ctx context.Context) ([]*domain.Task, error) {
		return m.store.ExpiredTasks(ctx, now)
	})
	if err != nil {
		if coreerrors.IsFatal(err) {
			log.ErrorErr(log.CatDeadline, "fatal error, halting deadline monitor; orchestrator restart required", err)
			return true
		}
		log.ErrorErr(log.CatDeadline, "scan for expired tasks failed, will retry next tick", err)
		return false
	}

	for _, task := range expired {
		reviewerID := task.AssignedTo()
		retryCount := task.RetryCount()

		res, err := retry.Do(ctx, func(ctx context.Context) (expireResult, error) {
			_, strike, incident, err := m.store.Expire(ctx, task.ID())
			return expireResult{strike: strike, incident: incident}, err
		})
		if err != nil {
			if coreerrors.IsFatal(err) {
				log.ErrorErr(log.CatDeadline, "fatal error, halting deadline monitor; orchestrator restart required", err)
				return true
			}
			log.ErrorErr(log.CatDeadline, "expire failed for task, will retry next tick", err, "task_id", task.ID())
			continue
		}
		strike, incident := res.strike, res.incident

		log.Warn(log.CatDeadline, "task expired, strike applied", "task_id", task.ID(), "reviewer_id", reviewerID,
			"kind", string(strike.Kind), "warnings", strike.Warnings, "violations", strike.Violations, "incident_id", incident.ID())

		if m.m != nil {
			m.m.SLAViolationsTotal.Inc()
			switch strike.Kind {
			case domain.IncidentWarning:
				m.m.WarningsTotal.Inc()
			case domain.IncidentViolation:
				m.m.ViolationsTotal.Inc()
			}
			if strike.Suspended {
				m.m.SuspensionsTotal.Inc()
			}
		}

		m.bus.Publish(ctx, events.Message{
			Topic:      events.TopicReviewerStrike,
			Timestamp:  now,
			ReviewerID: reviewerID,
			Kind:       string(strike.Kind),
			Warnings:   strike.Warnings,
			Violations: strike.Violations,
		})
		if strike.Suspended {
			m.bus.Publish(ctx, events.Message{
				Topic:      events.TopicReviewerSuspended,
				Timestamp:  now,
				ReviewerID: reviewerID,
			})
		}
		m.bus.Publish(ctx, events.Message{
			Topic:      events.TopicTaskRequeued,
			Timestamp:  now,
			TaskID:     task.ID(),
			Reason:     "sla exceeded",
			RetryCount: retryCount + 1,
		})
	}
	return false
}

// sweepWarnings implements C6: emit task.warning exactly once per
// (task_id, minute) pair for every held task whose remaining time
// matches a configured mark.
func (m *Monitor) sweepWarnings(ctx context.Context, now time.Time) bool {
	warnable, err := retry.Do(ctx, func(ctx context.Context) ([]*domain.Task, error) {
		return m.store.WarnableTasks(ctx, now, m.cfg.WarningMarks)
	})
	if err != nil {
		if coreerrors.IsFatal(err) {
			log.ErrorErr(log.CatWarning, "fatal error, halting deadline monitor; orchestrator restart required", err)
			return true
		}
		log.ErrorErr(log.CatWarning, "scan for warnable tasks failed, will retry next tick", err)
		return false
	}

	ttl := 2 * m.cfg.Tick
	for _, task := range warnable {
		minute := task.MinutesRemaining(now)
		acquired, err := m.locks.TryAcquire(ctx, task.ID(), minute, ttl)
		if err != nil {
			log.ErrorErr(log.CatWarning, "warning dedup lock failed, skipping", err, "task_id", task.ID())
			continue
		}
		if !acquired {
			continue // already emitted for this (task_id, minute) pair
		}

		m.bus.Publish(ctx, events.Message{
			Topic:            events.TopicTaskWarning,
			Timestamp:        now,
			TaskID:           task.ID(),
			ReviewerID:       task.AssignedTo(),
			MinutesRemaining: minute,
		})
		log.Info(log.CatWarning, "pre-warning emitted", "task_id", task.ID(), "minutes_remaining", minute)
	}
	return false
}
