package domain

import (
	"context"
	"time"
)

// TaskFilter narrows ListTasks queries, mirroring the
// ListFilter-per-repository pattern used for other entities in this
// codebase.
type TaskFilter struct {
	Status     []TaskStatus
	AssignedTo string
	Limit      int
}

// Store is the Task Store (C1): the durable record of tasks,
// reviewers, incidents, and applications, and the sole transactional
// linearization point for every state transition named in the
// specification. Every method below is one transaction; callers never
// see partially applied state, and every write publishes its event
// only after a successful commit (the publish itself happens in the
// calling component, built from the returned entities).
type Store interface {
	// Enqueue inserts a new queued task. Precondition: score < 0.90,
	// enforced by the caller (the Intake API); the store itself does
	// not re-validate business thresholds, only data shape.
	Enqueue(ctx context.Context, candidate, job string, score float64, oldResumeURL string, missingKeywords, suggestions []string) (*Task, error)

	// ClaimNextTaskFor atomically assigns the oldest claimable queued
	// task to reviewerID using a skip-locked claim strategy, verifying
	// the reviewer is still eligible inside the same transaction. Any
	// queued task already past maxRetries is marked timeout in place
	// and skipped rather than claimed (spec §4.3); this is a
	// defensive check for clock-skew / config-change edges, since the
	// Deadline Monitor normally times out a task before it is ever
	// requeued past the cap. Returns ErrNoQueuedTask or
	// ErrNoCandidateReviewer (both wrapped as sentinel errors from
	// internal/errors) when nothing can be claimed; these are not
	// failures, just empty ticks.
	ClaimNextTaskFor(ctx context.Context, reviewerID string, sla time.Duration, maxRetries int) (*Task, error)

	// MarkReviewerOffline forces reviewerID's presence to offline
	// without touching its heartbeat timestamp, for the Assigner's
	// stale-heartbeat-mid-assignment edge case (spec §4.3). Heartbeat
	// does not change presence, so the reviewer returns to available
	// only through a later SetPresence (as on gateway reconnect).
	MarkReviewerOffline(ctx context.Context, reviewerID string) (*Reviewer, error)

	// Timeout marks taskID as permanently timed out (terminal),
	// freeing the holding reviewer if the task was still held. Used by
	// admin tooling (`admin task-timeout`) to force-close a stuck task;
	// ClaimNextTaskFor's retry-cap check writes its own timeout update
	// inside the claim transaction instead of calling this.
	Timeout(ctx context.Context, taskID string) (*Task, error)

	// Start transitions an assigned task to in_progress. Requires
	// ownership.
	Start(ctx context.Context, taskID, reviewerID string) (*Task, error)

	// Complete transitions a held task to completed, updates reviewer
	// counters, clears the reviewer's current task, and upserts the
	// resulting Application — all in one transaction.
	Complete(ctx context.Context, taskID, reviewerID, newResumeURL, notes string) (*Task, *Application, error)

	// Fail resets a held task to queued (reviewer-declared failure),
	// increments retry_count, and releases the reviewer.
	Fail(ctx context.Context, taskID, reviewerID, reason string) (*Task, error)

	// Expire is called only by the Deadline Monitor. It requeues an
	// expired task, applies the strike machine to the reviewer that
	// held it, and writes an Incident, in one transaction.
	Expire(ctx context.Context, taskID string) (*Task, *StrikeResult, *Incident, error)

	// SetPresence applies the allowed presence transitions, rejecting
	// changes for suspended reviewers and `available` while a current
	// task is held.
	SetPresence(ctx context.Context, reviewerID string, newPresence Presence) (*Reviewer, error)

	// AdminResetReviewer clears violations/warnings and reactivates a
	// suspended reviewer. Not reachable from any reviewer-facing path;
	// supplemented per spec §8 property 4 (SPEC_FULL.md §12).
	AdminResetReviewer(ctx context.Context, reviewerID string) (*Reviewer, *Incident, error)

	// RegisterReviewer upserts a reviewer row on first contact (e.g.
	// gateway connect for an unseen reviewer id).
	RegisterReviewer(ctx context.Context, reviewerID string, role ReviewerRole) (*Reviewer, error)

	// Heartbeat records a heartbeat without changing presence.
	Heartbeat(ctx context.Context, reviewerID string) error

	// GetTask / GetReviewer fetch a single row without locking, for
	// read paths (gateway ownership pre-checks, admin CLI).
	GetTask(ctx context.Context, taskID string) (*Task, error)
	GetReviewer(ctx context.Context, reviewerID string) (*Reviewer, error)

	// ListTasks / ListReviewers support the sweeps (C5/C6 need all
	// held tasks; C4 needs all eligible reviewers) and admin tooling.
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)
	ListReviewers(ctx context.Context, onlyEligible bool) ([]*Reviewer, error)

	// ExpiredTasks returns held tasks whose deadline has passed as of
	// now, for the Deadline Monitor sweep.
	ExpiredTasks(ctx context.Context, now time.Time) ([]*Task, error)

	// WarnableTasks returns held tasks whose remaining time matches one
	// of marks, for the Pre-warning Emitter sweep.
	WarnableTasks(ctx context.Context, now time.Time, marks []int) ([]*Task, error)

	// Close releases underlying resources (connection pool).
	Close() error
}
