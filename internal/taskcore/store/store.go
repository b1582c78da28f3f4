// Package store implements the Task Store (C1) on top of PostgreSQL
// via pgx: the durable record of tasks, reviewers, incidents, and
// applications, and the sole transactional linearization point for
// every state transition in the task dispatch core.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	coreerrors "github.com/zjrosen/taskcore/internal/errors"
	"github.com/zjrosen/taskcore/internal/log"
	"github.com/zjrosen/taskcore/internal/taskcore/domain"
	"github.com/zjrosen/taskcore/internal/tracing"
)

// PostgresStore implements domain.Store against a pgxpool.Pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// maxClaimScan bounds how many queued rows ClaimNextTaskFor will lock
// and inspect in one call when skipping over-retry-cap tasks, so a
// deep backlog of stale timeouts can't turn one claim attempt into a
// full-table scan.
const maxClaimScan = 50

// New wraps an already-connected pool. Migrations are applied
// separately via internal/infrastructure/postgres.MigrateUp.
func New(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const taskColumns = `id, candidate_id, job_id, ats_score, status, assigned_to, retry_count,
	old_resume_url, new_resume_url, missing_keywords, suggestions, notes,
	created_at, assigned_at, deadline_at, started_at, completed_at`

func scanTask(row pgx.Row) (*domain.Task, error) {
	var (
		id, candidate, job, status  string
		assignedTo                  *string
		atsScore                    float64
		retryCount                  int
		oldURL, newURL              string
		missingKeywords, suggestions, notes []string
		createdAt                   time.Time
		assignedAt, deadlineAt, startedAt, completedAt *time.Time
	)
	if err := row.Scan(&id, &candidate, &job, &atsScore, &status, &assignedTo, &retryCount,
		&oldURL, &newURL, &missingKeywords, &suggestions, &notes,
		&createdAt, &assignedAt, &deadlineAt, &startedAt, &completedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coreerrors.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	at := ""
	if assignedTo != nil {
		at = *assignedTo
	}
	if !domain.TaskStatus(status).IsValid() {
		return nil, &coreerrors.Fatal{Component: "store", Reason: fmt.Sprintf("task %s has unrecognized status %q", id, status)}
	}
	t := domain.ReconstituteTask(id, candidate, job, atsScore, domain.TaskStatus(status), at, retryCount,
		oldURL, newURL, missingKeywords, suggestions, notes,
		createdAt, assignedAt, deadlineAt, startedAt, completedAt)
	return t, nil
}

const reviewerColumns = `id, role, presence, warnings, violations, tasks_completed,
	avg_completion_seconds, last_heartbeat_at, active, current_task_id, created_at, updated_at`

func scanReviewer(row pgx.Row) (*domain.Reviewer, error) {
	var (
		id, role, presence string
		warnings, violations int
		tasksCompleted     int64
		avgSeconds         float64
		lastHeartbeat      time.Time
		active             bool
		currentTaskID      *string
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&id, &role, &presence, &warnings, &violations, &tasksCompleted,
		&avgSeconds, &lastHeartbeat, &active, &currentTaskID, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coreerrors.ErrReviewerNotFound
		}
		return nil, fmt.Errorf("scan reviewer: %w", err)
	}
	// Schema drift (a hand-edited row, or a status value a prior
	// version wrote that this build no longer recognizes) is not
	// something the caller can retry its way out of, so it is
	// surfaced as Fatal per spec §7 rather than a parse error.
	if !domain.Presence(presence).IsValid() {
		return nil, &coreerrors.Fatal{Component: "store", Reason: fmt.Sprintf("reviewer %s has unrecognized presence %q", id, presence)}
	}
	ct := ""
	if currentTaskID != nil {
		ct = *currentTaskID
	}
	r := domain.ReconstituteReviewer(id, domain.ReviewerRole(role), domain.Presence(presence),
		warnings, violations, tasksCompleted, avgSeconds, lastHeartbeat, active, ct, createdAt, updatedAt)
	return r, nil
}

// asTransient wraps a Postgres error (*pgconn.PgError) or a context
// deadline/cancellation error as a Transient failure per spec §7, so
// retry.Do (internal/retry) knows to back off and retry instead of
// surfacing it immediately; any other error is returned unchanged.
func asTransient(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &coreerrors.Transient{Operation: operation, Cause: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &coreerrors.Transient{Operation: operation, Cause: err}
	}
	return err
}

func (s *PostgresStore) Enqueue(ctx context.Context, candidate, job string, score float64, oldResumeURL string, missingKeywords, suggestions []string) (*domain.Task, error) {
	ctx, span := tracing.StartSpan(ctx, "store.Enqueue")
	defer span.End()

	id := uuid.NewString()
	const q = `INSERT INTO tasks (id, candidate_id, job_id, ats_score, status, old_resume_url, missing_keywords, suggestions)
		VALUES ($1, $2, $3, $4, 'queued', $5, $6, $7)
		RETURNING ` + taskColumns

	row := s.pool.QueryRow(ctx, q, id, candidate, job, score, oldResumeURL, missingKeywords, suggestions)
	t, err := scanTask(row)
	if err != nil {
		log.ErrorErr(log.CatStore, "enqueue failed", err, "candidate", candidate, "job", job)
		return nil, asTransient("enqueue", err)
	}
	log.Info(log.CatStore, "task enqueued", "task_id", t.ID(), "candidate", candidate, "job", job)
	return t, nil
}

// ClaimNextTaskFor implements the skip-locked claim of spec §4.1(b-d):
// lock the oldest claimable queued task and the named reviewer's row,
// verify eligibility, and bind them atomically. Queued tasks already
// past maxRetries are marked timeout in place and skipped (spec §4.3)
// rather than ever being handed to a reviewer.
func (s *PostgresStore) ClaimNextTaskFor(ctx context.Context, reviewerID string, sla time.Duration, maxRetries int) (*domain.Task, error) {
	ctx, span := tracing.StartSpan(ctx, "store.ClaimNextTaskFor")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, asTransient("claim_next_task_for.begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock order is task-first, reviewer-second throughout the store
	// (spec §5), to avoid deadlocking against Complete/Fail/Expire,
	// which also touch both rows.
	rows, err := tx.Query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE status = 'queued'
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, maxClaimScan)
	if err != nil {
		return nil, asTransient("claim_next_task_for.lock_task", err)
	}

	var task *domain.Task
	var timedOut []*domain.Task
	for rows.Next() {
		candidate, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, asTransient("claim_next_task_for.scan_task", err)
		}
		if candidate.ExceedsRetryCap(maxRetries) {
			candidate.MarkTimeout()
			timedOut = append(timedOut, candidate)
			continue
		}
		task = candidate
		break
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, asTransient("claim_next_task_for.scan_task", err)
	}

	for _, t := range timedOut {
		if _, err := tx.Exec(ctx, `UPDATE tasks SET status=$2, assigned_to=NULL WHERE id=$1`, t.ID(), string(t.Status())); err != nil {
			return nil, asTransient("claim_next_task_for.timeout_task", err)
		}
		log.Warn(log.CatStore, "queued task already exceeds retry cap, marking timeout", "task_id", t.ID())
	}

	if task == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, asTransient("claim_next_task_for.commit", err)
		}
		return nil, coreerrors.ErrNoQueuedTask
	}

	revRow := tx.QueryRow(ctx, `SELECT `+reviewerColumns+` FROM reviewers WHERE id = $1 FOR UPDATE`, reviewerID)
	reviewer, err := scanReviewer(revRow)
	if err != nil {
		if errors.Is(err, coreerrors.ErrReviewerNotFound) {
			return nil, coreerrors.ErrNoCandidateReviewer
		}
		return nil, asTransient("claim_next_task_for.lock_reviewer", err)
	}

	presenceTTL := 90 * time.Second // fixed heartbeat-freshness window; the configured presence_ttl is not passed in, and the assigner does no heartbeat check of its own
	if !reviewer.IsEligibleForAssignment(time.Now(), presenceTTL) {
		return nil, coreerrors.ErrNoCandidateReviewer
	}

	now := time.Now()
	task.Assign(reviewerID, sla, now)
	reviewer.AssignTask(task.ID())

	if _, err := tx.Exec(ctx, `UPDATE tasks SET status=$2, assigned_to=$3, assigned_at=$4, deadline_at=$5 WHERE id=$1`,
		task.ID(), string(task.Status()), task.AssignedTo(), task.AssignedAt(), task.DeadlineAt()); err != nil {
		return nil, asTransient("claim_next_task_for.update_task", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE reviewers SET presence=$2, current_task_id=$3, updated_at=$4 WHERE id=$1`,
		reviewer.ID(), string(reviewer.Presence()), reviewer.CurrentTaskID(), now); err != nil {
		return nil, asTransient("claim_next_task_for.update_reviewer", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, asTransient("claim_next_task_for.commit", err)
	}
	log.Info(log.CatStore, "task assigned", "task_id", task.ID(), "reviewer_id", reviewerID)
	return task, nil
}

// MarkReviewerOffline forces reviewerID's presence to offline without
// refreshing its heartbeat (domain.Reviewer.MarkOffline), for the
// Assigner's stale-heartbeat-mid-assignment edge case (spec §4.3).
func (s *PostgresStore) MarkReviewerOffline(ctx context.Context, reviewerID string) (*domain.Reviewer, error) {
	ctx, span := tracing.StartSpan(ctx, "store.MarkReviewerOffline")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, asTransient("mark_reviewer_offline.begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+reviewerColumns+` FROM reviewers WHERE id=$1 FOR UPDATE`, reviewerID)
	reviewer, err := scanReviewer(row)
	if err != nil {
		return nil, asTransient("mark_reviewer_offline.lock", err)
	}
	reviewer.MarkOffline()
	if _, err := tx.Exec(ctx, `UPDATE reviewers SET presence=$2, updated_at=$3 WHERE id=$1`,
		reviewerID, string(reviewer.Presence()), reviewer.UpdatedAt()); err != nil {
		return nil, asTransient("mark_reviewer_offline.update", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, asTransient("mark_reviewer_offline.commit", err)
	}
	log.Warn(log.CatStore, "reviewer marked offline, stale heartbeat mid-assignment", "reviewer_id", reviewerID)
	return reviewer, nil
}

// Timeout marks taskID as permanently timed out (terminal), freeing
// the holding reviewer if the task was still held.
func (s *PostgresStore) Timeout(ctx context.Context, taskID string) (*domain.Task, error) {
	ctx, span := tracing.StartSpan(ctx, "store.Timeout")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, asTransient("timeout.begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, taskID)
	task, err := scanTask(row)
	if err != nil {
		return nil, asTransient("timeout.lock_task", err)
	}
	reviewerID := task.AssignedTo()
	task.MarkTimeout()
	if _, err := tx.Exec(ctx, `UPDATE tasks SET status=$2, assigned_to=NULL WHERE id=$1`, taskID, string(task.Status())); err != nil {
		return nil, asTransient("timeout.update_task", err)
	}
	if reviewerID != "" {
		if _, err := tx.Exec(ctx, `UPDATE reviewers SET current_task_id=NULL, presence='available', updated_at=$2 WHERE id=$1 AND active`,
			reviewerID, time.Now()); err != nil {
			return nil, asTransient("timeout.update_reviewer", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, asTransient("timeout.commit", err)
	}
	log.Warn(log.CatStore, "task marked timeout", "task_id", taskID, "reviewer_id", reviewerID)
	return task, nil
}

func (s *PostgresStore) Start(ctx context.Context, taskID, reviewerID string) (*domain.Task, error) {
	ctx, span := tracing.StartSpan(ctx, "store.Start")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, asTransient("start.begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, taskID)
	task, err := scanTask(row)
	if err != nil {
		return nil, asTransient("start.lock_task", err)
	}
	if !task.IsHeldBy(reviewerID) {
		if task.AssignedTo() != reviewerID && task.AssignedTo() != "" {
			return nil, &coreerrors.NotOwner{TaskID: taskID, Reviewer: reviewerID}
		}
		return nil, &coreerrors.IllegalTransition{Entity: "task", From: string(task.Status()), To: string(domain.TaskInProgress)}
	}
	if err := task.Start(); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE tasks SET status=$2, started_at=$3 WHERE id=$1`, taskID, string(task.Status()), task.StartedAt()); err != nil {
		return nil, asTransient("start.update", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, asTransient("start.commit", err)
	}
	log.Info(log.CatStore, "task started", "task_id", taskID, "reviewer_id", reviewerID)
	return task, nil
}

func (s *PostgresStore) Complete(ctx context.Context, taskID, reviewerID, newResumeURL, notes string) (*domain.Task, *domain.Application, error) {
	ctx, span := tracing.StartSpan(ctx, "store.Complete")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, asTransient("complete.begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	taskRow := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, taskID)
	task, err := scanTask(taskRow)
	if err != nil {
		return nil, nil, asTransient("complete.lock_task", err)
	}
	if !task.IsHeldBy(reviewerID) {
		return nil, nil, &coreerrors.NotOwner{TaskID: taskID, Reviewer: reviewerID}
	}
	revRow := tx.QueryRow(ctx, `SELECT `+reviewerColumns+` FROM reviewers WHERE id=$1 FOR UPDATE`, reviewerID)
	reviewer, err := scanReviewer(revRow)
	if err != nil {
		return nil, nil, asTransient("complete.lock_reviewer", err)
	}

	assignedAt := task.AssignedAt()
	if err := task.Complete(newResumeURL, notes); err != nil {
		return nil, nil, err
	}
	completionSeconds := 0.0
	if assignedAt != nil && task.CompletedAt() != nil {
		completionSeconds = task.CompletedAt().Sub(*assignedAt).Seconds()
	}
	reviewer.RecordCompletion(completionSeconds)

	if _, err := tx.Exec(ctx, `UPDATE tasks SET status=$2, completed_at=$3, new_resume_url=$4, notes=$5, assigned_to=NULL WHERE id=$1`,
		taskID, string(task.Status()), task.CompletedAt(), task.NewResumeURL(), task.Notes()); err != nil {
		return nil, nil, asTransient("complete.update_task", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE reviewers SET tasks_completed=$2, avg_completion_seconds=$3, current_task_id=NULL, presence=$4, updated_at=$5 WHERE id=$1`,
		reviewerID, reviewer.TasksCompleted(), reviewer.AvgCompletionSeconds(), string(reviewer.Presence()), time.Now()); err != nil {
		return nil, nil, asTransient("complete.update_reviewer", err)
	}

	app := domain.NewApplication(task.Candidate(), task.Job(), newResumeURL, task.ATSScore())
	const upsertApp = `INSERT INTO applications (candidate_id, job_id, resume_url, ats_score_at_submission, auto_submitted, submitted_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		ON CONFLICT (candidate_id, job_id) DO UPDATE SET resume_url=$3, ats_score_at_submission=$4, submitted_at=$5`
	if _, err := tx.Exec(ctx, upsertApp, app.Candidate(), app.Job(), app.ResumeURL(), app.ATSScoreAtSubmission(), app.SubmittedAt()); err != nil {
		return nil, nil, asTransient("complete.upsert_application", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, asTransient("complete.commit", err)
	}
	log.Info(log.CatStore, "task completed", "task_id", taskID, "reviewer_id", reviewerID, "completion_seconds", completionSeconds)
	return task, app, nil
}

func (s *PostgresStore) Fail(ctx context.Context, taskID, reviewerID, reason string) (*domain.Task, error) {
	ctx, span := tracing.StartSpan(ctx, "store.Fail")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, asTransient("fail.begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	taskRow := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, taskID)
	task, err := scanTask(taskRow)
	if err != nil {
		return nil, asTransient("fail.lock_task", err)
	}
	if !task.IsHeldBy(reviewerID) {
		return nil, &coreerrors.NotOwner{TaskID: taskID, Reviewer: reviewerID}
	}
	if err := task.Fail(reason); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE tasks SET status=$2, assigned_to=NULL, assigned_at=NULL, deadline_at=NULL, started_at=NULL, retry_count=$3, notes=$4 WHERE id=$1`,
		taskID, string(task.Status()), task.RetryCount(), task.Notes()); err != nil {
		return nil, asTransient("fail.update_task", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE reviewers SET current_task_id=NULL, presence='available', updated_at=$2 WHERE id=$1 AND active`,
		reviewerID, time.Now()); err != nil {
		return nil, asTransient("fail.update_reviewer", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, asTransient("fail.commit", err)
	}
	log.Warn(log.CatStore, "task failed by reviewer", "task_id", taskID, "reviewer_id", reviewerID, "reason", reason)
	return task, nil
}

// Expire implements spec §4.4: requeue the task, apply the strike
// machine to the holding reviewer, and write an Incident, all in one
// transaction. Called only by the Deadline Monitor.
func (s *PostgresStore) Expire(ctx context.Context, taskID string) (*domain.Task, *domain.StrikeResult, *domain.Incident, error) {
	ctx, span := tracing.StartSpan(ctx, "store.Expire")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, nil, asTransient("expire.begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	taskRow := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, taskID)
	task, err := scanTask(taskRow)
	if err != nil {
		return nil, nil, nil, asTransient("expire.lock_task", err)
	}
	if !task.Status().IsHeld() {
		return nil, nil, nil, &coreerrors.IllegalTransition{Entity: "task", From: string(task.Status()), To: "queued"}
	}
	reviewerID := task.AssignedTo()
	minutesOverdue := 0
	if task.DeadlineAt() != nil {
		minutesOverdue = int(time.Since(*task.DeadlineAt()).Minutes())
	}

	revRow := tx.QueryRow(ctx, `SELECT `+reviewerColumns+` FROM reviewers WHERE id=$1 FOR UPDATE`, reviewerID)
	reviewer, err := scanReviewer(revRow)
	if err != nil {
		return nil, nil, nil, asTransient("expire.lock_reviewer", err)
	}

	task.Expire()
	strike := reviewer.RecordMissedDeadline()
	reason := fmt.Sprintf("sla exceeded by %d minutes", minutesOverdue)
	incident := domain.NewIncident(reviewerID, strike.Kind, reason, taskID)

	if _, err := tx.Exec(ctx, `UPDATE tasks SET status=$2, assigned_to=NULL, assigned_at=NULL, deadline_at=NULL, started_at=NULL, retry_count=$3 WHERE id=$1`,
		taskID, string(task.Status()), task.RetryCount()); err != nil {
		return nil, nil, nil, asTransient("expire.update_task", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE reviewers SET warnings=$2, violations=$3, active=$4, presence=$5, current_task_id=NULL, updated_at=$6 WHERE id=$1`,
		reviewerID, reviewer.Warnings(), reviewer.Violations(), reviewer.Active(), string(reviewer.Presence()), time.Now()); err != nil {
		return nil, nil, nil, asTransient("expire.update_reviewer", err)
	}
	incRow := tx.QueryRow(ctx, `INSERT INTO incidents (reviewer_id, kind, reason, task_id) VALUES ($1,$2,$3,$4) RETURNING id, created_at`,
		reviewerID, string(strike.Kind), reason, taskID)
	var incID int64
	var incCreatedAt time.Time
	if err := incRow.Scan(&incID, &incCreatedAt); err != nil {
		return nil, nil, nil, asTransient("expire.insert_incident", err)
	}
	incident = domain.ReconstituteIncident(incID, reviewerID, strike.Kind, reason, taskID, incCreatedAt)

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, nil, asTransient("expire.commit", err)
	}
	log.Warn(log.CatDeadline, "task expired", "task_id", taskID, "reviewer_id", reviewerID, "kind", strike.Kind, "suspended", strike.Suspended)
	return task, &strike, incident, nil
}

func (s *PostgresStore) SetPresence(ctx context.Context, reviewerID string, newPresence domain.Presence) (*domain.Reviewer, error) {
	ctx, span := tracing.StartSpan(ctx, "store.SetPresence")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, asTransient("set_presence.begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+reviewerColumns+` FROM reviewers WHERE id=$1 FOR UPDATE`, reviewerID)
	reviewer, err := scanReviewer(row)
	if err != nil {
		return nil, asTransient("set_presence.lock", err)
	}
	if err := reviewer.SetPresence(newPresence); err != nil {
		return nil, err
	}
	reviewer.RecordHeartbeat(time.Now())
	if _, err := tx.Exec(ctx, `UPDATE reviewers SET presence=$2, last_heartbeat_at=$3, updated_at=$4 WHERE id=$1`,
		reviewerID, string(reviewer.Presence()), reviewer.LastHeartbeatAt(), reviewer.UpdatedAt()); err != nil {
		return nil, asTransient("set_presence.update", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, asTransient("set_presence.commit", err)
	}
	log.Info(log.CatStore, "reviewer presence set", "reviewer_id", reviewerID, "presence", newPresence)
	return reviewer, nil
}

func (s *PostgresStore) AdminResetReviewer(ctx context.Context, reviewerID string) (*domain.Reviewer, *domain.Incident, error) {
	ctx, span := tracing.StartSpan(ctx, "store.AdminResetReviewer")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, asTransient("admin_reset.begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+reviewerColumns+` FROM reviewers WHERE id=$1 FOR UPDATE`, reviewerID)
	reviewer, err := scanReviewer(row)
	if err != nil {
		return nil, nil, asTransient("admin_reset.lock", err)
	}
	reviewer.AdminReset()
	if _, err := tx.Exec(ctx, `UPDATE reviewers SET warnings=0, violations=0, active=TRUE, presence='offline', current_task_id=NULL, updated_at=$2 WHERE id=$1`,
		reviewerID, reviewer.UpdatedAt()); err != nil {
		return nil, nil, asTransient("admin_reset.update", err)
	}
	incRow := tx.QueryRow(ctx, `INSERT INTO incidents (reviewer_id, kind, reason) VALUES ($1,$2,$3) RETURNING id, created_at`,
		reviewerID, string(domain.IncidentAdminReset), "admin reset")
	var incID int64
	var incCreatedAt time.Time
	if err := incRow.Scan(&incID, &incCreatedAt); err != nil {
		return nil, nil, asTransient("admin_reset.insert_incident", err)
	}
	incident := domain.ReconstituteIncident(incID, reviewerID, domain.IncidentAdminReset, "admin reset", "", incCreatedAt)
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, asTransient("admin_reset.commit", err)
	}
	log.Info(log.CatStore, "reviewer admin reset", "reviewer_id", reviewerID)
	return reviewer, incident, nil
}

func (s *PostgresStore) RegisterReviewer(ctx context.Context, reviewerID string, role domain.ReviewerRole) (*domain.Reviewer, error) {
	ctx, span := tracing.StartSpan(ctx, "store.RegisterReviewer")
	defer span.End()

	const q = `INSERT INTO reviewers (id, role, presence, last_heartbeat_at)
		VALUES ($1, $2, 'offline', $3)
		ON CONFLICT (id) DO UPDATE SET last_heartbeat_at=$3
		RETURNING ` + reviewerColumns
	row := s.pool.QueryRow(ctx, q, reviewerID, string(role), time.Now())
	reviewer, err := scanReviewer(row)
	if err != nil {
		return nil, asTransient("register_reviewer", err)
	}
	return reviewer, nil
}

func (s *PostgresStore) Heartbeat(ctx context.Context, reviewerID string) error {
	ctx, span := tracing.StartSpan(ctx, "store.Heartbeat")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `UPDATE reviewers SET last_heartbeat_at=$2 WHERE id=$1`, reviewerID, time.Now())
	if err != nil {
		return asTransient("heartbeat", err)
	}
	if tag.RowsAffected() == 0 {
		return coreerrors.ErrReviewerNotFound
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, taskID)
	t, err := scanTask(row)
	if err != nil {
		return nil, asTransient("get_task", err)
	}
	return t, nil
}

func (s *PostgresStore) GetReviewer(ctx context.Context, reviewerID string) (*domain.Reviewer, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+reviewerColumns+` FROM reviewers WHERE id=$1`, reviewerID)
	r, err := scanReviewer(row)
	if err != nil {
		return nil, asTransient("get_reviewer", err)
	}
	return r, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter domain.TaskFilter) ([]*domain.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []any{}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		q += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if filter.AssignedTo != "" {
		args = append(args, filter.AssignedTo)
		q += fmt.Sprintf(" AND assigned_to = $%d", len(args))
	}
	q += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, asTransient("list_tasks", err)
	}
	defer rows.Close()
	var out []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListReviewers(ctx context.Context, onlyEligible bool) ([]*domain.Reviewer, error) {
	q := `SELECT ` + reviewerColumns + ` FROM reviewers`
	if onlyEligible {
		q += ` WHERE presence='available' AND active AND current_task_id IS NULL AND violations < 3
			ORDER BY tasks_completed ASC, last_heartbeat_at ASC`
	} else {
		q += ` ORDER BY id ASC`
	}
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, asTransient("list_reviewers", err)
	}
	defer rows.Close()
	var out []*domain.Reviewer
	for rows.Next() {
		r, err := scanReviewer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ExpiredTasks(ctx context.Context, now time.Time) ([]*domain.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE status IN ('assigned','in_progress') AND deadline_at < $1
		ORDER BY deadline_at ASC`, now)
	if err != nil {
		return nil, asTransient("expired_tasks", err)
	}
	defer rows.Close()
	var out []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) WarnableTasks(ctx context.Context, now time.Time, marks []int) ([]*domain.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE status IN ('assigned','in_progress') AND deadline_at >= $1
		ORDER BY deadline_at ASC`, now)
	if err != nil {
		return nil, asTransient("warnable_tasks", err)
	}
	defer rows.Close()
	markSet := make(map[int]struct{}, len(marks))
	for _, m := range marks {
		markSet[m] = struct{}{}
	}
	var out []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		if _, ok := markSet[t.MinutesRemaining(now)]; ok {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

var _ domain.Store = (*PostgresStore)(nil)
