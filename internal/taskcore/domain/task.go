// Package domain provides the pure domain layer for the task dispatch
// core: Task, Reviewer, Incident, and Application entities with
// encapsulated state and behavior, and no infrastructure dependencies.
package domain

import (
	"time"

	coreerrors "github.com/zjrosen/taskcore/internal/errors"
)

// TaskStatus represents the lifecycle state of a review task.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskTimeout    TaskStatus = "timeout"
)

// String returns the string representation of the status.
func (s TaskStatus) String() string { return string(s) }

// IsValid reports whether s is a recognized task status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskQueued, TaskAssigned, TaskInProgress, TaskCompleted, TaskFailed, TaskTimeout:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskTimeout:
		return true
	default:
		return false
	}
}

// IsHeld reports whether a task in this status is currently held by a
// reviewer (assigned or in_progress, per invariant 1).
func (s TaskStatus) IsHeld() bool {
	return s == TaskAssigned || s == TaskInProgress
}

// Task is a review task produced by an upstream ATS score below the
// queuing threshold. All fields are unexported; use the constructors
// and methods below to create and mutate a Task.
type Task struct {
	id         string
	candidate  string
	job        string
	atsScore   float64
	status     TaskStatus
	assignedTo string // empty when not held
	retryCount int

	oldResumeURL string
	newResumeURL string

	missingKeywords []string
	suggestions     []string
	notes           []string

	createdAt   time.Time
	assignedAt  *time.Time
	deadlineAt  *time.Time
	startedAt   *time.Time
	completedAt *time.Time
}

// NewTask creates a new queued Task. The id is assigned by the caller
// (the store generates a uuid before insert) since domain entities do
// not depend on an id-generation library.
func NewTask(id, candidate, job string, atsScore float64, oldResumeURL string, missingKeywords, suggestions []string) *Task {
	now := time.Now()
	return &Task{
		id:              id,
		candidate:       candidate,
		job:             job,
		atsScore:        atsScore,
		status:          TaskQueued,
		oldResumeURL:    oldResumeURL,
		missingKeywords: missingKeywords,
		suggestions:     suggestions,
		createdAt:       now,
	}
}

// ReconstituteTask rebuilds a Task from persisted storage.
func ReconstituteTask(
	id, candidate, job string,
	atsScore float64,
	status TaskStatus,
	assignedTo string,
	retryCount int,
	oldResumeURL, newResumeURL string,
	missingKeywords, suggestions, notes []string,
	createdAt time.Time,
	assignedAt, deadlineAt, startedAt, completedAt *time.Time,
) *Task {
	return &Task{
		id:              id,
		candidate:       candidate,
		job:             job,
		atsScore:        atsScore,
		status:          status,
		assignedTo:      assignedTo,
		retryCount:      retryCount,
		oldResumeURL:    oldResumeURL,
		newResumeURL:    newResumeURL,
		missingKeywords: missingKeywords,
		suggestions:     suggestions,
		notes:           notes,
		createdAt:       createdAt,
		assignedAt:      assignedAt,
		deadlineAt:      deadlineAt,
		startedAt:       startedAt,
		completedAt:     completedAt,
	}
}

// Accessors.

func (t *Task) ID() string               { return t.id }
func (t *Task) Candidate() string        { return t.candidate }
func (t *Task) Job() string              { return t.job }
func (t *Task) ATSScore() float64        { return t.atsScore }
func (t *Task) Status() TaskStatus       { return t.status }
func (t *Task) AssignedTo() string       { return t.assignedTo }
func (t *Task) RetryCount() int          { return t.retryCount }
func (t *Task) OldResumeURL() string     { return t.oldResumeURL }
func (t *Task) NewResumeURL() string     { return t.newResumeURL }
func (t *Task) MissingKeywords() []string { return t.missingKeywords }
func (t *Task) Suggestions() []string    { return t.suggestions }
func (t *Task) Notes() []string          { return t.notes }
func (t *Task) CreatedAt() time.Time     { return t.createdAt }
func (t *Task) AssignedAt() *time.Time   { return t.assignedAt }
func (t *Task) DeadlineAt() *time.Time   { return t.deadlineAt }
func (t *Task) StartedAt() *time.Time    { return t.startedAt }
func (t *Task) CompletedAt() *time.Time  { return t.completedAt }

// IsHeldBy reports whether reviewerID currently owns this task in an
// active (assigned/in_progress) state.
func (t *Task) IsHeldBy(reviewerID string) bool {
	return t.status.IsHeld() && t.assignedTo == reviewerID
}

// Assign binds the task to reviewerID, setting assigned_at = now and
// deadline_at = now + sla. Callers must hold the task's exclusive lock
// (invariant 4) for the duration of the surrounding transaction.
func (t *Task) Assign(reviewerID string, sla time.Duration, now time.Time) {
	t.status = TaskAssigned
	t.assignedTo = reviewerID
	t.assignedAt = &now
	deadline := now.Add(sla)
	t.deadlineAt = &deadline
}

// Start transitions an assigned task to in_progress. Returns
// IllegalTransition if the task is not in assigned status.
func (t *Task) Start() error {
	if t.status != TaskAssigned {
		return &coreerrors.IllegalTransition{Entity: "task", From: string(t.status), To: string(TaskInProgress)}
	}
	now := time.Now()
	t.status = TaskInProgress
	t.startedAt = &now
	return nil
}

// Complete transitions an assigned/in_progress task to completed.
func (t *Task) Complete(newResumeURL, notes string) error {
	if !t.status.IsHeld() {
		return &coreerrors.IllegalTransition{Entity: "task", From: string(t.status), To: string(TaskCompleted)}
	}
	now := time.Now()
	t.status = TaskCompleted
	t.completedAt = &now
	t.newResumeURL = newResumeURL
	if notes != "" {
		t.notes = append(t.notes, notes)
	}
	t.assignedTo = ""
	return nil
}

// Fail transitions an assigned/in_progress task back to queued
// (reviewer-declared failure), incrementing retry_count and clearing
// the assignment.
func (t *Task) Fail(reason string) error {
	if !t.status.IsHeld() {
		return &coreerrors.IllegalTransition{Entity: "task", From: string(t.status), To: string(TaskQueued)}
	}
	t.status = TaskQueued
	t.assignedTo = ""
	t.assignedAt = nil
	t.deadlineAt = nil
	t.startedAt = nil
	t.retryCount++
	if reason != "" {
		t.notes = append(t.notes, reason)
	}
	return nil
}

// Expire requeues an expired assignment (C5 only). Unlike Fail, the
// caller (the Deadline Monitor) has already verified the deadline has
// passed; this method does not re-check IsHeld so the store can also
// use it from a state it has already validated under lock.
func (t *Task) Expire() {
	t.status = TaskQueued
	t.assignedTo = ""
	t.assignedAt = nil
	t.deadlineAt = nil
	t.startedAt = nil
	t.retryCount++
}

// MarkTimeout marks the task as permanently abandoned after exceeding
// the configured retry cap. Terminal: no further transitions.
func (t *Task) MarkTimeout() {
	t.status = TaskTimeout
	t.assignedTo = ""
}

// ExceedsRetryCap reports whether retry_count has exceeded maxRetries.
func (t *Task) ExceedsRetryCap(maxRetries int) bool {
	return t.retryCount > maxRetries
}

// MinutesRemaining returns the whole minutes left until deadline_at,
// or -1 if the task has no deadline.
func (t *Task) MinutesRemaining(now time.Time) int {
	if t.deadlineAt == nil {
		return -1
	}
	d := t.deadlineAt.Sub(now)
	if d < 0 {
		return -1
	}
	return int(d.Minutes())
}

// IsExpired reports whether the task's deadline has passed.
func (t *Task) IsExpired(now time.Time) bool {
	return t.deadlineAt != nil && t.deadlineAt.Before(now) && t.status.IsHeld()
}
