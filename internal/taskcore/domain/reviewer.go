package domain

import (
	"time"

	coreerrors "github.com/zjrosen/taskcore/internal/errors"
)

// ReviewerRole is the reviewer's permission tier.
type ReviewerRole string

const (
	RoleAdmin    ReviewerRole = "admin"
	RoleManager  ReviewerRole = "manager"
	RoleEmployee ReviewerRole = "employee"
)

// Presence is a reviewer's availability for assignment.
type Presence string

const (
	PresenceAvailable Presence = "available"
	PresenceBusy      Presence = "busy"
	PresenceOffline   Presence = "offline"
)

// IsValid reports whether p is a recognized presence value.
func (p Presence) IsValid() bool {
	switch p {
	case PresenceAvailable, PresenceBusy, PresenceOffline:
		return true
	default:
		return false
	}
}

// IncidentKind classifies a strike-machine audit row.
type IncidentKind string

const (
	IncidentWarning    IncidentKind = "warning"
	IncidentViolation  IncidentKind = "violation"
	IncidentSuspension IncidentKind = "suspension"
	IncidentAdminReset IncidentKind = "admin_reset"
)

// StrikeResult reports what the strike machine did on one call to
// RecordMissedDeadline, for the caller to turn into Incident rows and
// bus events.
type StrikeResult struct {
	Kind        IncidentKind
	Warnings    int
	Violations  int
	Suspended   bool
}

// Reviewer is a human reviewer eligible to claim review tasks.
type Reviewer struct {
	id                   string
	role                 ReviewerRole
	presence             Presence
	warnings             int
	violations           int
	tasksCompleted       int64
	avgCompletionSeconds float64
	lastHeartbeatAt      time.Time
	active               bool
	currentTaskID        string // empty when no current task

	createdAt time.Time
	updatedAt time.Time
}

// NewReviewer creates a new active, offline reviewer.
func NewReviewer(id string, role ReviewerRole) *Reviewer {
	now := time.Now()
	return &Reviewer{
		id:        id,
		role:      role,
		presence:  PresenceOffline,
		active:    true,
		createdAt: now,
		updatedAt: now,
	}
}

// ReconstituteReviewer rebuilds a Reviewer from persisted storage.
func ReconstituteReviewer(
	id string,
	role ReviewerRole,
	presence Presence,
	warnings, violations int,
	tasksCompleted int64,
	avgCompletionSeconds float64,
	lastHeartbeatAt time.Time,
	active bool,
	currentTaskID string,
	createdAt, updatedAt time.Time,
) *Reviewer {
	return &Reviewer{
		id:                   id,
		role:                 role,
		presence:             presence,
		warnings:             warnings,
		violations:           violations,
		tasksCompleted:       tasksCompleted,
		avgCompletionSeconds: avgCompletionSeconds,
		lastHeartbeatAt:      lastHeartbeatAt,
		active:               active,
		currentTaskID:        currentTaskID,
		createdAt:            createdAt,
		updatedAt:            updatedAt,
	}
}

// Accessors.

func (r *Reviewer) ID() string                     { return r.id }
func (r *Reviewer) Role() ReviewerRole              { return r.role }
func (r *Reviewer) Presence() Presence              { return r.presence }
func (r *Reviewer) Warnings() int                   { return r.warnings }
func (r *Reviewer) Violations() int                 { return r.violations }
func (r *Reviewer) TasksCompleted() int64           { return r.tasksCompleted }
func (r *Reviewer) AvgCompletionSeconds() float64   { return r.avgCompletionSeconds }
func (r *Reviewer) LastHeartbeatAt() time.Time      { return r.lastHeartbeatAt }
func (r *Reviewer) Active() bool                    { return r.active }
func (r *Reviewer) CurrentTaskID() string           { return r.currentTaskID }
func (r *Reviewer) UpdatedAt() time.Time            { return r.updatedAt }

// HasCurrentTask reports whether the reviewer currently holds a task.
func (r *Reviewer) HasCurrentTask() bool { return r.currentTaskID != "" }

// IsEligibleForAssignment reports whether the reviewer may be
// considered a candidate by the Assigner (spec §4.3).
func (r *Reviewer) IsEligibleForAssignment(now time.Time, presenceTTL time.Duration) bool {
	return r.presence == PresenceAvailable &&
		r.active &&
		r.currentTaskID == "" &&
		r.violations < 3 &&
		now.Sub(r.lastHeartbeatAt) <= presenceTTL
}

// HasFreshHeartbeat reports whether the reviewer's heartbeat is newer
// than presenceTTL as of now.
func (r *Reviewer) HasFreshHeartbeat(now time.Time, presenceTTL time.Duration) bool {
	return now.Sub(r.lastHeartbeatAt) <= presenceTTL
}

// RecordHeartbeat stamps last_heartbeat_at = now.
func (r *Reviewer) RecordHeartbeat(now time.Time) {
	r.lastHeartbeatAt = now
	r.updatedAt = now
}

// AssignTask binds a task to the reviewer, setting presence=busy.
// Callers must already have validated eligibility under lock.
func (r *Reviewer) AssignTask(taskID string) {
	r.presence = PresenceBusy
	r.currentTaskID = taskID
	r.updatedAt = time.Now()
}

// ReleaseTask clears current_task_id and, if the reviewer is still
// active, sets presence back to available. Used by complete/fail/expire.
func (r *Reviewer) ReleaseTask() {
	r.currentTaskID = ""
	if r.active {
		r.presence = PresenceAvailable
	}
	r.updatedAt = time.Now()
}

// RecordCompletion updates tasks_completed and the running average
// completion time (seconds), then releases the task.
func (r *Reviewer) RecordCompletion(completionSeconds float64) {
	n := float64(r.tasksCompleted)
	r.avgCompletionSeconds = (r.avgCompletionSeconds*n + completionSeconds) / (n + 1)
	r.tasksCompleted++
	r.ReleaseTask()
}

// SetPresence applies the allowed presence transitions from spec §4.1:
// any -> offline is always allowed; available <-> busy is driven only
// by the engine (AssignTask/ReleaseTask), not by this setter; setting
// available while a current task is held, or any change while
// suspended, is rejected.
func (r *Reviewer) SetPresence(newPresence Presence) error {
	if !r.active {
		return &coreerrors.Suspended{Reviewer: r.id}
	}
	if newPresence == PresenceAvailable && r.currentTaskID != "" {
		return &coreerrors.IllegalTransition{Entity: "reviewer", From: string(r.presence), To: string(newPresence)}
	}
	if newPresence == PresenceBusy {
		return &coreerrors.IllegalTransition{Entity: "reviewer", From: string(r.presence), To: string(newPresence)}
	}
	r.presence = newPresence
	r.updatedAt = time.Now()
	return nil
}

// RecordMissedDeadline applies the strike machine (spec §4.4) for one
// expired task held by this reviewer, and returns what happened so the
// caller can write the Incident and publish the corresponding events,
// all within the same transaction.
func (r *Reviewer) RecordMissedDeadline() StrikeResult {
	result := StrikeResult{}
	if r.warnings < 2 {
		r.warnings++
		result.Kind = IncidentWarning
	} else {
		r.warnings = 0
		r.violations++
		result.Kind = IncidentViolation
	}
	if r.violations == 3 {
		r.active = false
		r.presence = PresenceOffline
		result.Suspended = true
	}
	result.Warnings = r.warnings
	result.Violations = r.violations
	r.updatedAt = time.Now()
	return result
}

// AdminReset clears violations/warnings, reactivates the reviewer, and
// sets presence to offline (the reviewer must re-establish presence via
// the gateway). Only reachable through an explicit admin operation —
// spec §8 property 4.
func (r *Reviewer) AdminReset() {
	r.warnings = 0
	r.violations = 0
	r.active = true
	r.presence = PresenceOffline
	r.currentTaskID = ""
	r.updatedAt = time.Now()
}

// MarkOffline forces presence=offline without refreshing the
// heartbeat, used by the Assigner when a candidate's heartbeat is
// discovered stale mid-assignment (spec §4.3 edge case). A plain
// presence=offline via SetPresence would also bump last_heartbeat_at,
// which is wrong here: the point is that the heartbeat is stale, not
// current. Gateway disconnects (spec §4.6) go through SetPresence
// directly since those are a real, current presence change.
func (r *Reviewer) MarkOffline() {
	r.presence = PresenceOffline
	r.updatedAt = time.Now()
}
