// Package errors defines the typed error kinds used across the task
// dispatch core. Every component classifies its failures into one of
// these kinds so that callers (gateway, intake API, CLI) can decide
// whether to surface, retry, or halt without inspecting error strings.
package errors

import (
	"errors"
	"fmt"
)

// Validation indicates bad input to the intake API or gateway. Never
// retried by the core.
type Validation struct {
	Operation string
	Field     string
	Reason    string
}

func (e *Validation) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: field %q: %s", e.Operation, e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Operation, e.Reason)
}

// NotOwner indicates a gateway action on a task not held by the caller.
type NotOwner struct {
	TaskID   string
	Reviewer string
}

func (e *NotOwner) Error() string {
	return fmt.Sprintf("reviewer %s does not own task %s", e.Reviewer, e.TaskID)
}

// IllegalTransition indicates an attempted state change that the
// entity's lifecycle does not allow from its current state.
type IllegalTransition struct {
	Entity string
	From   string
	To     string
}

func (e *IllegalTransition) Error() string {
	return fmt.Sprintf("illegal transition for %s: %s -> %s", e.Entity, e.From, e.To)
}

// Transient indicates a database timeout, lock-wait timeout, or bus
// publish failure. The Assigner, the Deadline Monitor and the event
// bus's Redis relay retry it with backoff capped at 10s (internal/retry)
// and give up only once the retry budget is exhausted; the intake API
// and the gateway do not retry it and return it to the caller at once.
type Transient struct {
	Operation string
	Cause     error
}

func (e *Transient) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Operation, e.Cause)
}

func (e *Transient) Unwrap() error { return e.Cause }

// Retryable reports whether the caller should retry the operation.
// Transient is always retryable; it exists so retry code can assert
// on the interface rather than the concrete type.
func (e *Transient) Retryable() bool { return true }

// Suspended indicates any reviewer action attempted while the
// reviewer's account is suspended (active=false). The gateway should
// drop the session on receipt.
type Suspended struct {
	Reviewer string
}

func (e *Suspended) Error() string {
	return fmt.Sprintf("reviewer %s is suspended", e.Reviewer)
}

// Fatal indicates schema drift or an invariant violation detected at
// runtime. The component that observes it logs it and halts; no
// incident row is written for it. An orchestrator restart is required.
type Fatal struct {
	Component string
	Reason    string
	Cause     error
}

func (e *Fatal) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fatal error in %s: %s: %v", e.Component, e.Reason, e.Cause)
	}
	return fmt.Sprintf("fatal error in %s: %s", e.Component, e.Reason)
}

func (e *Fatal) Unwrap() error { return e.Cause }

// Sentinel errors for conditions that do not carry per-call context.
var (
	ErrNoQueuedTask        = errors.New("no queued task available")
	ErrNoCandidateReviewer = errors.New("no eligible reviewer available")
	ErrTaskNotFound        = errors.New("task not found")
	ErrReviewerNotFound    = errors.New("reviewer not found")
)

// IsRetryable reports whether err (or one it wraps) is a Transient
// failure that the caller should retry.
func IsRetryable(err error) bool {
	var t *Transient
	return errors.As(err, &t)
}

// IsFatal reports whether err (or one it wraps) is a Fatal failure
// that the observing component should halt on rather than retry.
func IsFatal(err error) bool {
	var f *Fatal
	return errors.As(err, &f)
}
