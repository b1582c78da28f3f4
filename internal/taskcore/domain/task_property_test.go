package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestPropertySingleHolderAcrossTransitions is spec §8 property 1: at
// any point in a task's life, it is held by at most one reviewer, and
// assignedTo is always empty whenever the status is not held.
func TestPropertySingleHolderAcrossTransitions(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		task := NewTask("task-1", "cand-1", "job-1", 0.2, "", nil, nil)
		reviewers := []string{"rev-a", "rev-b", "rev-c"}

		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			assertHolderInvariant(t, task)

			switch task.Status() {
			case TaskQueued, TaskTimeout:
				if task.Status() == TaskTimeout {
					return // terminal, nothing further to drive
				}
				reviewer := rapid.SampledFrom(reviewers).Draw(t, "reviewer")
				task.Assign(reviewer, time.Hour, time.Now())
			case TaskAssigned:
				action := rapid.SampledFrom([]string{"start", "fail", "expire"}).Draw(t, "assigned_action")
				switch action {
				case "start":
					require.NoError(t, task.Start())
				case "fail":
					require.NoError(t, task.Fail("missed it"))
				case "expire":
					task.Expire()
				}
			case TaskInProgress:
				action := rapid.SampledFrom([]string{"complete", "fail", "expire"}).Draw(t, "inprogress_action")
				switch action {
				case "complete":
					require.NoError(t, task.Complete("resume.pdf", "done"))
				case "fail":
					require.NoError(t, task.Fail("gave up"))
				case "expire":
					task.Expire()
				}
			case TaskCompleted, TaskFailed:
				return // terminal status this test reaches; Fail requeues to Queued, not a true terminal, so only Completed ends here
			}
			assertHolderInvariant(t, task)
		}
	})
}

func assertHolderInvariant(t *rapid.T, task *Task) {
	t.Helper()
	if task.Status().IsHeld() {
		require.NotEmpty(t, task.AssignedTo())
	} else {
		require.Empty(t, task.AssignedTo())
	}
}

// TestPropertyRetryCountNeverDecreases is spec §8 property 2 (no lost
// task): every Fail/Expire requeue increments retry_count, so a task
// can never silently vanish without the counter reflecting how many
// times it was returned to the queue.
func TestPropertyRetryCountNeverDecreases(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		task := NewTask("task-1", "cand-1", "job-1", 0.2, "", nil, nil)
		requeues := rapid.IntRange(0, 20).Draw(t, "requeues")

		prevRetry := task.RetryCount()
		for i := 0; i < requeues; i++ {
			task.Assign("rev-a", time.Hour, time.Now())
			if rapid.Bool().Draw(t, "expire_not_fail") {
				task.Expire()
			} else {
				require.NoError(t, task.Fail("reason"))
			}
			require.Greater(t, task.RetryCount(), prevRetry)
			prevRetry = task.RetryCount()
			require.Equal(t, TaskQueued, task.Status())
		}
	})
}
