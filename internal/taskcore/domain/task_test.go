package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExceedsRetryCapTrueOnlyOnceOverLimit(t *testing.T) {
	task := NewTask("t1", "cand", "job", 0.2, "", nil, nil)
	require.False(t, task.ExceedsRetryCap(3))

	for i := 0; i < 3; i++ {
		task.Assign("rev-a", time.Hour, time.Now())
		task.Expire()
	}
	require.Equal(t, 3, task.RetryCount())
	require.False(t, task.ExceedsRetryCap(3), "retry_count == maxRetries is still within budget")

	task.Assign("rev-a", time.Hour, time.Now())
	task.Expire()
	require.Equal(t, 4, task.RetryCount())
	require.True(t, task.ExceedsRetryCap(3))
}

// TestMarkTimeoutClearsHolderAndIsTerminal covers the retry-cap skip
// path ClaimNextTaskFor drives: a task already past the retry cap is
// marked timeout instead of ever being handed to a reviewer.
func TestMarkTimeoutClearsHolderAndIsTerminal(t *testing.T) {
	task := NewTask("t1", "cand", "job", 0.2, "", nil, nil)
	for i := 0; i < 4; i++ {
		task.Assign("rev-a", time.Hour, time.Now())
		task.Expire()
	}
	require.True(t, task.ExceedsRetryCap(3))

	task.MarkTimeout()
	require.Equal(t, TaskTimeout, task.Status())
	require.Empty(t, task.AssignedTo())
	require.True(t, task.Status().IsTerminal())
}

func TestTaskStartRequiresAssignedStatus(t *testing.T) {
	task := NewTask("t1", "cand", "job", 0.2, "", nil, nil)
	require.Error(t, task.Start())

	task.Assign("rev-a", time.Hour, time.Now())
	require.NoError(t, task.Start())
	require.Equal(t, TaskInProgress, task.Status())
}

func TestTaskCompleteRequiresHeldStatus(t *testing.T) {
	task := NewTask("t1", "cand", "job", 0.2, "", nil, nil)
	require.Error(t, task.Complete("resume.pdf", "done"))

	task.Assign("rev-a", time.Hour, time.Now())
	require.NoError(t, task.Complete("resume.pdf", "done"))
	require.Equal(t, TaskCompleted, task.Status())
	require.Empty(t, task.AssignedTo())
}

func TestTaskFailRequeuesAndIncrementsRetryCount(t *testing.T) {
	task := NewTask("t1", "cand", "job", 0.2, "", nil, nil)
	task.Assign("rev-a", time.Hour, time.Now())

	require.NoError(t, task.Fail("missed it"))
	require.Equal(t, TaskQueued, task.Status())
	require.Equal(t, 1, task.RetryCount())
	require.Empty(t, task.AssignedTo())
}
