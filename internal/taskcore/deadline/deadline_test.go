package deadline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/taskcore/internal/taskcore/domain"
	"github.com/zjrosen/taskcore/internal/taskcore/events"
)

type fakeStore struct {
	domain.Store
	expired     []*domain.Task
	warnable    []*domain.Task
	expireCalls []string
}

func (f *fakeStore) ExpiredTasks(_ context.Context, now time.Time) ([]*domain.Task, error) {
	return f.expired, nil
}

func (f *fakeStore) WarnableTasks(_ context.Context, now time.Time, marks []int) ([]*domain.Task, error) {
	return f.warnable, nil
}

func (f *fakeStore) Expire(_ context.Context, taskID string) (*domain.Task, *domain.StrikeResult, *domain.Incident, error) {
	f.expireCalls = append(f.expireCalls, taskID)
	task := domain.NewTask(taskID, "cand", "job", 0.5, "", nil, nil)
	strike := &domain.StrikeResult{Kind: domain.IncidentWarning, Warnings: 1, Violations: 0}
	incident := domain.ReconstituteIncident(1, "rev-1", domain.IncidentWarning, "sla exceeded by 1 minutes", taskID, time.Now())
	return task, strike, incident, nil
}

type fakeLock struct {
	acquired map[string]bool
}

func (f *fakeLock) TryAcquire(_ context.Context, taskID string, minute int, ttl time.Duration) (bool, error) {
	key := taskID
	if f.acquired == nil {
		f.acquired = map[string]bool{}
	}
	if f.acquired[key] {
		return false, nil
	}
	f.acquired[key] = true
	return true, nil
}

func heldTask(id string, deadline time.Time) *domain.Task {
	t := domain.ReconstituteTask(id, "cand", "job", 0.5, domain.TaskAssigned, "rev-1", 0,
		"", "", nil, nil, nil, time.Now(), &deadline, &deadline, nil, nil)
	return t
}

func TestSweepExpiredCallsExpireForEachExpiredTask(t *testing.T) {
	store := &fakeStore{expired: []*domain.Task{heldTask("t1", time.Now().Add(-time.Minute))}}
	m := New(store, events.New(nil), &fakeLock{}, Config{Tick: time.Minute, WarningMarks: []int{5, 3, 1}}, nil)

	m.sweepExpired(context.Background(), time.Now())
	require.Equal(t, []string{"t1"}, store.expireCalls)
}

func TestSweepWarningsEmitsOncePerTaskMinute(t *testing.T) {
	deadline := time.Now().Add(5 * time.Minute)
	store := &fakeStore{warnable: []*domain.Task{heldTask("t1", deadline)}}
	lock := &fakeLock{}
	m := New(store, events.New(nil), lock, Config{Tick: time.Minute, WarningMarks: []int{5, 3, 1}}, nil)

	m.sweepWarnings(context.Background(), time.Now())
	m.sweepWarnings(context.Background(), time.Now())

	require.True(t, lock.acquired["t1"])
}
