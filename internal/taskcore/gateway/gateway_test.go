package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerrors "github.com/zjrosen/taskcore/internal/errors"
	"github.com/zjrosen/taskcore/internal/taskcore/domain"
	"github.com/zjrosen/taskcore/internal/taskcore/events"
)

type fakeStore struct {
	domain.Store
	tasks map[string]*domain.Task
}

func (f *fakeStore) GetTask(_ context.Context, taskID string) (*domain.Task, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, coreerrors.ErrTaskNotFound
	}
	return t, nil
}

func (f *fakeStore) Start(_ context.Context, taskID, reviewerID string) (*domain.Task, error) {
	t := f.tasks[taskID]
	if err := t.Start(); err != nil {
		return nil, err
	}
	return t, nil
}

func heldTask(id, assignedTo string) *domain.Task {
	now := time.Now()
	deadline := now.Add(20 * time.Minute)
	return domain.ReconstituteTask(id, "cand", "job", 0.5, domain.TaskAssigned, assignedTo, 0,
		"", "", nil, nil, nil, now, &now, &deadline, nil, nil)
}

func newTestSession(store *fakeStore, reviewerID string) *session {
	return &session{reviewerID: reviewerID, hub: &Hub{store: store, bus: events.New(nil), cfg: Config{PresenceTTL: 90 * time.Second}}}
}

func TestCheckOwnershipRejectsNonOwner(t *testing.T) {
	store := &fakeStore{tasks: map[string]*domain.Task{"t1": heldTask("t1", "rev-a")}}
	s := newTestSession(store, "rev-b")

	err := s.checkOwnership(context.Background(), "t1")
	require.Error(t, err)
	var notOwner *coreerrors.NotOwner
	require.ErrorAs(t, err, &notOwner)
}

func TestCheckOwnershipAllowsOwner(t *testing.T) {
	store := &fakeStore{tasks: map[string]*domain.Task{"t1": heldTask("t1", "rev-a")}}
	s := newTestSession(store, "rev-a")

	require.NoError(t, s.checkOwnership(context.Background(), "t1"))
}

func TestHandleStartRejectsNonOwnerWithoutMutatingTask(t *testing.T) {
	store := &fakeStore{tasks: map[string]*domain.Task{"t1": heldTask("t1", "rev-a")}}
	s := newTestSession(store, "rev-b")

	s.handleStart(context.Background(), "t1")
	require.Equal(t, domain.TaskAssigned, store.tasks["t1"].Status(), "task must remain untouched for a non-owner start")
}
