package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/taskcore/internal/taskcore/domain"
	"github.com/zjrosen/taskcore/internal/taskcore/events"
)

// fakeStore implements domain.Store with the bare minimum needed to
// exercise the Intake API handlers in isolation, the same way the
// pack's handler tests stub out their repository collaborators.
type fakeStore struct {
	domain.Store
	tasks      []*domain.Task
	reviewers  map[string]*domain.Reviewer
	enqueueErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{reviewers: map[string]*domain.Reviewer{}}
}

func (f *fakeStore) Enqueue(_ context.Context, candidate, job string, score float64, oldResumeURL string, missingKeywords, suggestions []string) (*domain.Task, error) {
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	task := domain.NewTask("task-1", candidate, job, score, oldResumeURL, missingKeywords, suggestions)
	f.tasks = append(f.tasks, task)
	return task, nil
}

func (f *fakeStore) SetPresence(_ context.Context, reviewerID string, newPresence domain.Presence) (*domain.Reviewer, error) {
	r := domain.NewReviewer(reviewerID, domain.RoleEmployee)
	if err := r.SetPresence(newPresence); err != nil {
		return nil, err
	}
	f.reviewers[reviewerID] = r
	return r, nil
}

type fakeForwarder struct {
	called bool
	err    error
}

func (f *fakeForwarder) Forward(candidate, job, resumeURL string, score float64) error {
	f.called = true
	return f.err
}

func newTestServer(store *fakeStore, forwarder *fakeForwarder) *Server {
	return New(store, events.New(nil), forwarder, Config{ScoreThreshold: 0.90})
}

func TestHandleEnqueueTaskBelowThreshold(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(store, &fakeForwarder{})
	router := s.Router([]string{"*"})

	body, _ := json.Marshal(enqueueTaskRequest{
		CandidateID: "cand-1",
		JobID:       "job-1",
		ATSScore:    0.82,
	})
	req := httptest.NewRequest("POST", "/v1/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 201, rec.Code)
	require.Len(t, store.tasks, 1)
}

func TestHandleEnqueueTaskRejectsScoreAtThreshold(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(store, &fakeForwarder{})
	router := s.Router([]string{"*"})

	body, _ := json.Marshal(enqueueTaskRequest{
		CandidateID: "cand-1",
		JobID:       "job-1",
		ATSScore:    0.90,
	})
	req := httptest.NewRequest("POST", "/v1/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 400, rec.Code)
	require.Empty(t, store.tasks)
}

func TestHandleIngestScoreAboveThresholdForwards(t *testing.T) {
	store := newFakeStore()
	fwd := &fakeForwarder{}
	s := newTestServer(store, fwd)
	router := s.Router([]string{"*"})

	body, _ := json.Marshal(ingestScoreRequest{
		CandidateID: "cand-1",
		JobID:       "job-1",
		ATSScore:    0.95,
		ResumeURL:   "u1",
	})
	req := httptest.NewRequest("POST", "/v1/scores", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.True(t, fwd.called)
	require.Empty(t, store.tasks)
}

func TestHandleIngestScoreBelowThresholdEnqueues(t *testing.T) {
	store := newFakeStore()
	fwd := &fakeForwarder{}
	s := newTestServer(store, fwd)
	router := s.Router([]string{"*"})

	body, _ := json.Marshal(ingestScoreRequest{
		CandidateID: "cand-1",
		JobID:       "job-1",
		ATSScore:    0.5,
	})
	req := httptest.NewRequest("POST", "/v1/scores", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 201, rec.Code)
	require.False(t, fwd.called)
	require.Len(t, store.tasks, 1)
}

func TestHandleSetPresence(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(store, &fakeForwarder{})
	router := s.Router([]string{"*"})

	body, _ := json.Marshal(presenceRequest{Presence: "offline"})
	req := httptest.NewRequest("POST", "/v1/reviewers/rev-1/presence", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 204, rec.Code)
	require.Equal(t, domain.PresenceOffline, store.reviewers["rev-1"].Presence())
}

func TestHandleEnqueueTaskMalformedBody(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(store, &fakeForwarder{})
	router := s.Router([]string{"*"})

	req := httptest.NewRequest("POST", "/v1/tasks", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 400, rec.Code)
}
