package assigner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerrors "github.com/zjrosen/taskcore/internal/errors"
	"github.com/zjrosen/taskcore/internal/taskcore/domain"
	"github.com/zjrosen/taskcore/internal/taskcore/events"
)

// fakeStore implements just enough of domain.Store to drive the
// Assigner's fairness policy + claim loop in isolation.
type fakeStore struct {
	domain.Store
	eligible       []*domain.Reviewer
	claims         []string
	claimErrFor    map[string]error
	markedOffline  []string
	markOfflineErr error
}

func (f *fakeStore) ListReviewers(_ context.Context, onlyEligible bool) ([]*domain.Reviewer, error) {
	return f.eligible, nil
}

func (f *fakeStore) ClaimNextTaskFor(_ context.Context, reviewerID string, sla time.Duration, maxRetries int) (*domain.Task, error) {
	if err, ok := f.claimErrFor[reviewerID]; ok {
		return nil, err
	}
	f.claims = append(f.claims, reviewerID)
	// Simulate the claimed reviewer becoming ineligible (now holds a task).
	remaining := f.eligible[:0]
	for _, r := range f.eligible {
		if r.ID() != reviewerID {
			remaining = append(remaining, r)
		}
	}
	f.eligible = remaining
	return domain.NewTask("t1", "cand", "job", 0.5, "", nil, nil), nil
}

func (f *fakeStore) MarkReviewerOffline(_ context.Context, reviewerID string) (*domain.Reviewer, error) {
	if f.markOfflineErr != nil {
		return nil, f.markOfflineErr
	}
	f.markedOffline = append(f.markedOffline, reviewerID)
	return nil, nil
}

func reviewerWithCompleted(id string, completed int64) *domain.Reviewer {
	r := domain.ReconstituteReviewer(id, domain.RoleEmployee, domain.PresenceAvailable,
		0, 0, completed, 0, time.Now(), true, "", time.Now(), time.Now())
	return r
}

func TestAssignOnePicksFewestCompletedCandidate(t *testing.T) {
	store := &fakeStore{eligible: []*domain.Reviewer{
		reviewerWithCompleted("rb", 3),
		reviewerWithCompleted("ra", 10),
	}}
	a := New(store, events.New(nil), Config{Tick: time.Second, SLA: 20 * time.Minute, MaxRetries: 3}, nil, nil)

	assigned, err := a.assignOne(context.Background())
	require.NoError(t, err)
	require.True(t, assigned)
	require.Equal(t, []string{"rb"}, store.claims)
}

func TestDrainOneTickStopsOnNoCandidateReviewer(t *testing.T) {
	store := &fakeStore{eligible: []*domain.Reviewer{reviewerWithCompleted("ra", 1)}}
	a := New(store, events.New(nil), Config{Tick: time.Second, SLA: 20 * time.Minute, MaxRetries: 3}, nil, nil)

	a.drainOneTick(context.Background())
	require.Len(t, store.claims, 1)
}

// TestAssignOneRetriesWithNextCandidateOnStaleReviewer exercises spec
// §4.3's mid-tick recovery: a candidate whose heartbeat went stale
// between the read and the claim is marked offline and skipped, and
// the same assignOne call picks the next eligible candidate instead of
// giving up the whole tick.
func TestAssignOneRetriesWithNextCandidateOnStaleReviewer(t *testing.T) {
	store := &fakeStore{
		eligible: []*domain.Reviewer{
			reviewerWithCompleted("stale", 0),
			reviewerWithCompleted("fresh", 5),
		},
		claimErrFor: map[string]error{"stale": coreerrors.ErrNoCandidateReviewer},
	}
	a := New(store, events.New(nil), Config{Tick: time.Second, SLA: 20 * time.Minute, MaxRetries: 3}, nil, nil)

	assigned, err := a.assignOne(context.Background())
	require.NoError(t, err)
	require.True(t, assigned)
	require.Equal(t, []string{"fresh"}, store.claims)
	require.Equal(t, []string{"stale"}, store.markedOffline)
}

func TestShouldWakeOnTaskEnqueued(t *testing.T) {
	require.True(t, shouldWake(events.Message{Topic: events.TopicTaskEnqueued}))
}

func TestShouldWakeOnReviewerAvailable(t *testing.T) {
	require.True(t, shouldWake(events.Message{Topic: events.TopicReviewerPresence, Presence: "available"}))
	require.False(t, shouldWake(events.Message{Topic: events.TopicReviewerPresence, Presence: "offline"}))
}

func TestShouldWakeIgnoresOtherTopics(t *testing.T) {
	require.False(t, shouldWake(events.Message{Topic: events.TopicTaskCompleted}))
}
