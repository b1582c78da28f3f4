package intake

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/taskcore/internal/taskcore/events"
)

// TestPropertyIngestScoreThresholdSplit is spec §8 property 5: for any
// ats_score and any configured score_threshold, ingest_score forwards
// to auto-apply if and only if score >= threshold, and the two paths
// are mutually exclusive (a request is never both enqueued and
// forwarded).
func TestPropertyIngestScoreThresholdSplit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		threshold := rapid.Float64Range(0, 1).Draw(t, "threshold")
		score := rapid.Float64Range(0, 1).Draw(t, "score")

		store := newFakeStore()
		forwarder := &fakeForwarder{}
		s := New(store, events.New(nil), forwarder, Config{ScoreThreshold: threshold})
		router := s.Router([]string{"*"})

		body, _ := json.Marshal(ingestScoreRequest{
			CandidateID: "cand-1",
			JobID:       "job-1",
			ResumeURL:   "resume.pdf",
			ATSScore:    score,
		})
		req := httptest.NewRequest("POST", "/v1/scores", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.True(t, rec.Code >= 200 && rec.Code < 300)

		var resp ingestScoreResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

		wantAutoApplied := score >= threshold
		require.Equal(t, wantAutoApplied, resp.AutoApplied)
		require.Equal(t, wantAutoApplied, forwarder.called)
		require.Equal(t, !wantAutoApplied, len(store.tasks) == 1)
		if wantAutoApplied {
			require.Empty(t, store.tasks)
		}
	})
}
