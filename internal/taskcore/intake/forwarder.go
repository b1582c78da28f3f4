package intake

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/zjrosen/taskcore/internal/log"
)

// HTTPForwarder forwards auto-applied scores to the auto-apply
// collaborator over HTTP, behind a circuit breaker so a failing
// downstream never backs up the Intake API (SPEC_FULL.md §11).
type HTTPForwarder struct {
	endpoint string
	client   *http.Client
	cb       *gobreaker.CircuitBreaker
}

// NewHTTPForwarder builds an HTTPForwarder posting to endpoint.
func NewHTTPForwarder(endpoint string) *HTTPForwarder {
	return &HTTPForwarder{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "auto-apply-forward",
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn(log.CatIntake, "circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (f *HTTPForwarder) Forward(candidate, job, resumeURL string, score float64) error {
	_, err := f.cb.Execute(func() (any, error) {
		return nil, f.post(candidate, job, resumeURL, score)
	})
	return err
}

func (f *HTTPForwarder) post(candidate, job, resumeURL string, score float64) error {
	req, err := http.NewRequest(http.MethodPost, f.endpoint, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("candidate_id", candidate)
	q.Set("job_id", job)
	q.Set("resume_url", resumeURL)
	q.Set("ats_score", fmt.Sprintf("%f", score))
	req.URL.RawQuery = q.Encode()

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("auto-apply collaborator returned status %d", resp.StatusCode)
	}
	return nil
}

var _ AutoApplyForwarder = (*HTTPForwarder)(nil)
