// Package intake implements the Intake API (C3): the HTTP surface
// collaborators use to queue review tasks, report presence changes,
// and submit raw ATS scores for threshold routing.
package intake

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/zjrosen/taskcore/internal/log"
	"github.com/zjrosen/taskcore/internal/taskcore/domain"
	"github.com/zjrosen/taskcore/internal/taskcore/events"
)

// AutoApplyForwarder is the out-of-scope collaborator ingest_score
// forwards to directly when a score clears the threshold (spec §4.7).
type AutoApplyForwarder interface {
	Forward(candidate, job, resumeURL string, score float64) error
}

// Server wires the Intake API's HTTP handlers to the Task Store and
// Event Bus.
type Server struct {
	store          domain.Store
	bus            *events.Bus
	forwarder      AutoApplyForwarder
	scoreThreshold float64
	validate       *validator.Validate
}

// Config holds the tunables the Intake API needs at construction time.
type Config struct {
	ScoreThreshold float64
	CORSOrigins    []string
}

// New builds a Server and its chi router.
func New(store domain.Store, bus *events.Bus, forwarder AutoApplyForwarder, cfg Config) *Server {
	return &Server{
		store:          store,
		bus:            bus,
		forwarder:      forwarder,
		scoreThreshold: cfg.ScoreThreshold,
		validate:       validator.New(),
	}
}

// Router builds the chi router for the Intake API surface.
func (s *Server) Router(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"POST", "GET"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.Post("/v1/tasks", s.handleEnqueueTask)
	r.Post("/v1/reviewers/{reviewer_id}/presence", s.handleSetPresence)
	r.Post("/v1/scores", s.handleIngestScore)
	return r
}

type enqueueTaskRequest struct {
	CandidateID     string   `json:"candidate_id" validate:"required"`
	JobID           string   `json:"job_id" validate:"required"`
	ATSScore        float64  `json:"ats_score" validate:"gte=0,lte=1"`
	MissingKeywords []string `json:"missing_keywords"`
	Suggestions     []string `json:"suggestions"`
	OldResumeURL    string   `json:"old_resume_url"`
}

type enqueueTaskResponse struct {
	TaskID string `json:"task_id"`
}

func (s *Server) handleEnqueueTask(w http.ResponseWriter, r *http.Request) {
	var req enqueueTaskRequest
	if !decodeAndValidate(w, r, s.validate, &req, "enqueue_task") {
		return
	}
	if req.ATSScore >= s.scoreThreshold {
		writeValidationError(w, "enqueue_task", "ats_score", "ScoreAboveThreshold")
		return
	}

	task, err := s.store.Enqueue(r.Context(), req.CandidateID, req.JobID, req.ATSScore,
		req.OldResumeURL, req.MissingKeywords, req.Suggestions)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	s.bus.Publish(r.Context(), events.Message{
		Topic:     events.TopicTaskEnqueued,
		Timestamp: time.Now(),
		TaskID:    task.ID(),
	})
	log.Info(log.CatIntake, "task enqueued", "task_id", task.ID(), "candidate", req.CandidateID, "job", req.JobID)

	writeJSON(w, http.StatusCreated, enqueueTaskResponse{TaskID: task.ID()})
}

type presenceRequest struct {
	Presence string `json:"presence" validate:"required,oneof=available busy offline"`
}

func (s *Server) handleSetPresence(w http.ResponseWriter, r *http.Request) {
	reviewerID := chi.URLParam(r, "reviewer_id")
	var req presenceRequest
	if !decodeAndValidate(w, r, s.validate, &req, "presence_set") {
		return
	}

	reviewer, err := s.store.SetPresence(r.Context(), reviewerID, domain.Presence(req.Presence))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	s.bus.Publish(r.Context(), events.Message{
		Topic:      events.TopicReviewerPresence,
		Timestamp:  time.Now(),
		ReviewerID: reviewer.ID(),
		Presence:   string(reviewer.Presence()),
	})
	log.Info(log.CatIntake, "presence set", "reviewer_id", reviewerID, "presence", req.Presence)

	w.WriteHeader(http.StatusNoContent)
}

type ingestScoreRequest struct {
	CandidateID     string   `json:"candidate_id" validate:"required"`
	JobID           string   `json:"job_id" validate:"required"`
	ATSScore        float64  `json:"ats_score" validate:"gte=0,lte=1"`
	ResumeURL       string   `json:"resume_url"`
	MissingKeywords []string `json:"missing_keywords"`
	Suggestions     []string `json:"suggestions"`
}

type ingestScoreResponse struct {
	TaskID       string `json:"task_id,omitempty"`
	AutoApplied  bool   `json:"auto_applied"`
}

// handleIngestScore is the convenience endpoint from spec §4.7: it
// splits on score_threshold, either enqueueing a review task or
// forwarding straight to the auto-apply collaborator without ever
// touching the Task Store.
func (s *Server) handleIngestScore(w http.ResponseWriter, r *http.Request) {
	var req ingestScoreRequest
	if !decodeAndValidate(w, r, s.validate, &req, "ingest_score") {
		return
	}

	if req.ATSScore >= s.scoreThreshold {
		if err := s.forwarder.Forward(req.CandidateID, req.JobID, req.ResumeURL, req.ATSScore); err != nil {
			log.ErrorErr(log.CatIntake, "auto-apply forward failed", err, "candidate", req.CandidateID, "job", req.JobID)
			http.Error(w, "auto-apply forward failed", http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, ingestScoreResponse{AutoApplied: true})
		return
	}

	task, err := s.store.Enqueue(r.Context(), req.CandidateID, req.JobID, req.ATSScore,
		req.ResumeURL, req.MissingKeywords, req.Suggestions)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.bus.Publish(r.Context(), events.Message{
		Topic:     events.TopicTaskEnqueued,
		Timestamp: time.Now(),
		TaskID:    task.ID(),
	})
	writeJSON(w, http.StatusCreated, ingestScoreResponse{TaskID: task.ID(), AutoApplied: false})
}
