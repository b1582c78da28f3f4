// Package gateway implements the Reviewer Gateway (C7): one WebSocket
// session per connected reviewer, forwarding start/complete/fail to
// the Task Store with ownership enforcement, and tracking presence via
// heartbeats, per spec §4.6.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	coreerrors "github.com/zjrosen/taskcore/internal/errors"
	"github.com/zjrosen/taskcore/internal/log"
	"github.com/zjrosen/taskcore/internal/taskcore/domain"
	"github.com/zjrosen/taskcore/internal/taskcore/events"
)

// Config holds the gateway's tunables.
type Config struct {
	PresenceTTL time.Duration
}

// Hub manages connected reviewer sessions and bridges Task Store
// operations to their WebSocket connections.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session // reviewer id -> session

	store domain.Store
	bus   *events.Bus
	cfg   Config
}

// NewHub builds a gateway Hub wired to the Task Store and Event Bus.
func NewHub(store domain.Store, bus *events.Bus, cfg Config) *Hub {
	return &Hub{
		sessions: make(map[string]*session),
		store:    store,
		bus:      bus,
		cfg:      cfg,
	}
}

// ServeWS accepts a WebSocket upgrade for an already-authenticated
// reviewer (the auth token check itself is out of scope per spec §4.6)
// and runs its session loop until the connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, reviewerID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.ErrorErr(log.CatGateway, "ws accept failed", err, "reviewer_id", reviewerID)
		return
	}

	sess := &session{
		conn:       conn,
		reviewerID: reviewerID,
		hub:        h,
		lastBeat:   time.Now(),
	}
	h.register(sess)
	defer h.unregister(sess)

	sess.onConnect(r.Context())
	sess.readLoop(r.Context())
}

func (h *Hub) register(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.reviewerID] = s
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	cur, ok := h.sessions[s.reviewerID]
	if ok && cur == s {
		delete(h.sessions, s.reviewerID)
	}
	h.mu.Unlock()

	// Session closing never fails the held task (spec §4.6): only mark
	// the reviewer offline so the Assigner stops considering them and
	// the Deadline Monitor eventually requeues whatever they held.
	if _, err := h.store.SetPresence(context.Background(), s.reviewerID, domain.PresenceOffline); err != nil {
		log.ErrorErr(log.CatGateway, "mark offline on disconnect failed", err, "reviewer_id", s.reviewerID)
		return
	}
	h.bus.Publish(context.Background(), events.Message{
		Topic:      events.TopicReviewerPresence,
		Timestamp:  time.Now(),
		ReviewerID: s.reviewerID,
		Presence:   string(domain.PresenceOffline),
	})
	log.Info(log.CatGateway, "reviewer session closed", "reviewer_id", s.reviewerID)
}

// Close closes every live reviewer session, for graceful shutdown.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.sessions))
	for _, s := range h.sessions {
		conns = append(conns, s.conn)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "server shutdown")
	}
}

// session is one reviewer's live connection.
type session struct {
	conn       *websocket.Conn
	reviewerID string
	hub        *Hub
	lastBeat   time.Time
	mu         sync.Mutex
}

type inboundMessage struct {
	Action    string `json:"action"`
	TaskID    string `json:"task_id"`
	NewResumeURL string `json:"new_resume_url"`
	Notes     string `json:"notes"`
	Reason    string `json:"reason"`
}

// onConnect sets presence=available if the reviewer is active and
// idle, preserving the prior presence otherwise (spec §4.6).
func (s *session) onConnect(ctx context.Context) {
	reviewer, err := s.hub.store.GetReviewer(ctx, s.reviewerID)
	if err != nil {
		if errOnGetReviewer(err) {
			registered, regErr := s.hub.store.RegisterReviewer(ctx, s.reviewerID, domain.RoleEmployee)
			if regErr != nil {
				log.ErrorErr(log.CatGateway, "register reviewer on connect failed", regErr, "reviewer_id", s.reviewerID)
				return
			}
			reviewer = registered
		} else {
			log.ErrorErr(log.CatGateway, "get reviewer on connect failed", err, "reviewer_id", s.reviewerID)
			return
		}
	}
	if reviewer.Active() && !reviewer.HasCurrentTask() {
		if _, err := s.hub.store.SetPresence(ctx, s.reviewerID, domain.PresenceAvailable); err != nil {
			log.ErrorErr(log.CatGateway, "set presence available on connect failed", err, "reviewer_id", s.reviewerID)
			return
		}
		s.hub.bus.Publish(ctx, events.Message{
			Topic:      events.TopicReviewerPresence,
			Timestamp:  time.Now(),
			ReviewerID: s.reviewerID,
			Presence:   string(domain.PresenceAvailable),
		})
	}
}

func errOnGetReviewer(err error) bool {
	return errors.Is(err, coreerrors.ErrReviewerNotFound)
}

// readLoop reads frames until the connection closes or the heartbeat
// times out.
func (s *session) readLoop(ctx context.Context) {
	for {
		deadlineCtx, cancel := context.WithTimeout(ctx, s.hub.cfg.PresenceTTL)
		_, data, err := s.conn.Read(deadlineCtx)
		cancel()
		if err != nil {
			return // includes heartbeat-timeout: deadlineCtx cancels the read
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError("malformed message")
			continue
		}
		s.handle(ctx, msg)
	}
}

func (s *session) handle(ctx context.Context, msg inboundMessage) {
	switch msg.Action {
	case "heartbeat":
		s.handleHeartbeat(ctx)
	case "start":
		s.handleStart(ctx, msg.TaskID)
	case "complete":
		s.handleComplete(ctx, msg.TaskID, msg.NewResumeURL, msg.Notes)
	case "fail":
		s.handleFail(ctx, msg.TaskID, msg.Reason)
	default:
		s.sendError("unknown action: " + msg.Action)
	}
}

func (s *session) handleHeartbeat(ctx context.Context) {
	if err := s.hub.store.Heartbeat(ctx, s.reviewerID); err != nil {
		log.ErrorErr(log.CatGateway, "heartbeat failed", err, "reviewer_id", s.reviewerID)
		return
	}
	s.mu.Lock()
	s.lastBeat = time.Now()
	s.mu.Unlock()
}

// checkOwnership enforces that the reviewer owns taskID before
// forwarding to the Task Store, per spec §4.6.
func (s *session) checkOwnership(ctx context.Context, taskID string) error {
	task, err := s.hub.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !task.IsHeldBy(s.reviewerID) {
		return &coreerrors.NotOwner{TaskID: taskID, Reviewer: s.reviewerID}
	}
	return nil
}

func (s *session) handleStart(ctx context.Context, taskID string) {
	if err := s.checkOwnership(ctx, taskID); err != nil {
		s.sendError(err.Error())
		return
	}
	task, err := s.hub.store.Start(ctx, taskID, s.reviewerID)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	s.hub.bus.Publish(ctx, events.Message{Topic: events.TopicTaskStarted, Timestamp: time.Now(), TaskID: task.ID(), ReviewerID: s.reviewerID})
	s.sendOK("start", task.ID())
}

func (s *session) handleComplete(ctx context.Context, taskID, newResumeURL, notes string) {
	if err := s.checkOwnership(ctx, taskID); err != nil {
		s.sendError(err.Error())
		return
	}
	task, _, err := s.hub.store.Complete(ctx, taskID, s.reviewerID, newResumeURL, notes)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	var completionSeconds float64
	if task.AssignedAt() != nil && task.CompletedAt() != nil {
		completionSeconds = task.CompletedAt().Sub(*task.AssignedAt()).Seconds()
	}
	s.hub.bus.Publish(ctx, events.Message{
		Topic: events.TopicTaskCompleted, Timestamp: time.Now(), TaskID: task.ID(), ReviewerID: s.reviewerID,
		NewResumeURL: newResumeURL, CompletionSeconds: completionSeconds,
	})
	s.sendOK("complete", task.ID())
}

func (s *session) handleFail(ctx context.Context, taskID, reason string) {
	if err := s.checkOwnership(ctx, taskID); err != nil {
		s.sendError(err.Error())
		return
	}
	task, err := s.hub.store.Fail(ctx, taskID, s.reviewerID, reason)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	s.hub.bus.Publish(ctx, events.Message{Topic: events.TopicTaskFailed, Timestamp: time.Now(), TaskID: task.ID(), ReviewerID: s.reviewerID, Reason: reason})
	s.sendOK("fail", task.ID())
}

func (s *session) sendOK(action, taskID string) {
	s.send(map[string]string{"status": "ok", "action": action, "task_id": taskID})
}

func (s *session) sendError(msg string) {
	s.send(map[string]string{"status": "error", "error": msg})
}

func (s *session) send(payload any) {
	if s.conn == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.conn.Write(ctx, websocket.MessageText, data)
}
