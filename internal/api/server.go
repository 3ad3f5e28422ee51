// Package api exposes the HTTP interface for the lead service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Decentralised-AI/aitino/internal/comment"
	"github.com/Decentralised-AI/aitino/internal/config"
	"github.com/Decentralised-AI/aitino/internal/lead"
	"github.com/Decentralised-AI/aitino/internal/metrics"
	"github.com/Decentralised-AI/aitino/internal/registry"
	"go.uber.org/zap"
)

// Server wires HTTP handlers to the registry, the comment pipeline, and
// the lead store.
type Server struct {
	router   chi.Router
	registry *registry.Registry
	pipeline *comment.Pipeline
	store    lead.Store
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	reg *registry.Registry,
	pipeline *comment.Pipeline,
	store lead.Store,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry: reg,
		pipeline: pipeline,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/rest", func(r chi.Router) {
		r.Post("/start", s.startStream)
		r.Post("/stop/{worker_id}", s.stopStream)
		r.Post("/generate-comment", s.generateComment)
		r.Post("/mark-lead-as-irrelevant", s.markLeadAsIrrelevant)
		r.Post("/publish-comment", s.publishComment)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startStreamRequest struct {
	WorkerID   string   `json:"worker_id"`
	Subreddits []string `json:"subreddits"`
}

func (s *Server) startStream(w http.ResponseWriter, r *http.Request) {
	var req startStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	subreddits := req.Subreddits
	if len(subreddits) == 0 {
		subreddits = s.cfg.Reddit.Subreddits
	}

	id, err := s.registry.Start(req.WorkerID, subreddits)
	if err != nil {
		if errors.Is(err, lead.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "worker already running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"worker_id": id})
}

func (s *Server) stopStream(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "worker_id")
	if err := s.registry.Stop(workerID); err != nil {
		if errors.Is(err, lead.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Worker not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Stream stopped"})
}

type generateCommentRequest struct {
	Title    string `json:"title"`
	Selftext string `json:"selftext"`
	LeadID   string `json:"lead_id,omitempty"`
}

func (s *Server) generateComment(w http.ResponseWriter, r *http.Request) {
	var req generateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	// user-initiated: failures surface immediately, no retry
	draft, err := s.pipeline.Generate(r.Context(), req.Title, req.Selftext)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if draft == "" {
		writeError(w, http.StatusNotFound, "comment not found")
		return
	}

	if req.LeadID != "" {
		if _, err := s.store.MarkCommentGenerated(r.Context(), req.LeadID); err != nil {
			s.logger.Warn("mark comment generated failed",
				zap.String("lead_id", req.LeadID),
				zap.Error(err),
			)
		}
	}
	writeJSON(w, http.StatusOK, draft)
}

type falseLeadRequest struct {
	LeadID        string `json:"lead_id"`
	SubmissionID  string `json:"submission_id"`
	CorrectReason string `json:"correct_reason"`
}

func (s *Server) markLeadAsIrrelevant(w http.ResponseWriter, r *http.Request) {
	var req falseLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.LeadID == "" {
		writeError(w, http.StatusBadRequest, "lead_id is required")
		return
	}

	l, err := s.store.Get(r.Context(), req.LeadID)
	if err != nil {
		if errors.Is(err, lead.ErrNotFound) {
			writeError(w, http.StatusNotFound, "lead not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.SubmissionID != "" && req.SubmissionID != l.SubmissionID {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}

	if _, err := s.store.MarkHumanReview(r.Context(), req.LeadID, false, req.CorrectReason); err != nil {
		if errors.Is(err, lead.ErrNotFound) {
			writeError(w, http.StatusNotFound, "lead not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

type publishCommentRequest struct {
	LeadID         string `json:"lead_id"`
	Comment        string `json:"comment"`
	RedditUsername string `json:"reddit_username"`
	RedditPassword string `json:"reddit_password"`
}

func (s *Server) publishComment(w http.ResponseWriter, r *http.Request) {
	var req publishCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.LeadID == "" || req.Comment == "" {
		writeError(w, http.StatusBadRequest, "lead_id and comment are required")
		return
	}

	creds := lead.Credentials{Username: req.RedditUsername, Password: req.RedditPassword}
	finalText, err := s.pipeline.Publish(r.Context(), req.LeadID, req.Comment, creds)
	if err != nil {
		if errors.Is(err, lead.ErrNotFound) {
			writeError(w, http.StatusNotFound, "lead not found")
			return
		}
		var pubErr *lead.PublishError
		if errors.As(err, &pubErr) {
			writeError(w, http.StatusBadGateway, pubErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, finalText)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
