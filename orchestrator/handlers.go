// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentgate/platform/shared/logger"
)

// Server is the HTTP surface of the orchestrator.
type Server struct {
	engine *Engine
	store  ExecutionStore
	log    *logger.Logger
}

func NewServer(engine *Engine, store ExecutionStore) *Server {
	return &Server{engine: engine, store: store, log: logger.New("orchestrator")}
}

// Register mounts the goal endpoints on the given router.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc("/goals", s.handleSubmitGoal).Methods("POST")
	r.HandleFunc("/goals/{id}", s.handleGetGoal).Methods("GET")
	r.HandleFunc("/goals/{id}/resume", s.handleResumeGoal).Methods("POST")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Routes returns a standalone router with health included.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.Register(r)
	return r
}

// handleSubmitGoal runs a goal to its first stop: completion, failure or
// pause for review. The response carries the resulting execution state.
func (s *Server) handleSubmitGoal(w http.ResponseWriter, r *http.Request) {
	var goal map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&goal); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}
	if len(goal) == 0 {
		writeError(w, http.StatusBadRequest, "goal payload is empty")
		return
	}

	ec, err := s.engine.Start(r.Context(), goal)
	if err != nil {
		s.log.Error("", "", "Goal submission failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to start goal execution")
		return
	}

	writeJSON(w, http.StatusCreated, ec)
}

func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	goalID := mux.Vars(r)["id"]

	ec, err := s.store.LoadContext(r.Context(), goalID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ec)
}

type resumeRequest struct {
	Approved bool   `json:"approved"`
	Reviewer string `json:"reviewer"`
	Comment  string `json:"comment"`
}

func (s *Server) handleResumeGoal(w http.ResponseWriter, r *http.Request) {
	goalID := mux.Vars(r)["id"]

	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}
	if req.Reviewer == "" {
		writeError(w, http.StatusBadRequest, "reviewer is required")
		return
	}

	ec, err := s.engine.Resume(r.Context(), goalID, ReviewDecision{
		Approved: req.Approved,
		Reviewer: req.Reviewer,
		Comment:  req.Comment,
	})
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ec)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "agentgate-orchestrator",
		"timestamp": time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
