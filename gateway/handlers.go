// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentgate/platform/shared/logger"
)

// Server is the HTTP surface of the gateway.
type Server struct {
	dispatcher *Dispatcher
	limiter    RateLimiter
	snapshots  *SnapshotHolder
	store      *Store
	admin      *AdminAuthenticator
	breakers   *BreakerSet
	appReady   *atomic.Bool
	log        *logger.Logger

	// reloadMu serializes /reload-config so concurrent reloads cannot
	// publish duplicate snapshot versions or drop one another's swap.
	reloadMu sync.Mutex
}

func NewServer(dispatcher *Dispatcher, limiter RateLimiter, snapshots *SnapshotHolder, store *Store, admin *AdminAuthenticator, breakers *BreakerSet, appReady *atomic.Bool, log *logger.Logger) *Server {
	return &Server{
		dispatcher: dispatcher,
		limiter:    limiter,
		snapshots:  snapshots,
		store:      store,
		admin:      admin,
		breakers:   breakers,
		appReady:   appReady,
		log:        log,
	}
}

// Register mounts the gateway endpoints on the given router. The /health
// endpoint is handled separately so it can respond before initialization
// finishes.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc("/rpc", s.handleRPC).Methods("POST")
	r.HandleFunc("/discover/{agentId}", s.handleDiscover).Methods("GET")
	r.HandleFunc("/reload-config", s.handleReloadConfig).Methods("POST")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Routes returns a standalone router with every endpoint, health included.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.Register(r)
	return r
}

const maxBodyBytes = 1 << 20

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !s.appReady.Load() {
		writeRPCError(w, http.StatusServiceUnavailable, nil,
			NewRPCError(CodeServiceUnavailable, KindInternal, "gateway is starting up"))
		return
	}

	agentID, err := AgentIDFromRequest(r)
	if err != nil {
		writeRPCError(w, http.StatusUnauthorized, nil,
			NewRPCError(CodeUnauthorized, KindAuthorizationDeny, err.Error()))
		return
	}

	allowed, _ := s.limiter.Allow(r.Context(), agentID)
	if !allowed {
		writeRPCError(w, http.StatusTooManyRequests, nil,
			NewRPCError(CodeRateLimited, KindRateLimited, "rate limit exceeded"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, nil,
			NewRPCError(CodeParseError, KindProtocol, "failed to read request body"))
		return
	}

	req, rpcErr := DecodeRequest(body)
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, nil, rpcErr)
		return
	}

	resp := s.dispatcher.Dispatch(r.Context(), agentID, req)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshots.Current()
	status := map[string]interface{}{
		"status":           "healthy",
		"ready":            s.appReady.Load(),
		"catalog_version":  snap.Version,
		"capabilities":     snap.CapabilityCount(),
		"known_agents":     snap.CallerCount(),
		"circuit_breakers": s.breakers.States(),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	}
	if !s.appReady.Load() {
		status["status"] = "starting"
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleDiscover lists the methods an agent is authorized to call,
// with descriptions and input schemas so agents can self-configure.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentId"]

	descriptors := s.snapshots.Current().MethodsFor(agentID)
	methods := make([]map[string]interface{}, 0, len(descriptors))
	for _, d := range descriptors {
		entry := map[string]interface{}{
			"method":      d.Method(),
			"description": d.Description,
		}
		if len(d.InputSchema) > 0 {
			entry["input_schema"] = json.RawMessage(d.InputSchema)
		}
		methods = append(methods, entry)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent_id": agentID,
		"methods":  methods,
	})
}

// handleReloadConfig rebuilds the configuration snapshot from the catalog
// tables and swaps it in atomically. In-flight requests finish on the
// snapshot they started with.
func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.Authorize(r); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	previous := s.snapshots.Current()
	snap, err := s.store.LoadSnapshot(ctx, previous.Version+1)
	if err != nil {
		s.log.Error("", "", "Config reload failed", map[string]interface{}{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to reload configuration"})
		return
	}

	s.snapshots.Swap(snap)
	s.log.Info("", "", "Configuration reloaded", map[string]interface{}{
		"version":      snap.Version,
		"capabilities": snap.CapabilityCount(),
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "reloaded",
		"version":      snap.Version,
		"capabilities": snap.CapabilityCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeRPCError(w http.ResponseWriter, status int, id json.RawMessage, rpcErr *RPCError) {
	writeJSON(w, status, newErrorResponse(id, rpcErr))
}
