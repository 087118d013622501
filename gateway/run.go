// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/cors"

	"agentgate/platform/shared/logger"
)

// AgentGate Gateway - single JSON-RPC entry point for agent tool calls.
// Agents never talk to the database or other backends directly; every
// call is resolved, authorized and validated here first.

// Application readiness state for health checks
var appReady atomic.Bool

// Global router and server - allows health checks to pass immediately
// while initialization happens
var (
	globalRouter *mux.Router
	globalCORS   *cors.Cors
)

// initServerImmediately starts the HTTP server with just /health so
// load-balancer health checks pass during slow initialization (database
// connections, schema setup, catalog sync). Other routes are added after
// initialization completes; the server never restarts.
func initServerImmediately(port string) {
	globalRouter = mux.NewRouter()

	globalCORS = cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	globalRouter.HandleFunc("/health", readinessHealthHandler).Methods("GET")

	go func() {
		handler := globalCORS.Handler(globalRouter)
		log.Printf("🚀 AgentGate Gateway starting on port %s (status: starting)", port)
		if err := http.ListenAndServe(":"+port, handler); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Small delay to ensure the listener is accepting connections
	time.Sleep(50 * time.Millisecond)
	log.Println("✅ Health endpoint ready - initialization can proceed")
}

var globalServer atomic.Pointer[Server]

// readinessHealthHandler answers /health for the lifetime of the process.
// Before initialization completes it reports "starting"; afterwards it
// delegates to the full health handler with catalog and breaker state.
func readinessHealthHandler(w http.ResponseWriter, r *http.Request) {
	if srv := globalServer.Load(); srv != nil {
		srv.handleHealth(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "starting",
		"service":   "agentgate-gateway",
		"timestamp": time.Now().UTC(),
	}); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}

// Run is the exported entry point for the gateway service. Extra
// registrars let callers add in-process capabilities (specialist agents)
// without this package importing them.
func Run(extra ...func(*Registry) error) {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	initServerImmediately(cfg.Port)

	svcLogger := logger.New("gateway")

	// Database connection string may live in Secrets Manager
	databaseURL := cfg.DatabaseURL
	if databaseURL == "" && cfg.DatabaseURLSecretARN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		resolver, err := NewSecretResolver(ctx, cfg.AWSRegion, 5*time.Minute)
		if err != nil {
			cancel()
			log.Fatalf("Failed to build secrets resolver: %v", err)
		}
		databaseURL, err = resolver.DatabaseURL(ctx, cfg.DatabaseURLSecretARN)
		cancel()
		if err != nil {
			log.Fatalf("Failed to fetch database URL from Secrets Manager: %v", err)
		}
		log.Println("✅ Database URL loaded from Secrets Manager")
	}
	if databaseURL == "" {
		log.Fatal("DATABASE_URL or DATABASE_URL_SECRET_ARN must be set")
	}

	db, err := sql.Open("postgres", EnsurePoolCompatibleDSN(databaseURL))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	initCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := db.PingContext(initCtx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("✅ Database connection established")

	store := NewStore(db)
	if err := store.EnsureSchema(initCtx); err != nil {
		log.Fatalf("Failed to ensure catalog schema: %v", err)
	}

	registry := NewRegistry()
	registerDatabaseCapabilities(registry)
	for _, register := range extra {
		if err := register(registry); err != nil {
			log.Fatalf("Failed to register capabilities: %v", err)
		}
	}
	log.Printf("✅ Capability registry built (%d capabilities)", registry.Len())

	if err := store.SyncRegistry(initCtx, registry); err != nil {
		log.Fatalf("Failed to sync capability catalog: %v", err)
	}

	snap, err := store.LoadSnapshot(initCtx, 1)
	if err != nil {
		log.Fatalf("Failed to load configuration snapshot: %v", err)
	}
	snapshots := NewSnapshotHolder(snap)
	log.Printf("✅ Configuration snapshot loaded (version %d, %d capabilities, %d agents)",
		snap.Version, snap.CapabilityCount(), snap.CallerCount())

	breakers := NewBreakerSet(BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		CoolDown:         cfg.BreakerCoolDown,
	})

	invokers := map[BackendKind]Invoker{
		BackendProcedure: NewProcedureInvoker(db, breakers),
		BackendInProcess: NewLocalInvoker(registry),
	}
	dispatcher := NewDispatcher(snapshots, invokers, cfg.CallTimeout, svcLogger)

	var limiter RateLimiter
	if cfg.RedisAddr != "" {
		limiter = NewRedisRateLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RateLimitPerMinute, time.Minute)
		log.Printf("✅ Redis rate limiting enabled (%d calls/min per agent)", cfg.RateLimitPerMinute)
	} else {
		limiter = NewMemoryRateLimiter(cfg.RateLimitPerMinute, time.Minute)
		log.Println("⚠️  REDIS_ADDR not set - rate limits apply per instance only")
	}

	admin := NewAdminAuthenticator(cfg.AdminJWTSecret)
	if !admin.Enabled() {
		log.Println("⚠️  ADMIN_JWT_SECRET not set - /reload-config is disabled")
	}

	server := NewServer(dispatcher, limiter, snapshots, store, admin, breakers, &appReady, svcLogger)
	globalServer.Store(server)
	server.Register(globalRouter)

	appReady.Store(true)
	log.Println("✅ All initialization complete - application ready")
	log.Printf("🚀 AgentGate Gateway fully operational on port %s", cfg.Port)

	// Block forever - server is running in goroutine, nothing else to do
	select {}
}

// registerDatabaseCapabilities declares the stored-procedure methods the
// gateway exposes. Input schemas are enforced per call; allowed callers
// become catalog access rules on sync.
func registerDatabaseCapabilities(reg *Registry) {
	orchestrators := []string{"reasoning_orchestrator"}

	reg.MustRegister(Capability{
		Method:      "database.create_procurement",
		Description: "Create a procurement case and return its identifier",
		BackendKind: BackendProcedure,
		BackendRef:  "create_procurement",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["name", "value"],
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"value": {"type": "number"},
				"description": {"type": "string"},
				"category": {"type": "string"}
			}
		}`),
		AllowedCallers: orchestrators,
	})

	reg.MustRegister(Capability{
		Method:      "database.save_triage_result",
		Description: "Persist a triage assessment for a procurement case",
		BackendKind: BackendProcedure,
		BackendRef:  "save_triage_result",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["procurementId", "color"],
			"properties": {
				"procurementId": {"type": "string"},
				"color": {"type": "string", "enum": ["GRØNN", "GUL", "RØD"]},
				"reasoning": {"type": "string"},
				"confidence": {"type": "number", "minimum": 0, "maximum": 1}
			}
		}`),
		AllowedCallers: orchestrators,
	})

	reg.MustRegister(Capability{
		Method:      "database.set_procurement_status",
		Description: "Update the lifecycle status of a procurement case",
		BackendKind: BackendProcedure,
		BackendRef:  "set_procurement_status",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["procurementId", "status"],
			"properties": {
				"procurementId": {"type": "string"},
				"status": {"type": "string"}
			}
		}`),
		AllowedCallers: orchestrators,
	})

	reg.MustRegister(Capability{
		Method:      "database.save_protocol",
		Description: "Persist a generated competition protocol document",
		BackendKind: BackendProcedure,
		BackendRef:  "save_protocol",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["procurementId", "content"],
			"properties": {
				"procurementId": {"type": "string"},
				"content": {"type": "string"},
				"format": {"type": "string"}
			}
		}`),
		AllowedCallers: orchestrators,
	})

	reg.MustRegister(Capability{
		Method:      "database.log_execution",
		Description: "Append an execution audit row for a goal run",
		BackendKind: BackendProcedure,
		BackendRef:  "log_execution",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["goalId", "event"],
			"properties": {
				"goalId": {"type": "string"},
				"event": {"type": "string"},
				"detail": {"type": "object"}
			}
		}`),
		AllowedCallers: orchestrators,
	})
}
