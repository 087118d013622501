// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// AgentGate Orchestrator - goal-directed execution over the gateway.
// It never touches backends directly; every action is an authorized
// gateway call made as one named agent.

// Run is the exported entry point for the orchestrator service.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8081)
//   - DATABASE_URL: PostgreSQL connection string for execution state
//   - GATEWAY_URL: base URL of the gateway (default: http://localhost:8080)
//   - AGENT_ID: caller identity for gateway calls (default: reasoning_orchestrator)
//   - MAX_ITERATIONS: loop bound per goal (default: 10)
//   - CONFIDENCE_CUTOFF: review threshold (default: 0.85)
func Run() {
	log.Println("Starting AgentGate Orchestrator...")

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL must be set")
	}

	db, err := sql.Open("postgres", databaseURL)
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

	store := NewPostgresStore(db)
	if err := store.EnsureSchema(initCtx); err != nil {
		log.Fatalf("Failed to ensure execution schema: %v", err)
	}
	log.Println("✅ Execution store ready")

	cfg := DefaultEngineConfig()
	cfg.AgentID = getEnv("AGENT_ID", cfg.AgentID)
	if v := os.Getenv("MAX_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("Invalid MAX_ITERATIONS: %v", err)
		}
		cfg.MaxIterations = n
	}
	if v := os.Getenv("CONFIDENCE_CUTOFF"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Fatalf("Invalid CONFIDENCE_CUTOFF: %v", err)
		}
		cfg.ConfidenceCutoff = f
	}

	gatewayURL := getEnv("GATEWAY_URL", "http://localhost:8080")
	client := NewGatewayClient(gatewayURL, cfg.AgentID)
	engine := NewEngine(client, store, ProcurementPolicy{}, nil, cfg)

	// Goals a previous process left RUNNING continue from their last
	// durable step before the server takes new traffic.
	if err := engine.Recover(context.Background()); err != nil {
		log.Fatalf("Failed to recover running goals: %v", err)
	}

	server := NewServer(engine, store)

	r := mux.NewRouter()
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	r.HandleFunc("/health", server.handleHealth).Methods("GET")
	server.Register(r)

	port := getEnv("PORT", "8081")
	handler := c.Handler(r)
	log.Printf("AgentGate Orchestrator listening on port %s (gateway: %s, agent: %s)", port, gatewayURL, cfg.AgentID)
	log.Fatal(http.ListenAndServe(":"+port, handler))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
