// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the AgentGate capability gateway.
//
// The gateway is the single JSON-RPC 2.0 entry point for agent traffic:
// - Routes dotted method names to stored procedures or in-process handlers
// - Enforces the database-backed capability catalog and per-agent ACLs
// - Validates parameters against registered JSON Schemas
// - Applies rate limits and circuit breakers per backend
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	DATABASE_URL - PostgreSQL connection string
//	REDIS_ADDR - Redis address for rate limiting (optional)
//	ADMIN_JWT_SECRET - Secret for admin endpoint tokens (optional)
package main

import (
	"agentgate/platform/gateway"
	"agentgate/platform/specialists"
)

func main() {
	suite := specialists.NewSuite(nil)
	gateway.Run(suite.Register)
}
