// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the AgentGate reasoning orchestrator.
//
// The orchestrator executes goals through a decide-call-evaluate loop
// against the capability gateway, persisting every step and pausing for
// human review when a result demands it.
//
// Usage:
//
//	./orchestrator
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8081)
//	DATABASE_URL - PostgreSQL connection string
//	GATEWAY_URL - Base URL of the capability gateway (default: http://localhost:8080)
//	CONFIDENCE_CUTOFF - Review threshold for step confidence (default: 0.85)
package main

import (
	"agentgate/platform/orchestrator"
)

func main() {
	orchestrator.Run()
}
