// Copyright 2025 AgentGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package logger provides structured JSON logging for AgentGate components.

# Overview

The logger outputs single-line JSON to stdout, making entries directly
consumable by CloudWatch, ELK, or any other log aggregation stack.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (gateway, orchestrator)
  - Instance ID and container name (for distributed tracing)
  - Agent ID (which caller the entry belongs to)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("gateway")

Log messages with agent and request context:

	log.Info("triage_agent", "req-456", "Dispatching call", map[string]interface{}{
	    "method": "database.save_triage_result",
	})

Log per-call latency:

	start := time.Now()
	// ... dispatch ...
	log.InfoWithDuration("triage_agent", "req-456", "Call completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Environment Variables

  - INSTANCE_ID: deployment instance identifier
  - HOSTNAME: container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
