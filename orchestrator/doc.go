// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator runs goal-directed executions against the gateway.
// Each goal is driven by a decision policy through a decide, call,
// evaluate loop with a hard iteration bound. Every step is persisted
// before the loop proceeds, so a crashed run can be inspected and the
// loop never silently loses work. Low-confidence or high-risk outcomes
// pause the run for human review; a reviewer decision resumes or fails it.
package orchestrator
