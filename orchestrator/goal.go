// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"fmt"
	"time"
)

// Goal execution states. COMPLETED and FAILED are terminal; a terminal
// execution never transitions again.
const (
	StateRunning   = "RUNNING"
	StatePaused    = "PAUSED_FOR_REVIEW"
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
)

// legalTransitions lists the permitted state changes.
var legalTransitions = map[string][]string{
	StateRunning: {StatePaused, StateCompleted, StateFailed},
	StatePaused:  {StateRunning, StateFailed},
}

// ExecutionStep records one gateway call made by the loop. Steps are
// persisted in order; Index is the position in the run.
type ExecutionStep struct {
	Index      int                    `json:"index"`
	Method     string                 `json:"method"`
	Params     map[string]interface{} `json:"params"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
}

// ReviewDecision is a human reviewer's verdict on a paused execution.
type ReviewDecision struct {
	Approved  bool      `json:"approved"`
	Reviewer  string    `json:"reviewer"`
	Comment   string    `json:"comment,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// ExecutionContext is the full durable state of one goal run.
type ExecutionContext struct {
	GoalID         string                 `json:"goal_id"`
	AgentID        string                 `json:"agent_id"`
	Goal           map[string]interface{} `json:"goal"`
	State          string                 `json:"state"`
	IterationCount int                    `json:"iteration_count"`
	MaxIterations  int                    `json:"max_iterations"`
	Steps          []ExecutionStep        `json:"steps"`
	PauseReason    string                 `json:"pause_reason,omitempty"`
	FailureReason  string                 `json:"failure_reason,omitempty"`
	Review         *ReviewDecision        `json:"review,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// Terminal reports whether the execution has reached a final state.
func (c *ExecutionContext) Terminal() bool {
	return c.State == StateCompleted || c.State == StateFailed
}

// Transition moves the execution to a new state, enforcing legality.
func (c *ExecutionContext) Transition(to string) error {
	for _, allowed := range legalTransitions[c.State] {
		if allowed == to {
			c.State = to
			c.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s for goal %s", c.State, to, c.GoalID)
}

// LastStep returns the most recent step, or nil for a fresh run.
func (c *ExecutionContext) LastStep() *ExecutionStep {
	if len(c.Steps) == 0 {
		return nil
	}
	return &c.Steps[len(c.Steps)-1]
}

// StepResult returns the result of the most recent successful call to
// the given method, searching backwards through the run.
func (c *ExecutionContext) StepResult(method string) (map[string]interface{}, bool) {
	for i := len(c.Steps) - 1; i >= 0; i-- {
		s := c.Steps[i]
		if s.Method == method && s.Error == "" && s.Result != nil {
			return s.Result, true
		}
	}
	return nil, false
}
